// Package pack implements spec.md §4.4's Pack: a typed key-value list
// used to serialize remote-storage command parameters and filter chains
// so a peer process can reconstruct them without sharing Go types.
// Grounded on original_source/src/storage/remote/protocol.c's use of
// PackRead/PackWrite (pckReadStrIdP, pckReadPackP, pckWriteStrIdP, ...)
// to carry a StorageRemoteFeature response and a filter-group
// description; the wire encoding itself (a type tag per field, varint
// lengths, little content besides what callers ask for) is original,
// since pack.c/pack.h were not part of the retrieved source.
package pack

import (
	"encoding/binary"
	"fmt"

	"github.com/pgbackrest/pgbackrest-sub008/ioerr"
)

type fieldType byte

const (
	typeEnd fieldType = iota
	typeBool
	typeU64
	typeI64
	typeStr
	typeBin
	typePack
	typeStrID
)

// Writer accumulates a sequence of typed fields into a Pack.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

func (w *Writer) putUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf = append(w.buf, tmp[:n]...)
}

func (w *Writer) putTag(t fieldType) { w.buf = append(w.buf, byte(t)) }

// Bool writes a boolean field.
func (w *Writer) Bool(v bool) *Writer {
	w.putTag(typeBool)
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
	return w
}

// U64 writes an unsigned integer field.
func (w *Writer) U64(v uint64) *Writer {
	w.putTag(typeU64)
	w.putUvarint(v)
	return w
}

// I64 writes a signed integer field, zigzag-encoded.
func (w *Writer) I64(v int64) *Writer {
	w.putTag(typeI64)
	w.putUvarint(uint64((v << 1) ^ (v >> 63)))
	return w
}

// Str writes a UTF-8 string field.
func (w *Writer) Str(v string) *Writer {
	w.putTag(typeStr)
	w.putUvarint(uint64(len(v)))
	w.buf = append(w.buf, v...)
	return w
}

// Bin writes a raw byte-slice field (e.g. a checksum or a block of
// file data).
func (w *Writer) Bin(v []byte) *Writer {
	w.putTag(typeBin)
	w.putUvarint(uint64(len(v)))
	w.buf = append(w.buf, v...)
	return w
}

// StrID writes a short canonical identifier (a command name or filter
// key), distinguished from Str so readers can reject a value where an
// identifier was expected.
func (w *Writer) StrID(v string) *Writer {
	w.putTag(typeStrID)
	w.putUvarint(uint64(len(v)))
	w.buf = append(w.buf, v...)
	return w
}

// Pack embeds a nested Pack, e.g. a filter-chain description within a
// STORAGE_OPEN_READ request.
func (w *Writer) Pack(nested *Writer) *Writer {
	w.putTag(typePack)
	body := nested.Bytes()
	w.putUvarint(uint64(len(body)))
	w.buf = append(w.buf, body...)
	return w
}

// Bytes returns the encoded Pack, terminated so a Reader knows where it
// ends.
func (w *Writer) Bytes() []byte {
	out := make([]byte, len(w.buf)+1)
	copy(out, w.buf)
	out[len(w.buf)] = byte(typeEnd)
	return out
}

// Reader walks a Pack produced by Writer.Bytes, one typed field at a
// time.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader over buf (as produced by Writer.Bytes).
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

func (r *Reader) peekTag() (fieldType, error) {
	if r.pos >= len(r.buf) {
		return 0, ioerr.New(ioerr.KindFormat, "pack: read past end of buffer")
	}
	return fieldType(r.buf[r.pos]), nil
}

func (r *Reader) takeTag(want fieldType) error {
	got, err := r.peekTag()
	if err != nil {
		return err
	}
	if got != want {
		return ioerr.New(ioerr.KindFormat, fmt.Sprintf("pack: expected field type %d, got %d", want, got))
	}
	r.pos++
	return nil
}

func (r *Reader) getUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, ioerr.New(ioerr.KindFormat, "pack: malformed varint")
	}
	r.pos += n
	return v, nil
}

// Done reports whether the next field is the Pack's end marker, without
// consuming it — used as a loop condition over a variable-length list
// the way original_source/.../protocol.c loops with pckReadNullP.
func (r *Reader) Done() bool {
	tag, err := r.peekTag()
	return err != nil || tag == typeEnd
}

// Bool reads a boolean field.
func (r *Reader) Bool() (bool, error) {
	if err := r.takeTag(typeBool); err != nil {
		return false, err
	}
	if r.pos >= len(r.buf) {
		return false, ioerr.New(ioerr.KindFormat, "pack: truncated bool field")
	}
	v := r.buf[r.pos] != 0
	r.pos++
	return v, nil
}

// U64 reads an unsigned integer field.
func (r *Reader) U64() (uint64, error) {
	if err := r.takeTag(typeU64); err != nil {
		return 0, err
	}
	return r.getUvarint()
}

// I64 reads a signed integer field.
func (r *Reader) I64() (int64, error) {
	if err := r.takeTag(typeI64); err != nil {
		return 0, err
	}
	u, err := r.getUvarint()
	if err != nil {
		return 0, err
	}
	return int64(u>>1) ^ -int64(u&1), nil
}

// Str reads a UTF-8 string field.
func (r *Reader) Str() (string, error) {
	if err := r.takeTag(typeStr); err != nil {
		return "", err
	}
	n, err := r.getUvarint()
	if err != nil {
		return "", err
	}
	if r.pos+int(n) > len(r.buf) {
		return "", ioerr.New(ioerr.KindFormat, "pack: truncated string field")
	}
	v := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return v, nil
}

// Bin reads a raw byte-slice field.
func (r *Reader) Bin() ([]byte, error) {
	if err := r.takeTag(typeBin); err != nil {
		return nil, err
	}
	n, err := r.getUvarint()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, ioerr.New(ioerr.KindFormat, "pack: truncated binary field")
	}
	v := append([]byte(nil), r.buf[r.pos:r.pos+int(n)]...)
	r.pos += int(n)
	return v, nil
}

// StrID reads a short canonical identifier field.
func (r *Reader) StrID() (string, error) {
	if err := r.takeTag(typeStrID); err != nil {
		return "", err
	}
	n, err := r.getUvarint()
	if err != nil {
		return "", err
	}
	if r.pos+int(n) > len(r.buf) {
		return "", ioerr.New(ioerr.KindFormat, "pack: truncated string-id field")
	}
	v := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return v, nil
}

// Pack reads a nested Pack field and returns a Reader over it.
func (r *Reader) Pack() (*Reader, error) {
	if err := r.takeTag(typePack); err != nil {
		return nil, err
	}
	n, err := r.getUvarint()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, ioerr.New(ioerr.KindFormat, "pack: truncated nested pack field")
	}
	sub := NewReader(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return sub, nil
}
