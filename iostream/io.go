package iostream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Processor is the narrow view of filter.Group that IoRead/IoWrite depend
// on; declared here (rather than importing the filter package) to avoid an
// import cycle, since filter.Group itself is built on Buffer.
type Processor interface {
	Process(input *Buffer, output *Buffer) error
	InputSame() bool
	Done() bool
}

// identityProcessor is the zero-filter pipeline used when no Processor is
// supplied: bytes pass through unchanged.
type identityProcessor struct{ eof bool }

func (p *identityProcessor) Process(input *Buffer, output *Buffer) error {
	if input == nil {
		p.eof = true
		return nil
	}
	output.Cat(input.Bytes())
	input.Reset()
	return nil
}
func (*identityProcessor) InputSame() bool { return false }
func (p *identityProcessor) Done() bool    { return p.eof }

// driverChunk is the scratch size used to pull bytes from the underlying
// driver before handing them to the filter group.
const driverChunk = 64 * 1024

// IoRead is spec.md's C2 read stream: a driver (POSIX fd, TLS session,
// HTTP body, in-memory) with an attached filter group.
type IoRead struct {
	driver      io.Reader
	group       Processor
	nonBlocking bool

	driverBuf []byte
	eof       bool
	closed    bool
}

// NewIoRead wraps driver with group (pass nil for an identity pipeline).
func NewIoRead(driver io.Reader, group Processor) *IoRead {
	if group == nil {
		group = &identityProcessor{}
	}
	return &IoRead{driver: driver, group: group, driverBuf: make([]byte, driverChunk)}
}

// SetNonBlocking switches between blocking (fill until buffer-full or EOF)
// and non-blocking (return as soon as any bytes arrive) semantics, per
// spec.md §4.1.
func (r *IoRead) SetNonBlocking(v bool) { r.nonBlocking = v }

// Read fills buf per spec.md §4.1's loop: while buf has room and the
// filter group isn't done, pull more from the driver (or re-process
// cached input if the group asked for it) until the buffer is full (or,
// in non-blocking mode, until any bytes have arrived) or the driver is
// exhausted. It returns whether end-of-stream was reached.
func (r *IoRead) Read(buf *Buffer) (eofOut bool, err error) {
	if r.closed {
		return false, fmt.Errorf("iostream: read on closed stream")
	}

	gotAny := false

	for buf.Remains() > 0 && !r.group.Done() {
		if r.group.InputSame() {
			if err := r.group.Process(nil, buf); err != nil {
				return false, err
			}
			gotAny = true
			if r.nonBlocking {
				break
			}
			continue
		}

		if r.eof {
			if err := r.group.Process(nil, buf); err != nil {
				return false, err
			}
			continue
		}

		n, rerr := r.driver.Read(r.driverBuf)
		if n > 0 {
			in := NewBuffer(n)
			in.Cat(r.driverBuf[:n])
			if perr := r.group.Process(in, buf); perr != nil {
				return false, perr
			}
			gotAny = true
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				r.eof = true
				continue
			}
			return false, fmt.Errorf("iostream: driver read: %w", rerr)
		}

		if r.nonBlocking && gotAny {
			break
		}
	}

	return r.group.Done(), nil
}

// ReadLine scans for a trailing '\n', reading more from the stream as
// needed; it fails if buf fills without finding a newline (spec.md §4.1).
func (r *IoRead) ReadLine(buf *Buffer) (line []byte, err error) {
	for {
		if i := bytes.IndexByte(buf.Bytes(), '\n'); i >= 0 {
			line = append([]byte{}, buf.Bytes()[:i]...)
			rest := append([]byte{}, buf.Bytes()[i+1:]...)
			buf.Reset()
			buf.Cat(rest)
			return line, nil
		}

		if buf.Remains() == 0 {
			return nil, fmt.Errorf("iostream: line exceeds buffer size %d", buf.Size())
		}

		before := buf.Used()
		eof, err := r.Read(buf)
		if err != nil {
			return nil, err
		}
		if eof && buf.Used() == before {
			return nil, io.EOF
		}
	}
}

// Close closes the underlying driver if it implements io.Closer. A closed
// stream may not be reopened, per spec.md §4.1's error semantics.
func (r *IoRead) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if c, ok := r.driver.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// IoWrite is spec.md's C2 write stream: a driver sink with an attached
// filter group, buffering output and flushing to the driver whenever the
// internal output buffer fills.
type IoWrite struct {
	driver io.Writer
	group  Processor
	out    *Buffer
	closed bool
}

// NewIoWrite wraps driver with group (pass nil for an identity pipeline).
func NewIoWrite(driver io.Writer, group Processor) *IoWrite {
	if group == nil {
		group = &identityProcessor{}
	}
	return &IoWrite{driver: driver, group: group, out: NewBuffer(driverChunk)}
}

// Write pushes buf through the filter group, flushing to the driver
// whenever the internal output buffer fills.
func (w *IoWrite) Write(buf *Buffer) error {
	if w.closed {
		return fmt.Errorf("iostream: write on closed stream")
	}

	data := buf.Bytes()
	for len(data) > 0 || w.group.InputSame() {
		var chunk *Buffer
		if !w.group.InputSame() {
			n := len(data)
			chunk = NewBuffer(n)
			chunk.Cat(data)
			data = nil
		}

		if err := w.group.Process(chunk, w.out); err != nil {
			return err
		}

		if w.out.Remains() == 0 {
			if err := w.flush(); err != nil {
				return err
			}
		}
	}
	buf.Reset()
	return nil
}

func (w *IoWrite) flush() error {
	if w.out.Used() == 0 {
		return nil
	}
	if _, err := w.driver.Write(w.out.Bytes()); err != nil {
		return fmt.Errorf("iostream: driver write: %w", err)
	}
	w.out.Reset()
	return nil
}

// Close flushes the filter group (feeding nil until Done) and the final
// driver buffer, then closes the driver if it implements io.Closer.
func (w *IoWrite) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	for !w.group.Done() {
		if err := w.group.Process(nil, w.out); err != nil {
			return err
		}
		if w.out.Remains() == 0 || w.group.Done() {
			if err := w.flush(); err != nil {
				return err
			}
		}
	}
	if err := w.flush(); err != nil {
		return err
	}

	if c, ok := w.driver.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
