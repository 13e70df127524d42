package filter

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/pgbackrest/pgbackrest-sub008/iostream"
)

// aes256KeySize is the key size for aes-256-cbc, the cipher
// original_source/test/src/module/crypto/cipherBlockTest.c fixes as
// pgbackrest's on-disk block cipher.
const aes256KeySize = 32

// pbkdf2Iterations and pbkdf2Salt derive a 32-byte AES-256 key from a
// passphrase when the caller supplies one instead of a raw key, mirroring
// the EVP_BytesToKey/PBKDF2-equivalent derivation cipherBlock.c performs.
const pbkdf2Iterations = 10000

var pbkdf2Salt = []byte("pgbackrest-sub008-block-cipher")

// DeriveKey derives a 32-byte AES-256 key from a passphrase. If passphrase
// is already exactly 32 bytes it is used as the raw key unchanged.
func DeriveKey(passphrase []byte) []byte {
	if len(passphrase) == aes256KeySize {
		return passphrase
	}
	return pbkdf2.Key(passphrase, pbkdf2Salt, pbkdf2Iterations, aes256KeySize, sha256.New)
}

// EncryptFilter encrypts with AES-256-CBC, prefixing the ciphertext with a
// random IV, per pgbackrest's real on-disk cipher format
// (cryptoTest.c / cipherBlockTest.c fix "aes-256-cbc"). Like CompressFilter
// it buffers input and transforms once at flush.
type EncryptFilter struct {
	block   cipher.Block
	accum   bytes.Buffer
	out     []byte
	outPos  int
	flushed bool
	done    bool
}

// NewEncryptFilter returns an AES-256-CBC encrypt filter for the given
// 32-byte key (see DeriveKey).
func NewEncryptFilter(key []byte) (*EncryptFilter, error) {
	b, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("filter: aes cipher init: %w", err)
	}
	return &EncryptFilter{block: b}, nil
}

// Name implements Filter.
func (*EncryptFilter) Name() string { return "aes-256-cbc-encrypt" }

// Feed implements Filter.
func (f *EncryptFilter) Feed(input *iostream.Buffer, output *iostream.Buffer) error {
	if input != nil {
		f.accum.Write(input.Bytes())
		input.Reset()
		return nil
	}

	if !f.flushed {
		f.flushed = true
		f.out = encryptCBC(f.block, f.accum.Bytes())
	}

	n := copy(output.RemainsPtr(), f.out[f.outPos:])
	output.UsedSet(output.Used() + n)
	f.outPos += n
	if f.outPos >= len(f.out) {
		f.done = true
	}
	return nil
}

// InputSame implements Filter.
func (*EncryptFilter) InputSame() bool { return false }

// Done implements Filter.
func (f *EncryptFilter) Done() bool { return f.done }

// Result implements Filter; encryption carries no opaque result.
func (*EncryptFilter) Result() interface{} { return nil }

func encryptCBC(block cipher.Block, plain []byte) []byte {
	padded := pkcs7Pad(plain, aes.BlockSize)

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		panic("filter: failed to read random IV: " + err.Error())
	}

	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out
}

// DecryptFilter reverses EncryptFilter: it reads the IV prefix, decrypts,
// and strips PKCS#7 padding.
type DecryptFilter struct {
	block   cipher.Block
	accum   bytes.Buffer
	out     []byte
	outPos  int
	flushed bool
	done    bool
}

// NewDecryptFilter returns an AES-256-CBC decrypt filter for the given
// 32-byte key.
func NewDecryptFilter(key []byte) (*DecryptFilter, error) {
	b, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("filter: aes cipher init: %w", err)
	}
	return &DecryptFilter{block: b}, nil
}

// Name implements Filter.
func (*DecryptFilter) Name() string { return "aes-256-cbc-decrypt" }

// Feed implements Filter.
func (f *DecryptFilter) Feed(input *iostream.Buffer, output *iostream.Buffer) error {
	if input != nil {
		f.accum.Write(input.Bytes())
		input.Reset()
		return nil
	}

	if !f.flushed {
		f.flushed = true
		plain, err := decryptCBC(f.block, f.accum.Bytes())
		if err != nil {
			return err
		}
		f.out = plain
	}

	n := copy(output.RemainsPtr(), f.out[f.outPos:])
	output.UsedSet(output.Used() + n)
	f.outPos += n
	if f.outPos >= len(f.out) {
		f.done = true
	}
	return nil
}

// InputSame implements Filter.
func (*DecryptFilter) InputSame() bool { return false }

// Done implements Filter.
func (f *DecryptFilter) Done() bool { return f.done }

// Result implements Filter.
func (*DecryptFilter) Result() interface{} { return nil }

func decryptCBC(block cipher.Block, data []byte) ([]byte, error) {
	if len(data) < aes.BlockSize || (len(data)-aes.BlockSize)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("filter: ciphertext is not a multiple of the block size")
	}
	iv := data[:aes.BlockSize]
	ct := data[aes.BlockSize:]

	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)

	return pkcs7Unpad(out)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("filter: cannot unpad empty data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, fmt.Errorf("filter: invalid PKCS#7 padding")
	}
	return data[:len(data)-padLen], nil
}
