package filter

import (
	"crypto/sha1" //nolint:gosec // spec-fixed: block checksums are SHA1 per spec.md's data model
	"hash"

	"github.com/pgbackrest/pgbackrest-sub008/iostream"
)

// HashFilter feeds every byte that passes through it into a running SHA1
// digest while copying input to output unchanged, so it can sit anywhere
// in a write chain (e.g. archive-push: SHA1 + compress + encrypt).
// checksum(20 bytes) is spec.md's block-map hash algorithm, so SHA1 is
// fixed by the data model, not a configurable choice.
type HashFilter struct {
	h    hash.Hash
	done bool
}

// NewHashFilter returns a new SHA1 HashFilter.
func NewHashFilter() *HashFilter {
	return &HashFilter{h: sha1.New()} //nolint:gosec
}

// Name implements Filter.
func (*HashFilter) Name() string { return "sha1" }

// Feed implements Filter: copies input to output and updates the digest.
func (f *HashFilter) Feed(input *iostream.Buffer, output *iostream.Buffer) error {
	if input == nil {
		f.done = true
		return nil
	}
	b := input.Bytes()
	f.h.Write(b)
	output.Cat(b)
	input.Reset()
	return nil
}

// InputSame implements Filter: this filter always fully consumes its input.
func (*HashFilter) InputSame() bool { return false }

// Done implements Filter.
func (f *HashFilter) Done() bool { return f.done }

// Result implements Filter, returning the 20-byte SHA1 digest as []byte.
func (f *HashFilter) Result() interface{} {
	return f.h.Sum(nil)
}
