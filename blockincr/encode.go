package blockincr

import (
	"context"

	"github.com/pgbackrest/pgbackrest-sub008/filter"
	"github.com/pgbackrest/pgbackrest-sub008/iostream"
	"github.com/pgbackrest/pgbackrest-sub008/storage"
)

// EncodeSuperBlock packs blocks (in block-number order, starting at block
// 0) into the on-disk super-block layout DecodeSuperBlock reads back: a
// varint header per block (FlagContinue set on every block after the
// first; FlagSize set, followed by an explicit size varint, whenever the
// block is shorter than blockSize), the block's payload, and a trailing
// zero-header terminator. This is the backup-side counterpart to
// DecodeSuperBlock.
func EncodeSuperBlock(blocks [][]byte, blockSize uint64) []byte {
	var raw []byte
	for i, b := range blocks {
		var header uint64
		if i > 0 {
			header = FlagContinue
		}
		if uint64(len(b)) == blockSize {
			raw = putUvarint(raw, header)
		} else {
			raw = putUvarint(raw, header|FlagSize)
			raw = putUvarint(raw, uint64(len(b)))
		}
		raw = append(raw, b...)
	}
	return putUvarint(raw, 0) // terminator
}

// WriteSuperBlock encodes blocks into a super-block and writes it through
// store at params, optionally hashing/compressing/encrypting the bytes
// first via a *filter.Group built by newFilters — the write-side half of
// ApplyReads' read-then-decodeThroughFilters-then-DecodeSuperBlock chain,
// per spec.md §2's "a filter chain is attached, and the stream is copied
// into a write opened via C6/C7" interaction. If the chain includes a
// filter.HashFilter, its SHA1 digest of the bytes it saw (the whole
// encoded super-block when the hash is the first stage) is returned.
func WriteSuperBlock(ctx context.Context, store storage.Storage, params storage.WriteParams, blocks [][]byte, blockSize uint64, newFilters FilterGroupFactory) ([]byte, error) {
	raw := EncodeSuperBlock(blocks, blockSize)

	var group *filter.Group
	if newFilters != nil {
		group = newFilters()
		params.Filter = group
	}

	w, err := store.NewWrite(ctx, params)
	if err != nil {
		return nil, err
	}

	buf := iostream.NewBuffer(len(raw))
	buf.Cat(raw)
	if err := w.Write(buf); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return hashResult(group), nil
}

func hashResult(group *filter.Group) []byte {
	if group == nil {
		return nil
	}
	for _, f := range group.Filters() {
		if h, ok := f.(*filter.HashFilter); ok {
			if digest, ok := h.Result().([]byte); ok {
				return digest
			}
		}
	}
	return nil
}
