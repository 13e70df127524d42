package blockincr

import (
	"bytes"
	"context"
	"io"

	"github.com/pgbackrest/pgbackrest-sub008/filter"
	"github.com/pgbackrest/pgbackrest-sub008/iostream"
	"github.com/pgbackrest/pgbackrest-sub008/storage"
)

// SuperBlockSize reports the on-disk byte size of one already-encoded
// super-block, since a restore must range-read exactly that many bytes
// from the bundle before handing them to the filter pipeline.
type SuperBlockSize func(read *Read, superBlockIndex int) int64

// FilterGroupFactory builds a fresh filter pipeline for one super-block:
// decrypt/decompress on the restore side (ApplyReads), mirroring
// blockRestoreNext's per-super-block cipher and decompress filters
// (spec.md §4.6), or hash/compress/encrypt on the backup side
// (WriteSuperBlock). A nil factory means the bundle's super-blocks are
// stored unfiltered.
type FilterGroupFactory func() *filter.Group

// ApplyReads walks read in bundle order, fetching each Read's
// super-blocks from bundlePath in store and decoding the blocks a restore
// actually needs out of them, per spec.md §4.6 and §8's on-disk block
// layout. Each super-block is range-read at its bundle offset (advanced
// by sizeOf after every super-block), run through a fresh filter chain
// from newFilters, and parsed with DecodeSuperBlock.
func ApplyReads(ctx context.Context, store storage.Storage, bundlePath string, reads []Read, sizeOf SuperBlockSize, blockSize uint64, newFilters FilterGroupFactory) ([]Write, error) {
	var out []Write

	for i := range reads {
		read := &reads[i]
		offset := int64(read.Offset)

		for sbIdx := range read.SuperBlocks {
			super := &read.SuperBlocks[sbIdx]
			size := sizeOf(read, sbIdx)

			raw, err := readBundleRange(ctx, store, bundlePath, offset, size)
			if err != nil {
				return nil, err
			}

			decoded, err := decodeThroughFilters(raw, newFilters)
			if err != nil {
				return nil, err
			}

			writes, err := DecodeSuperBlock(decoded, blockSize, super.Blocks)
			if err != nil {
				return nil, err
			}
			out = append(out, writes...)

			offset += size
		}
	}

	return out, nil
}

// readBundleRange fetches exactly size bytes of bundlePath starting at
// offset, fully draining the stream into memory: a decrypt/decompress
// pipeline needs the whole super-block's encoded bytes before it can
// produce any decoded output.
func readBundleRange(ctx context.Context, store storage.Storage, bundlePath string, offset, size int64) ([]byte, error) {
	r, err := store.NewRead(ctx, storage.ReadParams{Name: bundlePath, Offset: offset, Limit: size})
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var raw []byte
	buf := iostream.NewBuffer(64 * 1024)
	for {
		eof, err := r.Read(buf)
		if err != nil {
			return nil, err
		}
		raw = append(raw, buf.Bytes()...)
		buf.Reset()
		if eof {
			break
		}
	}
	return raw, nil
}

// decodeThroughFilters runs raw (one super-block's encoded bytes) through
// a fresh filter chain from newFilters (nil means pass through unchanged)
// via an iostream.IoRead, draining the decoded output into memory.
func decodeThroughFilters(raw []byte, newFilters FilterGroupFactory) ([]byte, error) {
	var group *filter.Group
	if newFilters != nil {
		group = newFilters()
	}

	var processor iostream.Processor
	if group != nil {
		processor = group
	}

	r := iostream.NewIoRead(io.NopCloser(bytes.NewReader(raw)), processor)
	defer r.Close()

	var decoded []byte
	buf := iostream.NewBuffer(64 * 1024)
	for {
		eof, err := r.Read(buf)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, buf.Bytes()...)
		buf.Reset()
		if eof {
			break
		}
	}
	return decoded, nil
}
