package blockincr

import "encoding/binary"

// FlagSize marks a block record's header as carrying a trailing size
// varint because the block is short (the final, non-block_size block of
// its super-block), per spec.md §8's on-disk block layout.
const FlagSize uint64 = 0x01

// FlagContinue is set in the header of every block after the first in a
// super-block, so a later full-size block never carries a zero header: a
// zero header after the first block is the super-block's terminator.
const FlagContinue uint64 = 0x02

func putUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// putVarintDelta writes a signed delta, zigzag-encoded so small negative
// and positive deltas both cost one byte, matching the running-offset
// and bundle-id deltas spec.md §4.6 describes for the block map.
func putVarintDelta(buf []byte, v int64) []byte {
	return putUvarint(buf, zigzagEncode(v))
}

func zigzagEncode(v int64) uint64 { return uint64((v << 1) ^ (v >> 63)) }
func zigzagDecode(v uint64) int64 { return int64(v>>1) ^ -int64(v&1) }
