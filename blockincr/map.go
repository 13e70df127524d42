// Package blockincr implements spec.md §4.6's C9 component: the
// block-incremental backup map and the block-delta plan/stream a restore
// uses to read only the blocks a target file actually needs.
// Grounded on original_source/src/command/backup/blockMap.c (the
// per-(reference,bundle)-running-offset map encoding) and
// src/command/restore/blockRestore.c (dirty-block identification,
// reference grouping, contiguous-run merging into reads/super-blocks, and
// the varint block-header streaming state machine).
package blockincr

import (
	"encoding/binary"
	"sort"

	"github.com/pgbackrest/pgbackrest-sub008/ioerr"
)

// ChecksumSize is the raw SHA1 digest size stored per block.
const ChecksumSize = 20

// Item is one block map entry: the position is implicit (Map's index
// times the backup's block_size).
type Item struct {
	Reference uint32
	BundleID  uint64
	Offset    uint64 // byte offset of this block within the referenced bundle
	Checksum  [ChecksumSize]byte
}

// Map is a block map in file-block order, one Item per fixed-size block
// of the backed-up file (the last entry may describe a short block).
type Map []Item

type refBundleKey struct {
	reference uint32
	bundleID  uint64
}

type refBundleOffsetKey struct {
	reference uint32
	bundleID  uint64
	offset    uint64
}

// Encode serializes m in file-block order, per spec.md §4.6: each entry
// writes reference (varint), bundle_id (varint zigzag-delta against the
// prior entry with the same reference, or the raw value for that
// reference's first appearance), the 20-byte checksum, and an offset —
// the first time a (reference, bundle) pair appears the full offset is
// written, later appearances of that pair write a zigzag delta against
// the pair's running offset. This exploits that many consecutive blocks
// of a backup live contiguously in one bundle.
func Encode(m Map) []byte {
	var buf []byte

	lastBundle := map[uint32]uint64{}
	haveBundle := map[uint32]bool{}
	runningOffset := map[refBundleKey]uint64{}
	seenPair := map[refBundleKey]bool{}

	for _, item := range m {
		buf = putUvarint(buf, uint64(item.Reference))

		var bundleDelta int64
		if haveBundle[item.Reference] {
			bundleDelta = int64(item.BundleID) - int64(lastBundle[item.Reference])
		} else {
			bundleDelta = int64(item.BundleID)
		}
		buf = putVarintDelta(buf, bundleDelta)
		lastBundle[item.Reference] = item.BundleID
		haveBundle[item.Reference] = true

		buf = append(buf, item.Checksum[:]...)

		key := refBundleKey{item.Reference, item.BundleID}
		if !seenPair[key] {
			buf = putUvarint(buf, item.Offset)
			seenPair[key] = true
		} else {
			buf = putVarintDelta(buf, int64(item.Offset)-int64(runningOffset[key]))
		}
		runningOffset[key] = item.Offset
	}

	return buf
}

// Decode parses count entries from buf, the inverse of Encode. count is
// supplied by the caller (derived from the backed-up file's size and
// block_size) since the wire format carries no entry count or
// terminator of its own.
func Decode(buf []byte, count int) (Map, error) {
	m := make(Map, 0, count)
	pos := 0

	lastBundle := map[uint32]uint64{}
	haveBundle := map[uint32]bool{}
	runningOffset := map[refBundleKey]uint64{}
	seenPair := map[refBundleKey]bool{}

	for i := 0; i < count; i++ {
		ref, n := binary.Uvarint(buf[pos:])
		if n <= 0 {
			return nil, ioerr.New(ioerr.KindFormat, "blockincr: malformed reference varint")
		}
		pos += n
		reference := uint32(ref)

		bundleDeltaRaw, n := binary.Uvarint(buf[pos:])
		if n <= 0 {
			return nil, ioerr.New(ioerr.KindFormat, "blockincr: malformed bundle id varint")
		}
		pos += n
		bundleDelta := zigzagDecode(bundleDeltaRaw)

		var bundleID uint64
		if haveBundle[reference] {
			bundleID = uint64(int64(lastBundle[reference]) + bundleDelta)
		} else {
			bundleID = uint64(bundleDelta)
		}
		lastBundle[reference] = bundleID
		haveBundle[reference] = true

		if pos+ChecksumSize > len(buf) {
			return nil, ioerr.New(ioerr.KindFormat, "blockincr: truncated checksum")
		}
		var checksum [ChecksumSize]byte
		copy(checksum[:], buf[pos:pos+ChecksumSize])
		pos += ChecksumSize

		key := refBundleKey{reference, bundleID}
		var offset uint64
		if !seenPair[key] {
			offsetRaw, n := binary.Uvarint(buf[pos:])
			if n <= 0 {
				return nil, ioerr.New(ioerr.KindFormat, "blockincr: malformed offset varint")
			}
			pos += n
			offset = offsetRaw
			seenPair[key] = true
		} else {
			deltaRaw, n := binary.Uvarint(buf[pos:])
			if n <= 0 {
				return nil, ioerr.New(ioerr.KindFormat, "blockincr: malformed offset delta varint")
			}
			pos += n
			offset = uint64(int64(runningOffset[key]) + zigzagDecode(deltaRaw))
		}
		runningOffset[key] = offset

		m = append(m, Item{Reference: reference, BundleID: bundleID, Offset: offset, Checksum: checksum})
	}

	return m, nil
}

// positionsInSuperBlock returns, for every map entry, its 0-based
// position within the contiguous run of entries that share the same
// (reference, bundle, offset) — i.e. the same super-block, per spec.md
// §4.6's "blocks at the same offset belong to the same super-block."
// This is the block number a restore stream header must match.
func positionsInSuperBlock(m Map) []uint64 {
	pos := make([]uint64, len(m))
	var have bool
	var prevKey refBundleOffsetKey
	var counter uint64

	for i, item := range m {
		key := refBundleOffsetKey{item.Reference, item.BundleID, item.Offset}
		if !have || key != prevKey {
			counter = 0
		} else {
			counter++
		}
		pos[i] = counter
		prevKey = key
		have = true
	}
	return pos
}

// sortReferencesDesc returns refs sorted descending, the arbitrary stable
// order blockRestore.c uses ("This is an arbitrary choice as the order
// does not matter").
func sortReferencesDesc(refs []uint32) {
	sort.Slice(refs, func(i, j int) bool { return refs[i] > refs[j] })
}
