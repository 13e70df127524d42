package blockincr

import (
	"encoding/binary"

	"github.com/pgbackrest/pgbackrest-sub008/ioerr"
)

// Block is one block a restore needs, positioned within its super-block.
type Block struct {
	No     uint64 // position within the super block
	Offset uint64 // position in the destination (restored) file
}

// SuperBlock is a contiguous run of blocks sharing one (reference,
// bundle, offset) in the block map.
type SuperBlock struct {
	Blocks []Block
}

// Read is one bundle region that must be opened and streamed to recover
// a set of dirty blocks, per spec.md §4.6.
type Read struct {
	Reference   uint32
	BundleID    uint64
	Offset      uint64
	SuperBlocks []SuperBlock
}

// Write is one block to apply to the destination file, per spec.md
// §4.6's BlockDeltaWrite.
type Write struct {
	Offset uint64
	Block  []byte
}

// Dirty returns the indices of m's blocks that must be restored: those
// beyond the current file's block checksums, or whose checksum differs
// from current's at the same position.
func Dirty(m Map, current [][ChecksumSize]byte) []int {
	var dirty []int
	for i, item := range m {
		if i >= len(current) || current[i] != item.Checksum {
			dirty = append(dirty, i)
		}
	}
	return dirty
}

// BuildReads groups dirty block indices into Reads and SuperBlocks, per
// spec.md §4.6's delta computation: reference groups are sorted
// descending, and within a reference, consecutive dirty blocks merge
// into the same Read whenever they are contiguous (blockSize apart) or
// share the same bundle offset (the same super-block); any other
// transition opens a new Read.
//
// Contiguity is judged purely from blockSize, since Item (per the block
// map's own definition) carries no per-block size — the true size of a
// short final block is only recoverable from its super-block's own
// FLAG_SIZE header at decode time, not from the map.
func BuildReads(m Map, blockSize uint64, dirty []int) []Read {
	positions := positionsInSuperBlock(m)

	byRef := map[uint32][]int{}
	var refs []uint32
	for _, idx := range dirty {
		ref := m[idx].Reference
		if _, ok := byRef[ref]; !ok {
			refs = append(refs, ref)
		}
		byRef[ref] = append(byRef[ref], idx)
	}
	sortReferencesDesc(refs)

	var reads []Read
	for _, ref := range refs {
		indices := byRef[ref]

		var curRead *Read
		var curSuper *SuperBlock
		havePrior := false
		var priorItem Item

		for _, idx := range indices {
			item := m[idx]

			newRead := !havePrior ||
				(priorItem.Offset != item.Offset && priorItem.Offset+blockSize != item.Offset)
			newSuperBlock := !havePrior || priorItem.Offset != item.Offset

			if newRead {
				reads = appendRead(reads, curRead, curSuper)
				curRead = &Read{Reference: item.Reference, BundleID: item.BundleID, Offset: item.Offset}
				curSuper = nil
			}
			if newSuperBlock {
				if curSuper != nil {
					curRead.SuperBlocks = append(curRead.SuperBlocks, *curSuper)
				}
				curSuper = &SuperBlock{}
			}

			curSuper.Blocks = append(curSuper.Blocks, Block{No: positions[idx], Offset: uint64(idx) * blockSize})

			havePrior = true
			priorItem = item
		}

		reads = appendRead(reads, curRead, curSuper)
	}

	return reads
}

func appendRead(reads []Read, read *Read, super *SuperBlock) []Read {
	if read == nil {
		return reads
	}
	if super != nil {
		read.SuperBlocks = append(read.SuperBlocks, *super)
	}
	return append(reads, *read)
}

// DecodeSuperBlock walks one already-decrypted/decompressed super-block
// region (raw), per spec.md §8's on-disk block layout: a varint header
// per block, FLAG_SIZE marking a trailing explicit size for a short
// final block, and a header of 0 after the first block marking the
// super-block's end. It emits a Write for every block whose position
// matches one of expected's block numbers.
func DecodeSuperBlock(raw []byte, blockSize uint64, expected []Block) ([]Write, error) {
	var out []Write
	pos := 0
	var blockNo uint64
	expectedIdx := 0

	for pos < len(raw) {
		header, n := binary.Uvarint(raw[pos:])
		if n <= 0 {
			return nil, ioerr.New(ioerr.KindFormat, "blockincr: malformed block header")
		}
		pos += n

		if blockNo != 0 && header == 0 {
			break
		}

		size := blockSize
		if header&FlagSize != 0 {
			sz, n2 := binary.Uvarint(raw[pos:])
			if n2 <= 0 {
				return nil, ioerr.New(ioerr.KindFormat, "blockincr: malformed block size")
			}
			pos += n2
			size = sz
		}

		if pos+int(size) > len(raw) {
			return nil, ioerr.New(ioerr.KindFormat, "blockincr: truncated block payload")
		}
		payload := raw[pos : pos+int(size)]
		pos += int(size)

		if expectedIdx < len(expected) && blockNo == expected[expectedIdx].No {
			block := append([]byte(nil), payload...)
			out = append(out, Write{Offset: expected[expectedIdx].Offset, Block: block})
			expectedIdx++
		}

		blockNo++
	}

	return out, nil
}
