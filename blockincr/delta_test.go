package blockincr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirtyFindsMissingAndMismatchedBlocks(t *testing.T) {
	m := Map{
		{Checksum: checksum(1)},
		{Checksum: checksum(2)},
		{Checksum: checksum(3)},
	}
	current := [][ChecksumSize]byte{checksum(1), checksum(9)}

	got := Dirty(m, current)
	require.Equal(t, []int{1, 2}, got)
}

func TestDirtyEmptyWhenEverythingMatches(t *testing.T) {
	m := Map{{Checksum: checksum(1)}, {Checksum: checksum(2)}}
	current := [][ChecksumSize]byte{checksum(1), checksum(2)}
	require.Empty(t, Dirty(m, current))
}

func TestBuildReadsMergesAdjacentSuperBlocksIntoOneRead(t *testing.T) {
	// Each of these three blocks lives at a different bundle offset, so
	// each is its own super-block, but the offsets are exactly blockSize
	// apart: the bundle region is contiguous, so a restore can cover all
	// three with a single Read (one storage range-read, three super-blocks).
	const blockSize = 16
	m := Map{
		{Reference: 1, BundleID: 1, Offset: 0},
		{Reference: 1, BundleID: 1, Offset: 16},
		{Reference: 1, BundleID: 1, Offset: 32},
	}
	dirty := []int{0, 1, 2}

	reads := BuildReads(m, blockSize, dirty)
	require.Len(t, reads, 1)
	require.Equal(t, uint32(1), reads[0].Reference)
	require.Equal(t, uint64(0), reads[0].Offset)
	require.Len(t, reads[0].SuperBlocks, 3)
	require.Equal(t, []Block{{No: 0, Offset: 0}}, reads[0].SuperBlocks[0].Blocks)
	require.Equal(t, []Block{{No: 0, Offset: blockSize}}, reads[0].SuperBlocks[1].Blocks)
	require.Equal(t, []Block{{No: 0, Offset: 2 * blockSize}}, reads[0].SuperBlocks[2].Blocks)
}

func TestBuildReadsSplitsNonContiguousBlocksIntoSeparateReads(t *testing.T) {
	const blockSize = 16
	m := Map{
		{Reference: 1, BundleID: 1, Offset: 0},
		{Reference: 1, BundleID: 1, Offset: 200}, // not contiguous with the first
	}
	dirty := []int{0, 1}

	reads := BuildReads(m, blockSize, dirty)
	require.Len(t, reads, 2)
	require.Equal(t, uint64(0), reads[0].Offset)
	require.Equal(t, uint64(200), reads[1].Offset)
}

func TestBuildReadsStartsNewSuperBlockOnOffsetChangeEvenWhenSameRead(t *testing.T) {
	const blockSize = 16
	// Two blocks at offset 0 (same super block), then one at offset 16
	// (contiguous, so still the same Read, but a new super block since
	// its offset differs from the prior block's).
	m := Map{
		{Reference: 1, BundleID: 1, Offset: 0},
		{Reference: 1, BundleID: 1, Offset: 0},
		{Reference: 1, BundleID: 1, Offset: 16},
	}
	dirty := []int{0, 1, 2}

	reads := BuildReads(m, blockSize, dirty)
	require.Len(t, reads, 1)
	require.Len(t, reads[0].SuperBlocks, 2)
	require.Equal(t, []Block{{No: 0, Offset: 0}, {No: 1, Offset: blockSize}}, reads[0].SuperBlocks[0].Blocks)
	require.Equal(t, []Block{{No: 0, Offset: 2 * blockSize}}, reads[0].SuperBlocks[1].Blocks)
}

func TestBuildReadsGroupsByReferenceDescending(t *testing.T) {
	const blockSize = 16
	m := Map{
		{Reference: 2, BundleID: 1, Offset: 0},
		{Reference: 5, BundleID: 1, Offset: 0},
		{Reference: 3, BundleID: 1, Offset: 0},
	}
	dirty := []int{0, 1, 2}

	reads := BuildReads(m, blockSize, dirty)
	require.Len(t, reads, 3)
	require.Equal(t, uint32(5), reads[0].Reference)
	require.Equal(t, uint32(3), reads[1].Reference)
	require.Equal(t, uint32(2), reads[2].Reference)
}

func encodeSuperBlockFixture() ([]byte, []Block) {
	const blockSize = 4

	var raw []byte
	raw = putUvarint(raw, 0) // block 0, full size, no flag
	raw = append(raw, "AAAA"...)
	raw = putUvarint(raw, FlagContinue) // block 1, full size
	raw = append(raw, "BBBB"...)
	raw = putUvarint(raw, FlagContinue|FlagSize) // block 2, short
	raw = putUvarint(raw, 2)
	raw = append(raw, "CC"...)
	raw = putUvarint(raw, 0) // terminator (blockNo != 0 here)

	expected := []Block{{No: 0, Offset: 1000}, {No: 2, Offset: 1100}}
	return raw, expected
}

func TestDecodeSuperBlockEmitsOnlyExpectedBlocks(t *testing.T) {
	raw, expected := encodeSuperBlockFixture()

	writes, err := DecodeSuperBlock(raw, 4, expected)
	require.NoError(t, err)
	require.Len(t, writes, 2)
	require.Equal(t, uint64(1000), writes[0].Offset)
	require.Equal(t, []byte("AAAA"), writes[0].Block)
	require.Equal(t, uint64(1100), writes[1].Offset)
	require.Equal(t, []byte("CC"), writes[1].Block)
}

func TestDecodeSuperBlockSkipsBlocksNotInExpected(t *testing.T) {
	raw, _ := encodeSuperBlockFixture()

	writes, err := DecodeSuperBlock(raw, 4, []Block{{No: 1, Offset: 500}})
	require.NoError(t, err)
	require.Len(t, writes, 1)
	require.Equal(t, uint64(500), writes[0].Offset)
	require.Equal(t, []byte("BBBB"), writes[0].Block)
}

func TestDecodeSuperBlockRejectsTruncatedPayload(t *testing.T) {
	var raw []byte
	raw = putUvarint(raw, 0)
	raw = append(raw, "AA"...) // only 2 bytes of a claimed 4-byte block

	_, err := DecodeSuperBlock(raw, 4, nil)
	require.Error(t, err)
}
