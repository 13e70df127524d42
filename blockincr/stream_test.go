package blockincr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgbackrest/pgbackrest-sub008/iostream"
	"github.com/pgbackrest/pgbackrest-sub008/storage"
	"github.com/pgbackrest/pgbackrest-sub008/storage/posix"
)

func writeBundle(t *testing.T, store storage.Storage, name string, data []byte) {
	t.Helper()
	w, err := store.NewWrite(context.Background(), storage.WriteParams{Name: name, ModeFile: 0o600, CreatePath: true})
	require.NoError(t, err)
	buf := iostream.NewBuffer(len(data))
	buf.Cat(data)
	require.NoError(t, w.Write(buf))
	require.NoError(t, w.Close())
}

func TestApplyReadsDecodesUnfilteredSuperBlock(t *testing.T) {
	dir := t.TempDir()
	store := posix.New(dir, nil)

	pad := []byte("0123456789") // 10 bytes of leading bundle content unrelated to this read
	raw, expected := encodeSuperBlockFixture()

	writeBundle(t, store, "bundle", append(append([]byte{}, pad...), raw...))

	read := Read{
		Reference:   1,
		BundleID:    1,
		Offset:      uint64(len(pad)),
		SuperBlocks: []SuperBlock{{Blocks: expected}},
	}

	writes, err := ApplyReads(context.Background(), store, "bundle", []Read{read}, func(*Read, int) int64 {
		return int64(len(raw))
	}, 4, nil)
	require.NoError(t, err)
	require.Len(t, writes, 2)
	require.Equal(t, uint64(1000), writes[0].Offset)
	require.Equal(t, []byte("AAAA"), writes[0].Block)
	require.Equal(t, uint64(1100), writes[1].Offset)
	require.Equal(t, []byte("CC"), writes[1].Block)
}

func TestApplyReadsAdvancesOffsetAcrossMultipleSuperBlocks(t *testing.T) {
	dir := t.TempDir()
	store := posix.New(dir, nil)

	raw1, expected1 := encodeSuperBlockFixture()

	var raw2 []byte
	raw2 = putUvarint(raw2, 0)
	raw2 = append(raw2, "ZZZZ"...)
	raw2 = putUvarint(raw2, 0) // terminator
	expected2 := []Block{{No: 0, Offset: 2000}}

	writeBundle(t, store, "bundle", append(append([]byte{}, raw1...), raw2...))

	read := Read{
		Reference: 1,
		BundleID:  1,
		Offset:    0,
		SuperBlocks: []SuperBlock{
			{Blocks: expected1},
			{Blocks: expected2},
		},
	}

	sizes := []int64{int64(len(raw1)), int64(len(raw2))}
	writes, err := ApplyReads(context.Background(), store, "bundle", []Read{read}, func(_ *Read, idx int) int64 {
		return sizes[idx]
	}, 4, nil)
	require.NoError(t, err)
	require.Len(t, writes, 3)
	require.Equal(t, uint64(2000), writes[2].Offset)
	require.Equal(t, []byte("ZZZZ"), writes[2].Block)
}
