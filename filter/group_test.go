package filter

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgbackrest/pgbackrest-sub008/iostream"
)

func drain(t *testing.T, g *Group, input []byte) []byte {
	t.Helper()

	in := iostream.NewBuffer(len(input))
	in.Cat(input)

	var out []byte
	scratch := iostream.NewBuffer(64 * 1024)
	require.NoError(t, g.Process(in, scratch))
	out = append(out, scratch.Bytes()...)

	for !g.Done() {
		scratch.Reset()
		require.NoError(t, g.Process(nil, scratch))
		out = append(out, scratch.Bytes()...)
	}
	return out
}

func TestGroupWithNoFiltersIsIdentity(t *testing.T) {
	g := NewGroup()
	out := drain(t, g, []byte("pass through unchanged"))
	require.Equal(t, []byte("pass through unchanged"), out)
}

func TestGroupChainsHashCompressEncryptAndBackAgain(t *testing.T) {
	plain := []byte("block one block two block three, repeated repeated repeated")
	key := bytes.Repeat([]byte{0x5a}, 32)

	enc := NewGroup()
	h := NewHashFilter()
	enc.Add(h)
	enc.Add(NewCompressFilter(CompressGzip))
	encryptFilter, err := NewEncryptFilter(key)
	require.NoError(t, err)
	enc.Add(encryptFilter)

	ciphertext := drain(t, enc, plain)
	require.NotEqual(t, plain, ciphertext)

	digest, ok := h.Result().([]byte)
	require.True(t, ok)
	require.Len(t, digest, 20)

	dec := NewGroup()
	decryptFilter, err := NewDecryptFilter(key)
	require.NoError(t, err)
	dec.Add(decryptFilter)
	dec.Add(NewDecompressFilter(CompressGzip))

	roundTripped := drain(t, dec, ciphertext)
	require.Equal(t, plain, roundTripped)
}

func TestGroupIsDoneOnlyAfterFlushDrainsEveryFilter(t *testing.T) {
	g := NewGroup()
	g.Add(NewHashFilter())
	g.Add(NewCompressFilter(CompressGzip))

	in := iostream.NewBuffer(4)
	in.Cat([]byte("data"))
	out := iostream.NewBuffer(64 * 1024)
	require.NoError(t, g.Process(in, out))
	require.False(t, g.Done())

	for !g.Done() {
		out.Reset()
		require.NoError(t, g.Process(nil, out))
	}
	require.True(t, g.Done())
}
