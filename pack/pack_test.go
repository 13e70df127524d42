package pack

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripScalarFields(t *testing.T) {
	w := NewWriter()
	w.Bool(true).U64(42).I64(-7).Str("hello").Bin([]byte{1, 2, 3}).StrID("STORAGE_INFO")

	r := NewReader(w.Bytes())

	b, err := r.Bool()
	require.NoError(t, err)
	require.True(t, b)

	u, err := r.U64()
	require.NoError(t, err)
	require.Equal(t, uint64(42), u)

	i, err := r.I64()
	require.NoError(t, err)
	require.Equal(t, int64(-7), i)

	s, err := r.Str()
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	bin, err := r.Bin()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, bin)

	id, err := r.StrID()
	require.NoError(t, err)
	require.Equal(t, "STORAGE_INFO", id)

	require.True(t, r.Done())
}

func TestNestedPack(t *testing.T) {
	inner := NewWriter()
	inner.StrID("gz").U64(6)

	outer := NewWriter()
	outer.Str("outer").Pack(inner)

	r := NewReader(outer.Bytes())
	s, err := r.Str()
	require.NoError(t, err)
	require.Equal(t, "outer", s)

	sub, err := r.Pack()
	require.NoError(t, err)

	id, err := sub.StrID()
	require.NoError(t, err)
	require.Equal(t, "gz", id)

	level, err := sub.U64()
	require.NoError(t, err)
	require.Equal(t, uint64(6), level)
	require.True(t, sub.Done())
}

func TestDoneStopsLoopOverVariableLengthList(t *testing.T) {
	w := NewWriter()
	w.StrID("a").StrID("b").StrID("c")

	r := NewReader(w.Bytes())
	var got []string
	for !r.Done() {
		id, err := r.StrID()
		require.NoError(t, err)
		got = append(got, id)
	}
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestTypeMismatchErrors(t *testing.T) {
	w := NewWriter()
	w.U64(1)

	r := NewReader(w.Bytes())
	_, err := r.Str()
	require.Error(t, err)
}
