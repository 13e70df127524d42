package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsSegmentAcceptsPlainAndPartial(t *testing.T) {
	require.True(t, IsSegment("000000010000000100000001"))
	require.True(t, IsSegment("000000010000000100000001.partial"))
	require.False(t, IsSegment("not-a-segment"))
	require.False(t, IsSegment("00000001000000010000000"))
}

func TestPrefixIsFirst16Chars(t *testing.T) {
	require.Equal(t, "0000000100000001", Prefix("000000010000000100000001"))
}

func TestStripPartial(t *testing.T) {
	require.Equal(t, "000000010000000100000001", StripPartial("000000010000000100000001.partial"))
	require.Equal(t, "000000010000000100000001", StripPartial("000000010000000100000001"))
}

func TestMatchExpressionBuildsSha1AndCompressSuffix(t *testing.T) {
	re := MatchExpression("000000010000000100000001", "gz")
	require.Equal(t, `^000000010000000100000001-[0-9a-f]{40}(\.gz){0,1}$`, re)
}

func TestMatchExpressionForPartialSegment(t *testing.T) {
	re := MatchExpression("000000010000000100000001.partial", "")
	require.Equal(t, `^000000010000000100000001\.partial-[0-9a-f]{40}$`, re)
}

func TestNextSegmentSuccessor(t *testing.T) {
	next, err := Next("0000000100000001000000FE", 16*1024*1024, 90200)
	require.NoError(t, err)
	require.Equal(t, "000000010000000200000000", next)

	next, err = Next("0000000100000001000000FE", 16*1024*1024, 90300)
	require.NoError(t, err)
	require.Equal(t, "0000000100000001000000FF", next)

	next, err = Next("000000010000006700000FFF", 1*1024*1024, 110000)
	require.NoError(t, err)
	require.Equal(t, "000000010000006800000000", next)
}

func TestNextRejectsMalformedSegment(t *testing.T) {
	_, err := Next("bogus", 16*1024*1024, 110000)
	require.Error(t, err)
}
