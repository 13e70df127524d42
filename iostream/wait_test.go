package iostream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgbackrest/pgbackrest-sub008/clock"
)

func TestWaitMoreReturnsTrueTwiceAfterBudgetElapses(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	w := NewWaitClock(10*time.Millisecond, fake)

	// Drain the budget: keep calling More until the Fibonacci sleep
	// sequence has consumed the whole 10ms total.
	for i := 0; i < 100 && fake.Now().Sub(time.Unix(0, 0)) < 10*time.Millisecond; i++ {
		require.True(t, w.More())
	}

	// Budget is exhausted: per spec.md §8, More still returns true at
	// least twice more before finally returning false.
	require.True(t, w.More())
	require.True(t, w.More())
	require.False(t, w.More())
}

func TestWaitFirstSleepIsTenthOfTotalCappedAt100ms(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	w := NewWaitClock(time.Second, fake)

	w.More()
	require.Equal(t, 100*time.Millisecond, fake.Now().Sub(time.Unix(0, 0)))
}

func TestWaitZeroBudgetStillGrantsGraceRetries(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	w := NewWaitClock(0, fake)

	require.True(t, w.More())
	require.True(t, w.More())
	require.False(t, w.More())
}
