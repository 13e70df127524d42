package iostream

import (
	"time"

	"github.com/pgbackrest/pgbackrest-sub008/clock"
)

// Wait is the Fibonacci-backoff retry timer of spec.md §4.1, grounded on
// original_source/src/common/wait.c: the first sleep is
// min(waitTime/10, 100ms); each subsequent sleep is the sum of the current
// and previous sleep (a Fibonacci-type sequence), clamped so the cumulative
// elapsed time never exceeds the total budget. After the budget elapses,
// More() still returns true twice more so an operation that consumed the
// whole budget gets two extra retries, per spec.md's testable property.
type Wait struct {
	clock clock.Clock

	total     time.Duration
	sleep     time.Duration
	sleepPrev time.Duration
	begin     time.Time

	expiredReturns int // counts the "still return true" grace retries after expiry
}

const waitGraceRetries = 2

// NewWait constructs a Wait with the given total budget, using the
// default production clock.
func NewWait(total time.Duration) *Wait {
	return NewWaitClock(total, clock.Default)
}

// NewWaitClock constructs a Wait using an injected clock, the seam tests
// use to avoid real sleeps.
func NewWaitClock(total time.Duration, c clock.Clock) *Wait {
	w := &Wait{clock: c, total: total}

	tenth := total / 10
	if tenth > 100*time.Millisecond {
		tenth = 100 * time.Millisecond
	}
	if tenth < 0 {
		tenth = 0
	}
	w.sleep = tenth
	w.begin = c.Now()
	return w
}

// More sleeps the current quantum, measures elapsed time against the
// total budget, and returns whether the caller should retry. Once the
// budget is exhausted it still returns true waitGraceRetries more times
// (with zero additional sleep) before finally returning false.
func (w *Wait) More() bool {
	if w.sleep <= 0 {
		if w.expiredReturns < waitGraceRetries {
			w.expiredReturns++
			return true
		}
		return false
	}

	w.clock.Sleep(w.sleep)
	elapsed := w.clock.Now().Sub(w.begin)

	if elapsed < w.total {
		next := w.sleep + w.sleepPrev
		if remaining := w.total - elapsed; next > remaining {
			next = remaining
		}
		w.sleepPrev = w.sleep
		w.sleep = next
	} else {
		w.sleep = 0
	}

	return true
}
