package cycletimer

import (
	"context"
	"time"
)

// Clock supplies the wall-clock time as integer epoch seconds. The core
// assumes the clock was synchronized by the caller before scheduling
// begins; it never adjusts it.
type Clock interface {
	Now() int64
}

// Sleeper blocks the calling execution unit for the given duration,
// yielding the processor. Sleep reports false when ctx is canceled before
// the duration elapses.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) bool
}

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() int64 { return time.Now().Unix() }

// SystemSleeper returns a Sleeper backed by time.Timer.
func SystemSleeper() Sleeper { return systemSleeper{} }

type systemSleeper struct{}

func (systemSleeper) Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-tmr.C:
		return true
	}
}
