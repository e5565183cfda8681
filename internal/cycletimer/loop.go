package cycletimer

import (
	"context"
	"fmt"
	"time"

	"windowd/internal/eventbus"
	"windowd/pkg/logx"
)

// waitQuantum bounds how late a cycle can wake after its window opens,
// while still yielding the processor between polls.
const waitQuantum = 10 * time.Millisecond

// run is the loop body executed inside the timer's execution unit.
//
// For each cycle it waits for the window to open, re-anchors the start to
// the actual wake time, fires the callback until the window closes, then
// slides both bounds forward by the cycle period. After the last cycle the
// unit terminates itself. The gate and the sleeper are the only two
// suspension points; Delete cancels either immediately.
func (t *Timer) run(hostCtx context.Context, u *unit) {
	defer t.finish(u)

	ctx, cancel := context.WithCancel(hostCtx)
	defer cancel()
	go func() {
		select {
		case <-u.stop:
			cancel()
		case <-ctx.Done():
			// Host shutdown: unblock a unit parked on the gate.
			u.gate.close()
		}
	}()

	cycles := t.cycleCount()
	for n := 0; n < cycles; n++ {
		t.setCycle(u, n)
		t.setPhase(u, PhaseWaitingForStart)

		// Wait phase: poll with a short quantum until the window opens.
		for {
			if !u.gate.wait() || ctx.Err() != nil {
				return
			}
			if t.clock.Now() >= t.windowStart() {
				break
			}
			if !t.sleep.Sleep(ctx, waitQuantum) {
				return
			}
		}

		// Re-anchor to the actual wake time so window arithmetic tracks
		// real elapsed time rather than the configured value.
		start, stop := t.anchor(u, t.clock.Now())
		t.publish(eventbus.TopicCycleStarted, TimerEvent{
			Timer: t.name, Handle: u.h, Cycle: n, Start: start, Stop: stop,
		})
		t.log.Debug("cycle started",
			logx.String("timer", t.name),
			logx.Int("cycle", n),
			logx.Int64("start", start),
			logx.Int64("stop", stop),
		)

		// Active phase: fire, then sleep the full scaled interval. The
		// window check happens only after the sleep, so an invocation that
		// starts just before the close always completes and exit
		// granularity is one interval, not wall-clock precision.
		for t.clock.Now() <= t.windowStop() {
			t.setPhase(u, PhaseActive)
			t.fire(u, n)
			t.setPhase(u, PhaseSleeping)
			if !t.sleep.Sleep(ctx, t.fireInterval()) {
				return
			}
			if !u.gate.wait() || ctx.Err() != nil {
				return
			}
		}

		t.advanceWindow(u)
	}
}

// fire invokes the user callback synchronously, shielding the loop from
// panics so one bad invocation does not silently kill the whole schedule.
func (t *Timer) fire(u *unit, cycle int) {
	started := time.Now()
	var failure string
	func() {
		defer func() {
			if r := recover(); r != nil {
				failure = fmt.Sprint(r)
				t.log.Error("callback panicked",
					logx.String("timer", t.name),
					logx.Int("cycle", cycle),
					logx.Any("panic", r),
				)
			}
		}()
		t.cb()
	}()
	took := time.Since(started)

	t.publish(eventbus.TopicFired, TimerEvent{
		Timer: t.name, Handle: u.h, Cycle: cycle, At: started, Took: took, Error: failure,
	})
	if t.log.Enabled(logx.LevelTrace) {
		t.log.Trace("callback fired",
			logx.String("timer", t.name),
			logx.Int("cycle", cycle),
			logx.Duration("took", took),
		)
	}
}

// finish retires the unit and closes its done channel. Timer-level state
// changes only when u is still the current unit: after Delete (which
// already marked the timer terminated, and may have been followed by a
// fresh Init installing a new unit) a stale loop must not stomp the
// timer's state or emit a second terminated event.
func (t *Timer) finish(u *unit) {
	t.mu.Lock()
	current := t.unit == u
	if current {
		t.unit = nil
	}
	t.mu.Unlock()

	u.terminate()
	if current {
		t.state.Store(int32(StateTerminated))
		t.phase.Store(int32(PhaseTerminated))

		t.publish(eventbus.TopicTerminated, TimerEvent{Timer: t.name, Handle: u.h, Cycle: t.Cycle()})
		t.log.Info("timer terminated",
			logx.String("timer", t.name),
			logx.Uint64("handle", uint64(u.h)),
			logx.Int("cycles", t.Cycle()+1),
		)
	}

	// Done must close after the terminated event is on the bus, so
	// observers that drain on Done never miss it.
	close(u.done)
}
