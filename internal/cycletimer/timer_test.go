package cycletimer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock counts milliseconds and reports truncated epoch seconds, the
// same granularity the real wall clock collaborator has.
type fakeClock struct {
	mu sync.Mutex
	ms int64
}

func newFakeClock(sec int64) *fakeClock { return &fakeClock{ms: sec * 1000} }

func (c *fakeClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ms / 1000
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.ms += d.Milliseconds()
	c.mu.Unlock()
}

// fakeSleeper advances the fake clock instead of blocking.
type fakeSleeper struct{ c *fakeClock }

func (s fakeSleeper) Sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	s.c.advance(d)
	return true
}

// stepSleeper hands each requested sleep to the test, which may
// reconfigure the timer before acknowledging.
type stepSleeper struct {
	c    *fakeClock
	reqs chan time.Duration
	ack  chan struct{}
}

func (s *stepSleeper) Sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case s.reqs <- d:
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.ack:
	}
	s.c.advance(d)
	return true
}

type failSpawner struct{ err error }

func (f failSpawner) Spawn(string, func(ctx context.Context)) error { return f.err }

// ctxSpawner runs units under a cancelable host context so tests can
// simulate host shutdown.
type ctxSpawner struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func newCtxSpawner() *ctxSpawner {
	ctx, cancel := context.WithCancel(context.Background())
	return &ctxSpawner{ctx: ctx, cancel: cancel}
}

func (s *ctxSpawner) Spawn(_ string, fn func(ctx context.Context)) error {
	go fn(s.ctx)
	return nil
}

func waitDone(t *testing.T, tm *Timer) {
	t.Helper()
	select {
	case <-tm.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("timer did not terminate (state=%s phase=%s)", tm.State(), tm.Phase())
	}
}

func TestSingleWindowFireCount(t *testing.T) {
	t.Parallel()
	clk := newFakeClock(1000)
	p := NewParams()
	p.Start, p.Stop, p.Interval = 1000, 1010, 2

	var fires atomic.Int64
	tm := New(p, WithClock(clk), WithSleeper(fakeSleeper{clk}), WithName("blink"))
	if err := tm.Init(func() { fires.Add(1) }); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	if tm.Handle().IsZero() {
		t.Fatal("handle empty after Init")
	}
	if got := tm.State(); got != StateSuspended {
		t.Fatalf("State after Init = %s, want suspended", got)
	}
	if !tm.Resume() {
		t.Fatal("Resume reported no unit")
	}
	waitDone(t, tm)

	// floor((stop-start)/interval)+1 = floor(10/2)+1 = 6 fires,
	// at elapsed 0,2,4,6,8,10.
	if got := fires.Load(); got != 6 {
		t.Fatalf("fires = %d, want 6", got)
	}
	if !tm.Handle().IsZero() {
		t.Fatal("handle not cleared after self-termination")
	}
	if clk.Now() < 1010 {
		t.Fatalf("terminated before stop: now=%d", clk.Now())
	}
	if got := tm.State(); got != StateTerminated {
		t.Fatalf("State = %s, want terminated", got)
	}
	if got := tm.Phase(); got != PhaseTerminated {
		t.Fatalf("Phase = %s, want terminated", got)
	}
}

func TestFireCountNonDivisor(t *testing.T) {
	t.Parallel()
	clk := newFakeClock(2000)
	p := NewParams()
	p.Start, p.Stop, p.Interval = 2000, 2010, 3

	var fires atomic.Int64
	tm := New(p, WithClock(clk), WithSleeper(fakeSleeper{clk}))
	if err := tm.Init(func() { fires.Add(1) }); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	tm.Resume()
	waitDone(t, tm)

	// floor(10/3)+1 = 4 fires, at elapsed 0,3,6,9.
	if got := fires.Load(); got != 4 {
		t.Fatalf("fires = %d, want 4", got)
	}
}

func TestInitValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mut  func(p *Params)
		want error
	}{
		{name: "zero interval", mut: func(p *Params) { p.Interval = 0 }, want: ErrBadInterval},
		{name: "negative interval", mut: func(p *Params) { p.Interval = -5 }, want: ErrBadInterval},
		{name: "zero multiplier", mut: func(p *Params) { p.IntervalMultiplier = 0 }, want: ErrBadMultiplier},
		{name: "inverted window", mut: func(p *Params) { p.Start, p.Stop = 100, 50 }, want: ErrWindowInverted},
		{name: "zero cycles", mut: func(p *Params) { p.CycleCount = 0 }, want: ErrBadCycleCount},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := NewParams()
			tt.mut(p)
			tm := New(p)
			err := tm.Init(func() {})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Init error = %v, want %v", err, tt.want)
			}
			if !tm.Handle().IsZero() {
				t.Fatal("handle set despite rejected Init")
			}
		})
	}

	tm := New(NewParams())
	if err := tm.Init(nil); !errors.Is(err, ErrNoCallback) {
		t.Fatalf("Init(nil) error = %v, want ErrNoCallback", err)
	}
}

func TestInitSpawnFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("unit budget exhausted")
	tm := New(NewParams(), WithSpawner(failSpawner{err: boom}))
	err := tm.Init(func() {})
	if !errors.Is(err, boom) {
		t.Fatalf("Init error = %v, want wrapped spawn failure", err)
	}
	if !tm.Handle().IsZero() {
		t.Fatal("handle set despite spawn failure")
	}
	if got := tm.State(); got != StateUnstarted {
		t.Fatalf("State = %s, want unstarted", got)
	}
}

func TestInitTwice(t *testing.T) {
	t.Parallel()
	clk := newFakeClock(1000)
	p := NewParams()
	p.Start, p.Stop, p.Interval = 1000, 1002, 1

	tm := New(p, WithClock(clk), WithSleeper(fakeSleeper{clk}))
	if err := tm.Init(func() {}); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	if err := tm.Init(func() {}); !errors.Is(err, ErrInitialized) {
		t.Fatalf("second Init error = %v, want ErrInitialized", err)
	}
	tm.Resume()
	waitDone(t, tm)
}

func TestReinitAfterTermination(t *testing.T) {
	t.Parallel()
	clk := newFakeClock(1000)
	p := NewParams()
	p.Start, p.Stop, p.Interval = 1000, 1001, 1

	var fires atomic.Int64
	tm := New(p, WithClock(clk), WithSleeper(fakeSleeper{clk}))
	if err := tm.Init(func() { fires.Add(1) }); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	first := tm.Handle()
	tm.Resume()
	waitDone(t, tm)

	// Terminated is absorbing for the old unit; a fresh Init starts over.
	if err := tm.SetWindow(clk.Now(), clk.Now()+1); err != nil {
		t.Fatalf("SetWindow after termination: %v", err)
	}
	if err := tm.Init(func() { fires.Add(1) }); err != nil {
		t.Fatalf("re-Init error: %v", err)
	}
	if tm.Handle() == first {
		t.Fatal("re-Init reused the old handle")
	}
	tm.Resume()
	waitDone(t, tm)
	if fires.Load() < 2 {
		t.Fatalf("fires = %d, want at least one per generation", fires.Load())
	}
}

func TestSuspendIdempotent(t *testing.T) {
	t.Parallel()
	clk := newFakeClock(1000)
	p := NewParams()
	p.Start, p.Stop, p.Interval = 1000, 1010, 1

	var fires atomic.Int64
	tm := New(p, WithClock(clk), WithSleeper(fakeSleeper{clk}))
	if err := tm.Init(func() { fires.Add(1) }); err != nil {
		t.Fatalf("Init error: %v", err)
	}

	// Unit is born suspended; suspending again (twice) changes nothing.
	if !tm.Suspend() {
		t.Fatal("Suspend on live unit reported false")
	}
	if !tm.Suspend() {
		t.Fatal("second Suspend reported false")
	}
	if got := tm.State(); got != StateSuspended {
		t.Fatalf("State = %s, want suspended", got)
	}
	if fires.Load() != 0 {
		t.Fatalf("callback fired while suspended: %d", fires.Load())
	}

	if !tm.Delete() {
		t.Fatal("Delete on live unit reported false")
	}
	waitDone(t, tm)
	if fires.Load() != 0 {
		t.Fatalf("callback fired despite never being resumed: %d", fires.Load())
	}
}

func TestEmptyHandleOpsAreNoops(t *testing.T) {
	t.Parallel()
	tm := New(NewParams())
	if tm.Suspend() || tm.Resume() || tm.Delete() {
		t.Fatal("lifecycle ops on an uninitialized timer must report false")
	}
	if !tm.Handle().IsZero() {
		t.Fatal("handle not empty before Init")
	}

	// Same after natural termination.
	clk := newFakeClock(1000)
	p := NewParams()
	p.Start, p.Stop, p.Interval = 1000, 1001, 1
	tm2 := New(p, WithClock(clk), WithSleeper(fakeSleeper{clk}))
	if err := tm2.Init(func() {}); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	tm2.Resume()
	waitDone(t, tm2)
	if tm2.Suspend() || tm2.Resume() || tm2.Delete() {
		t.Fatal("lifecycle ops after termination must report false")
	}
}

func TestReconfigureWhileLive(t *testing.T) {
	t.Parallel()
	clk := newFakeClock(1000)
	p := NewParams()
	p.Start, p.Stop, p.Interval = 1000, 1004, 2

	tm := New(p, WithClock(clk), WithSleeper(fakeSleeper{clk}))
	if err := tm.Init(func() {}); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	if err := tm.SetWindow(0, 1); !errors.Is(err, ErrRunning) {
		t.Fatalf("SetWindow on live timer = %v, want ErrRunning", err)
	}
	if err := tm.SetInterval(5); !errors.Is(err, ErrRunning) {
		t.Fatalf("SetInterval on live timer = %v, want ErrRunning", err)
	}
	if err := tm.SetCycleCount(2); !errors.Is(err, ErrRunning) {
		t.Fatalf("SetCycleCount on live timer = %v, want ErrRunning", err)
	}
	tm.Resume()
	waitDone(t, tm)

	if err := tm.SetInterval(5); err != nil {
		t.Fatalf("SetInterval after termination: %v", err)
	}
}

func TestIntervalMultiplierAppliesNextSleep(t *testing.T) {
	t.Parallel()
	clk := newFakeClock(1000)
	p := NewParams()
	p.Start, p.Stop, p.Interval = 1000, 1020, 2

	sl := &stepSleeper{c: clk, reqs: make(chan time.Duration), ack: make(chan struct{})}
	tm := New(p, WithClock(clk), WithSleeper(sl))
	if err := tm.Init(func() {}); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	tm.Resume()

	// First sleep was computed with the original multiplier.
	d := <-sl.reqs
	if d != 2*time.Second {
		t.Fatalf("first sleep = %v, want 2s", d)
	}
	// Changing the multiplier mid-sleep must not shorten or stretch the
	// sleep in progress.
	tm.SetIntervalMultiplier(3)
	sl.ack <- struct{}{}

	d = <-sl.reqs
	if d != 6*time.Second {
		t.Fatalf("sleep after multiplier change = %v, want 6s", d)
	}
	sl.ack <- struct{}{}

	// Drain the remaining sleeps so the unit can terminate.
	for {
		select {
		case <-sl.reqs:
			sl.ack <- struct{}{}
		case <-tm.Done():
			return
		case <-time.After(5 * time.Second):
			t.Fatal("timer did not terminate")
		}
	}
}

func TestCallbackPanicDoesNotKillSchedule(t *testing.T) {
	t.Parallel()
	clk := newFakeClock(1000)
	p := NewParams()
	p.Start, p.Stop, p.Interval = 1000, 1004, 2

	var fires atomic.Int64
	tm := New(p, WithClock(clk), WithSleeper(fakeSleeper{clk}))
	err := tm.Init(func() {
		if fires.Add(1) == 1 {
			panic("first invocation blows up")
		}
	})
	if err != nil {
		t.Fatalf("Init error: %v", err)
	}
	tm.Resume()
	waitDone(t, tm)
	if got := fires.Load(); got != 3 {
		t.Fatalf("fires = %d, want 3 (panic must not end the window)", got)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	p := NewParams()
	p.Start, p.Stop, p.Interval, p.CycleCount = 100, 200, 5, 2
	tm := New(p, WithName("camera"))

	snap := tm.Snapshot()
	if snap.Name != "camera" {
		t.Fatalf("Name = %q, want camera", snap.Name)
	}
	if snap.State != "unstarted" || snap.Phase != "idle" {
		t.Fatalf("unexpected initial snapshot: %+v", snap)
	}
	if snap.Params.Interval != 5 || snap.Params.CycleCount != 2 {
		t.Fatalf("params not reflected: %+v", snap.Params)
	}
	if snap.Handle != 0 {
		t.Fatalf("Handle = %d, want 0 before Init", snap.Handle)
	}
}
