package cycletimer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"windowd/internal/eventbus"
	"windowd/pkg/logx"
)

var (
	ErrBadInterval    = errors.New("interval must be > 0")
	ErrBadMultiplier  = errors.New("interval multiplier must be > 0")
	ErrWindowInverted = errors.New("stop must not precede start")
	ErrBadCycleCount  = errors.New("cycle count must be > 0")
	ErrNoCallback     = errors.New("callback required")
	ErrInitialized    = errors.New("timer already initialized")
	ErrRunning        = errors.New("cannot reconfigure a live timer")
)

// Callback is the user-supplied function the timer fires. It is invoked
// synchronously inside the execution unit; time it spends blocking counts
// against the active window.
type Callback func()

// State is the lifecycle state of the timer's execution unit.
type State int32

const (
	StateUnstarted State = iota
	StateSuspended
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Phase is the loop's current position, exposed for diagnostics.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseWaitingForStart
	PhaseActive
	PhaseSleeping
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWaitingForStart:
		return "waiting_for_start"
	case PhaseActive:
		return "active"
	case PhaseSleeping:
		return "sleeping"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// TimerEvent is the bus payload for timer lifecycle events.
type TimerEvent struct {
	Timer  string
	Handle Handle
	Cycle  int
	Start  int64 // re-anchored window start (cycle_started only)
	Stop   int64
	At     time.Time
	Took   time.Duration
	Error  string
}

type Option func(*Timer)

func WithName(name string) Option {
	return func(t *Timer) { t.name = name }
}

func WithLogger(log logx.Logger) Option {
	return func(t *Timer) { t.log = log }
}

func WithClock(c Clock) Option {
	return func(t *Timer) { t.clock = c }
}

func WithSleeper(s Sleeper) Option {
	return func(t *Timer) { t.sleep = s }
}

func WithSpawner(sp Spawner) Option {
	return func(t *Timer) { t.spawn = sp }
}

func WithBus(b eventbus.Bus) Option {
	return func(t *Timer) { t.bus = b }
}

// Timer owns one schedule record and at most one execution unit at a time.
type Timer struct {
	name  string
	log   logx.Logger
	clock Clock
	sleep Sleeper
	spawn Spawner
	bus   eventbus.Bus

	mu   sync.Mutex
	p    *Params
	cb   Callback
	unit *unit
	done chan struct{}

	state atomic.Int32
	phase atomic.Int32
	cycle atomic.Int32
}

// New creates a timer around p (nil means NewParams() defaults). The record
// stays owned by the caller-visible Timer and outlives the execution unit.
func New(p *Params, opts ...Option) *Timer {
	if p == nil {
		p = NewParams()
	}
	t := &Timer{
		name:  "timer",
		p:     p,
		clock: SystemClock(),
		sleep: SystemSleeper(),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	if t.spawn == nil {
		t.spawn = NewGoSpawner(t.log)
	}
	return t
}

// Init validates the schedule, creates the execution unit suspended and
// stores its handle. The unit performs no work until Resume. A timer whose
// previous unit terminated can be initialized again; Init on a live unit
// returns ErrInitialized. Spawn failures are returned, not fatal.
func (t *Timer) Init(cb Callback) error {
	if cb == nil {
		return ErrNoCallback
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unit != nil {
		return ErrInitialized
	}
	if err := validateParams(t.p); err != nil {
		return err
	}

	u := newUnit()
	t.cb = cb
	if err := t.spawn.Spawn(t.name, func(ctx context.Context) { t.run(ctx, u) }); err != nil {
		return fmt.Errorf("create execution unit: %w", err)
	}
	t.unit = u
	t.done = u.done
	t.state.Store(int32(StateSuspended))
	t.phase.Store(int32(PhaseIdle))
	t.cycle.Store(0)
	t.log.Debug("timer initialized",
		logx.String("timer", t.name),
		logx.Uint64("handle", uint64(u.h)),
		logx.Int64("start", t.p.Start),
		logx.Int64("stop", t.p.Stop),
		logx.Int64("interval", t.p.Interval),
		logx.Int("cycles", t.p.CycleCount),
	)
	return nil
}

// Resume marks the unit runnable. It reports false (and does nothing) when
// no unit exists.
func (t *Timer) Resume() bool {
	t.mu.Lock()
	u := t.unit
	if u == nil {
		t.mu.Unlock()
		return false
	}
	t.state.Store(int32(StateRunning))
	t.mu.Unlock()

	u.gate.resume()
	t.publish(eventbus.TopicResumed, TimerEvent{Timer: t.name, Handle: u.h, Cycle: t.Cycle()})
	return true
}

// Suspend halts the unit at its next suspension point without destroying
// its state. Suspending an already suspended unit is a no-op that still
// reports true; an empty handle reports false.
func (t *Timer) Suspend() bool {
	t.mu.Lock()
	u := t.unit
	if u == nil {
		t.mu.Unlock()
		return false
	}
	t.state.Store(int32(StateSuspended))
	t.mu.Unlock()

	u.gate.suspend()
	t.publish(eventbus.TopicSuspended, TimerEvent{Timer: t.name, Handle: u.h, Cycle: t.Cycle()})
	return true
}

// Delete destroys the unit unconditionally and clears the stored handle.
// It reports false when there is nothing to delete, so double-delete is a
// harmless no-op rather than undefined behavior.
func (t *Timer) Delete() bool {
	t.mu.Lock()
	u := t.unit
	if u == nil {
		t.mu.Unlock()
		return false
	}
	t.unit = nil
	t.mu.Unlock()

	t.state.Store(int32(StateTerminated))
	t.phase.Store(int32(PhaseTerminated))
	u.terminate()
	t.publish(eventbus.TopicTerminated, TimerEvent{Timer: t.name, Handle: u.h, Cycle: t.Cycle()})
	t.log.Debug("timer deleted", logx.String("timer", t.name), logx.Uint64("handle", uint64(u.h)))
	return true
}

// Handle returns the current execution-unit handle, zero when none exists.
func (t *Timer) Handle() Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unit == nil {
		return 0
	}
	return t.unit.h
}

// Done returns a channel closed when the current unit's loop has fully
// exited (self-termination or Delete). Before the first Init the channel
// never closes.
func (t *Timer) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *Timer) Name() string { return t.name }

func (t *Timer) State() State { return State(t.state.Load()) }
func (t *Timer) Phase() Phase { return Phase(t.phase.Load()) }

// Cycle returns the index of the cycle the loop is currently in.
func (t *Timer) Cycle() int { return int(t.cycle.Load()) }

// ---- Reconfiguration ----
//
// The schedule has a single writer while a unit is live: the loop itself.
// All setters except SetIntervalMultiplier refuse to touch a live timer.

func (t *Timer) SetWindow(start, stop int64) error {
	return t.reconfigure(func(p *Params) { p.Start, p.Stop = start, stop })
}

func (t *Timer) SetInterval(seconds int64) error {
	return t.reconfigure(func(p *Params) { p.Interval = seconds })
}

func (t *Timer) SetCyclePeriod(seconds int64) error {
	return t.reconfigure(func(p *Params) { p.CyclePeriod = seconds })
}

func (t *Timer) SetCycleCount(n int) error {
	return t.reconfigure(func(p *Params) { p.CycleCount = n })
}

// SetIntervalMultiplier is allowed while the unit runs; the new factor is
// picked up at the next post-callback sleep, never retroactively.
func (t *Timer) SetIntervalMultiplier(factor int64) {
	t.mu.Lock()
	t.p.IntervalMultiplier = factor
	t.mu.Unlock()
}

func (t *Timer) reconfigure(fn func(*Params)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unit != nil {
		return ErrRunning
	}
	fn(t.p)
	return nil
}

// TimerSnapshot is a read-only diagnostic view.
type TimerSnapshot struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Phase  string `json:"phase"`
	Cycle  int    `json:"cycle"`
	Handle uint64 `json:"handle"`
	Params Params `json:"params"`
}

func (t *Timer) Snapshot() TimerSnapshot {
	t.mu.Lock()
	snap := TimerSnapshot{
		Name:   t.name,
		Cycle:  int(t.cycle.Load()),
		Params: *t.p,
	}
	if t.unit != nil {
		snap.Handle = uint64(t.unit.h)
	}
	t.mu.Unlock()
	snap.State = t.State().String()
	snap.Phase = t.Phase().String()
	return snap
}

// ---- Loop-side parameter access (serialized on t.mu) ----
//
// Phase and cycle writes from the loop carry the writing unit so a stale
// loop (superseded by Delete + re-Init) cannot touch the live timer.

func (t *Timer) setPhase(u *unit, p Phase) {
	t.mu.Lock()
	if t.unit == u {
		t.phase.Store(int32(p))
	}
	t.mu.Unlock()
}

func (t *Timer) setCycle(u *unit, n int) {
	t.mu.Lock()
	if t.unit == u {
		t.cycle.Store(int32(n))
	}
	t.mu.Unlock()
}

func (t *Timer) windowStart() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p.Start
}

func (t *Timer) windowStop() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p.Stop
}

// anchor pins the window start to the actual wake time and returns the
// resulting bounds. A superseded unit reads but never writes.
func (t *Timer) anchor(u *unit, now int64) (start, stop int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unit == u {
		t.p.Start = now
	}
	return t.p.Start, t.p.Stop
}

func (t *Timer) advanceWindow(u *unit) {
	t.mu.Lock()
	if t.unit == u {
		t.p.Start += t.p.CyclePeriod
		t.p.Stop += t.p.CyclePeriod
	}
	t.mu.Unlock()
}

func (t *Timer) fireInterval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Duration(t.p.IntervalMultiplier*t.p.Interval) * time.Second
}

func (t *Timer) cycleCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p.CycleCount
}

func (t *Timer) publish(topic string, ev TimerEvent) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(eventbus.Event{Type: topic, Data: ev})
}
