package cycletimer

import (
	"context"
	"sync"
	"sync/atomic"

	"windowd/pkg/logx"
)

// Handle identifies a live execution unit. The zero value means "no unit":
// it is what a timer holds both before Init and after termination.
type Handle uint64

func (h Handle) IsZero() bool { return h == 0 }

var handleSeq atomic.Uint64

// Spawner starts a timer's loop body on a host scheduler. Spawn returns an
// error when the host cannot allocate a unit; the timer surfaces that from
// Init instead of halting.
//
// The fn argument runs until it returns; the ctx passed to it is the
// host's lifetime (canceling it stops the unit the same way Delete does).
type Spawner interface {
	Spawn(name string, fn func(ctx context.Context)) error
}

// NewGoSpawner returns the default Spawner: one plain goroutine per unit
// with panic recovery. It never fails to spawn.
func NewGoSpawner(log logx.Logger) Spawner { return goSpawner{log: log} }

type goSpawner struct{ log logx.Logger }

func (g goSpawner) Spawn(name string, fn func(ctx context.Context)) error {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if !g.log.IsZero() {
					g.log.Error("execution unit panicked", logx.String("unit", name), logx.Any("panic", r))
				}
			}
		}()
		fn(context.Background())
	}()
	return nil
}

// unit is one execution of the cycle loop: a handle, a suspend gate, a
// stop channel closed by Delete, and a done channel closed when the loop
// actually exits.
type unit struct {
	h    Handle
	gate *gate

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newUnit() *unit {
	u := &unit{
		h:    Handle(handleSeq.Add(1)),
		gate: newGate(),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	// Units are born suspended; Resume opens the gate.
	u.gate.suspend()
	return u
}

// terminate requests an unconditional stop. Idempotent.
func (u *unit) terminate() {
	u.stopOnce.Do(func() { close(u.stop) })
	u.gate.close()
}

// gate is the suspend/resume point the loop blocks on. wait() parks the
// caller while the gate is suspended and reports false once the gate is
// closed for good.
type gate struct {
	mu        sync.Mutex
	cond      *sync.Cond
	suspended bool
	closed    bool
}

func newGate() *gate {
	g := &gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *gate) suspend() {
	g.mu.Lock()
	g.suspended = true
	g.mu.Unlock()
}

func (g *gate) resume() {
	g.mu.Lock()
	g.suspended = false
	g.mu.Unlock()
	g.cond.Broadcast()
}

func (g *gate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cond.Broadcast()
}

func (g *gate) wait() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.suspended && !g.closed {
		g.cond.Wait()
	}
	return !g.closed
}
