package daemon

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"windowd/internal/cycletimer"
	"windowd/internal/eventbus"
	"windowd/internal/storage"
	"windowd/pkg/logx"
)

// historyRecorder turns bus events into run-history rows.
//
// Writes are rate-limited with a token bucket; when a misconfigured timer
// fires faster than the limiter allows, events are dropped rather than
// queued so persistence can never stall or skew the timing path.
type historyRecorder struct {
	store storage.Store
	log   logx.Logger
	lim   *rate.Limiter

	events <-chan eventbus.Event
	unsub  func()

	dropped uint64
}

// newHistoryRecorder subscribes immediately so no event published between
// construction and the run loop starting is lost.
func newHistoryRecorder(store storage.Store, bus eventbus.Bus, log logx.Logger) *historyRecorder {
	r := &historyRecorder{
		store: store,
		log:   log,
		lim:   rate.NewLimiter(rate.Limit(50), 100),
	}
	r.events, r.unsub = bus.Subscribe(256)
	return r
}

func (r *historyRecorder) run(ctx context.Context) {
	defer r.unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-r.events:
			if !ok {
				return
			}
			r.record(ctx, e)
		}
	}
}

func (r *historyRecorder) record(ctx context.Context, e eventbus.Event) {
	var event string
	switch e.Type {
	case eventbus.TopicFired:
		event = "fired"
	case eventbus.TopicTerminated:
		event = "terminated"
	default:
		return
	}
	te, ok := e.Data.(cycletimer.TimerEvent)
	if !ok {
		return
	}

	if !r.lim.Allow() {
		r.dropped++
		if r.dropped%100 == 1 {
			r.log.Warn("run history writes throttled",
				logx.String("timer", te.Timer),
				logx.Uint64("dropped", r.dropped),
			)
		}
		return
	}

	at := te.At
	if at.IsZero() {
		at = e.Time
	}
	entry := storage.RunEntry{
		At:     at,
		Timer:  te.Timer,
		Cycle:  te.Cycle,
		Event:  event,
		TookMS: te.Took.Milliseconds(),
		Error:  te.Error,
	}

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err := r.store.AppendRun(wctx, entry)
	cancel()
	if err != nil {
		r.log.Warn("run history append failed",
			logx.String("timer", te.Timer),
			logx.String("event", event),
			logx.Err(err),
		)
	}
}
