package daemon

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"windowd/internal/storage"
	"windowd/pkg/logx"
)

const defaultPruneSchedule = "0 3 * * *"

// maintenance runs the daemon's housekeeping on a cron schedule: history
// pruning by retention and a periodic state snapshot of all timers.
type maintenance struct {
	c      *cron.Cron
	parser cron.Parser

	store     storage.Store
	retention time.Duration
	snapshot  func() []logx.Field
	log       logx.Logger
}

func newMaintenance(store storage.Store, retention time.Duration, snapshot func() []logx.Field, log logx.Logger) *maintenance {
	return &maintenance{
		parser:    cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		store:     store,
		retention: retention,
		snapshot:  snapshot,
		log:       log,
	}
}

func (m *maintenance) start(schedule string) error {
	if schedule == "" {
		schedule = defaultPruneSchedule
	}
	m.c = cron.New(cron.WithParser(m.parser))
	if _, err := m.c.AddFunc(schedule, m.tick); err != nil {
		return err
	}
	m.c.Start()
	m.log.Debug("maintenance scheduled", logx.String("schedule", schedule))
	return nil
}

func (m *maintenance) stop() {
	if m.c == nil {
		return
	}
	stopCtx := m.c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		m.log.Warn("maintenance jobs still running at shutdown")
	}
}

func (m *maintenance) tick() {
	if m.snapshot != nil {
		m.log.Info("timer state", m.snapshot()...)
	}
	if m.store == nil || m.retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-m.retention)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	removed, err := m.store.PruneBefore(ctx, cutoff)
	if err != nil {
		m.log.Warn("history prune failed", logx.Err(err))
		return
	}
	if removed > 0 {
		m.log.Info("history pruned",
			logx.Int64("removed", removed),
			logx.Time("cutoff", cutoff),
		)
	}
}
