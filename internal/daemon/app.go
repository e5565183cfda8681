// Package daemon wires timers from a config file into a long-running
// process: command callbacks, run-history persistence, maintenance jobs
// and systemd integration.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"windowd/internal/config"
	"windowd/internal/eventbus"
	"windowd/internal/runtime/supervisor"
	"windowd/internal/storage"
	"windowd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	jobs  []*Job
	maint *maintenance
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return nil, err
		}
		st, err := storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		if st != nil {
			store = st
			log.Info("run history enabled", logx.String("driver", cfg.Storage.Driver))
		}
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	// Timers. Relative schedules are anchored to this moment.
	jobs, err := buildJobs(cfg, time.Now(), a.sup, a.bus, a.log)
	if err != nil {
		return err
	}
	a.jobs = jobs
	for _, j := range jobs {
		if j.Autostart {
			j.Timer.Resume()
			continue
		}
		a.log.Info("timer created suspended", logx.String("timer", j.Name))
	}
	a.log.Info("timers started", logx.Int("count", len(jobs)))

	// Run history
	if a.store != nil {
		rec := newHistoryRecorder(a.store, a.bus, a.log.With(logx.String("comp", "history")))
		a.sup.Go0("history.recorder", rec.run)
	}

	// Maintenance cron
	var retention time.Duration
	schedule := ""
	if cfg.Storage != nil {
		retention, err = config.ParseDurationField("storage.retention", cfg.Storage.Retention)
		if err != nil {
			return err
		}
		schedule = cfg.Storage.PruneSchedule
	}
	a.maint = newMaintenance(a.store, retention, a.snapshotFields, a.log.With(logx.String("comp", "maintenance")))
	if err := a.maint.start(schedule); err != nil {
		return fmt.Errorf("maintenance schedule: %w", err)
	}

	// Config hot reload: reject configs whose schedules don't parse, apply
	// the logging section live, leave job changes to the next restart.
	if cfg.WatchConfig {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
			return validateJobs(c, time.Now())
		})
		a.sup.Go("config.watch", a.cfgm.Watch)

		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub, cfg)
		})
	}

	// systemd integration
	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdogLoop(c, a.log) })
	notifyReady(a.log)

	return nil
}

// reloadLoop applies hot-reloadable sections of each published config.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config, last *config.Config) {
	jobsHash := func(c *config.Config) string {
		b, _ := json.Marshal(c.Jobs)
		return string(b)
	}
	lastJobs := jobsHash(last)
	lastLogging := last.Logging

	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			if newCfg.Logging != lastLogging {
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				lastLogging = newCfg.Logging
				a.log.Info("logging config applied", logx.String("level", newCfg.Logging.Level))
			}
			if h := jobsHash(newCfg); h != lastJobs {
				lastJobs = h
				a.log.Warn("job configuration changed; restart required to apply")
			}
		}
	}
}

// snapshotFields flattens all timer snapshots into one log record.
func (a *App) snapshotFields() []logx.Field {
	fields := make([]logx.Field, 0, len(a.jobs)+1)
	fields = append(fields, logx.Int("timers", len(a.jobs)))
	for _, j := range a.jobs {
		fields = append(fields, logx.Any(j.Name, j.Timer.Snapshot()))
	}
	return fields
}

func (a *App) Stop(ctx context.Context) error {
	notifyStopping(a.log)

	for _, j := range a.jobs {
		if j.Timer.Delete() {
			a.log.Debug("timer deleted on shutdown", logx.String("timer", j.Name))
		}
	}
	if a.maint != nil {
		a.maint.stop()
	}

	var err error
	if a.sup != nil {
		wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = a.sup.Stop(wctx)
		cancel()
	}

	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
