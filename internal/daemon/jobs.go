package daemon

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"windowd/internal/config"
	"windowd/internal/cycletimer"
	"windowd/internal/eventbus"
	"windowd/internal/runtime/supervisor"
	"windowd/pkg/logx"
)

// Job pairs one timer with its command callback.
type Job struct {
	Name      string
	Timer     *cycletimer.Timer
	Autostart bool
}

// buildParams translates one job config into schedule parameters. For the
// relative form, now is the reference the offsets are applied to.
func buildParams(j *config.JobConfig, now time.Time) (*cycletimer.Params, error) {
	var (
		p   *cycletimer.Params
		err error
	)
	switch {
	case j.Window != nil:
		loc := time.Local
		if tz := strings.TrimSpace(j.Timezone); tz != "" {
			loc, err = time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("job %q: timezone: %w", j.Name, err)
			}
		}
		p, err = cycletimer.DeriveSchedule(j.Window.Start, j.Window.Stop, j.Window.Interval, loc)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", j.Name, err)
		}
	case j.Relative != nil:
		r := j.Relative
		delay, err := config.ParseSecondsField("relative.delay", r.Delay)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", j.Name, err)
		}
		active, err := config.ParseSecondsField("relative.active", r.Active)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", j.Name, err)
		}
		interval, err := config.ParseSecondsField("relative.interval", r.Interval)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", j.Name, err)
		}
		period, err := config.ParseSecondsField("relative.cycle_period", r.CyclePeriod)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", j.Name, err)
		}

		p = cycletimer.NewParams()
		p.Start = now.Unix() + delay
		p.Stop = p.Start + active
		p.Interval = interval
		if period > 0 {
			p.CyclePeriod = period
		}
		if r.Cycles > 0 {
			p.CycleCount = r.Cycles
		}
	default:
		return nil, fmt.Errorf("job %q: no schedule", j.Name)
	}

	if j.IntervalMultiplier > 0 {
		p.IntervalMultiplier = j.IntervalMultiplier
	}
	return p, nil
}

// commandCallback runs the job's command on every fire. Output is discarded;
// failures are logged with the exit error. The invocation is synchronous so
// its runtime counts against the active window.
func commandCallback(name string, argv []string, timeout time.Duration, log logx.Logger) cycletimer.Callback {
	return func() {
		ctx := context.Background()
		cancel := context.CancelFunc(func() {})
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, timeout)
		}
		defer cancel()

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		started := time.Now()
		err := cmd.Run()
		took := time.Since(started)
		if err != nil {
			log.Warn("command failed",
				logx.String("job", name),
				logx.String("bin", argv[0]),
				logx.Duration("took", took),
				logx.Err(err),
			)
			return
		}
		log.Debug("command completed",
			logx.String("job", name),
			logx.Duration("took", took),
		)
	}
}

// supSpawner hosts timer execution units on the daemon supervisor so they
// show up in its stats and stop with it.
type supSpawner struct {
	sup *supervisor.Supervisor
}

func (s supSpawner) Spawn(name string, fn func(ctx context.Context)) error {
	if s.sup == nil {
		return fmt.Errorf("supervisor not running")
	}
	s.sup.Go0("timer."+name, fn)
	return nil
}

// buildJobs creates (but does not start) one Job per config entry.
func buildJobs(cfg *config.Config, now time.Time, sup *supervisor.Supervisor, bus eventbus.Bus, log logx.Logger) ([]*Job, error) {
	jobs := make([]*Job, 0, len(cfg.Jobs))
	for i := range cfg.Jobs {
		jc := &cfg.Jobs[i]
		p, err := buildParams(jc, now)
		if err != nil {
			return nil, err
		}
		timeout, err := config.ParseDurationField("command_timeout", jc.CommandTimeout)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", jc.Name, err)
		}

		tlog := log.With(logx.String("comp", "timer"))
		tm := cycletimer.New(p,
			cycletimer.WithName(jc.Name),
			cycletimer.WithLogger(tlog),
			cycletimer.WithBus(bus),
			cycletimer.WithSpawner(supSpawner{sup: sup}),
		)
		if err := tm.Init(commandCallback(jc.Name, jc.Command, timeout, log.With(logx.String("comp", "exec")))); err != nil {
			return nil, fmt.Errorf("job %q: %w", jc.Name, err)
		}

		jobs = append(jobs, &Job{
			Name:      jc.Name,
			Timer:     tm,
			Autostart: jc.AutostartEnabled(),
		})
	}
	return jobs, nil
}

// validateJobs is the config-reload gate: it dry-runs the schedule and
// duration parsing for every job without touching live timers.
func validateJobs(cfg *config.Config, now time.Time) error {
	for i := range cfg.Jobs {
		jc := &cfg.Jobs[i]
		if _, err := buildParams(jc, now); err != nil {
			return err
		}
		if _, err := config.ParseDurationField("command_timeout", jc.CommandTimeout); err != nil {
			return fmt.Errorf("job %q: %w", jc.Name, err)
		}
	}
	return nil
}
