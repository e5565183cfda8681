package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage controls the optional run-history persistence layer.
	// Omitted means history is not recorded.
	Storage *StorageConfig `json:"storage,omitempty"`

	// WatchConfig enables live reload of the config file. Only the logging
	// section applies in flight; job changes require a restart.
	WatchConfig bool `json:"watch_config,omitempty"`

	Jobs []JobConfig `json:"jobs"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls run-history persistence.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./windowd_history" }
type StorageConfig struct {
	// Driver is one of none, file, or sqlite.
	Driver string `json:"driver"`
	Path   string `json:"path"`
	// BusyTimeout is a Go duration string, sqlite driver only.
	BusyTimeout string `json:"busy_timeout,omitempty"`

	// Retention is how long run entries are kept; "0s" disables pruning.
	Retention string `json:"retention,omitempty"`
	// PruneSchedule is a cron expression for the prune job.
	// Default: "0 3 * * *".
	PruneSchedule string `json:"prune_schedule,omitempty"`
}

// JobConfig declares one timer. Exactly one of Window or Relative must be
// set.
//
// All duration fields are Go duration strings (e.g. "30s", "5m", "1h").
type JobConfig struct {
	Name string `json:"name"`

	// Window schedules by calendar date-time text.
	Window *WindowConfig `json:"window,omitempty"`
	// Relative schedules by offsets from daemon start.
	Relative *RelativeConfig `json:"relative,omitempty"`

	// Command is run on every fire; Command[0] is the binary.
	Command []string `json:"command"`
	// CommandTimeout bounds one invocation. "0s" means no limit.
	CommandTimeout string `json:"command_timeout,omitempty"`

	IntervalMultiplier int64 `json:"interval_multiplier,omitempty"`

	// Autostart resumes the timer right after creation. A pointer so an
	// omitted field defaults to true while an explicit false is honored.
	Autostart *bool `json:"autostart,omitempty"`

	// Timezone for Window date-time text (IANA name). Empty means local.
	Timezone string `json:"timezone,omitempty"`
}

// WindowConfig uses "YYYY-MM-DD HH:MM" bounds and an "HH:MM" interval.
// Spanning several days yields one cycle per started day.
type WindowConfig struct {
	Start    string `json:"start"`
	Stop     string `json:"stop"`
	Interval string `json:"interval"`
}

// RelativeConfig opens the window Delay after daemon start and keeps it
// open for Active.
type RelativeConfig struct {
	Delay       string `json:"delay"`
	Active      string `json:"active"`
	Interval    string `json:"interval"`
	CyclePeriod string `json:"cycle_period,omitempty"` // default 24h
	Cycles      int    `json:"cycles,omitempty"`       // default 1
}

func (j *JobConfig) AutostartEnabled() bool {
	return j.Autostart == nil || *j.Autostart
}

// Validate checks structural constraints that the strict decoder cannot:
// unique job names, exactly one schedule form, a non-empty command.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Jobs))
	for i := range c.Jobs {
		j := &c.Jobs[i]
		name := strings.TrimSpace(j.Name)
		if name == "" {
			return fmt.Errorf("jobs[%d]: name required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("jobs[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}

		if (j.Window == nil) == (j.Relative == nil) {
			return fmt.Errorf("job %q: exactly one of window or relative required", name)
		}
		if len(j.Command) == 0 || strings.TrimSpace(j.Command[0]) == "" {
			return fmt.Errorf("job %q: command required", name)
		}
	}
	if c.Storage != nil {
		switch strings.TrimSpace(c.Storage.Driver) {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("storage: unknown driver %q", c.Storage.Driver)
		}
	}
	return nil
}
