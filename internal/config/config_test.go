package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return p
}

const sampleYAML = `
logging:
  level: debug
  console: true
  file:
    enabled: true
    path: ./windowd.log
storage:
  driver: file
  path: ./history
  retention: 168h
watch_config: true
jobs:
  - name: night-watch
    window:
      start: "2023-06-13 22:40"
      stop: "2023-06-14 06:15"
      interval: "00:05"
    timezone: Europe/Berlin
    command: ["/usr/local/bin/capture", "--once"]
    command_timeout: 30s
  - name: warmup
    relative:
      delay: 10m
      active: 1h
      interval: 30s
      cycles: 2
    command: ["/bin/echo", "tick"]
    autostart: false
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	p := writeTemp(t, "windowd.yaml", sampleYAML)

	m := NewManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging section mismatch: %+v", cfg.Logging)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage section mismatch: %+v", cfg.Storage)
	}
	if !cfg.WatchConfig {
		t.Fatal("watch_config not decoded")
	}
	if len(cfg.Jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(cfg.Jobs))
	}

	night := cfg.Jobs[0]
	if night.Window == nil || night.Window.Interval != "00:05" {
		t.Fatalf("window job mismatch: %+v", night)
	}
	if !night.AutostartEnabled() {
		t.Fatal("omitted autostart must default to true")
	}
	if got := night.Command[0]; got != "/usr/local/bin/capture" {
		t.Fatalf("command = %q", got)
	}

	warm := cfg.Jobs[1]
	if warm.Relative == nil || warm.Relative.Cycles != 2 {
		t.Fatalf("relative job mismatch: %+v", warm)
	}
	if warm.AutostartEnabled() {
		t.Fatal("explicit autostart=false ignored")
	}

	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	p := writeTemp(t, "windowd.yaml", `
logging:
  level: info
jobs:
  - name: a
    relative: {delay: 1s, active: 2s, interval: 1s}
    command: ["/bin/true"]
    intervall_multiplier: 2
`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestParseRejectsTrailingJSON(t *testing.T) {
	t.Parallel()
	p := writeTemp(t, "windowd.json", `{"logging":{"level":"info"},"jobs":[]}{"extra":1}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("trailing JSON accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	job := func(mut func(*JobConfig)) Config {
		j := JobConfig{
			Name:     "a",
			Relative: &RelativeConfig{Delay: "1s", Active: "2s", Interval: "1s"},
			Command:  []string{"/bin/true"},
		}
		mut(&j)
		return Config{Jobs: []JobConfig{j}}
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "valid", cfg: job(func(*JobConfig) {}), wantErr: ""},
		{name: "missing name", cfg: job(func(j *JobConfig) { j.Name = " " }), wantErr: "name required"},
		{name: "no schedule", cfg: job(func(j *JobConfig) { j.Relative = nil }), wantErr: "exactly one"},
		{
			name: "both schedules",
			cfg: job(func(j *JobConfig) {
				j.Window = &WindowConfig{Start: "x", Stop: "y", Interval: "00:01"}
			}),
			wantErr: "exactly one",
		},
		{name: "empty command", cfg: job(func(j *JobConfig) { j.Command = nil }), wantErr: "command required"},
		{
			name: "duplicate names",
			cfg: Config{Jobs: []JobConfig{
				{Name: "a", Relative: &RelativeConfig{}, Command: []string{"/bin/true"}},
				{Name: "a", Relative: &RelativeConfig{}, Command: []string{"/bin/true"}},
			}},
			wantErr: "duplicate name",
		},
		{
			name:    "bad storage driver",
			cfg:     Config{Storage: &StorageConfig{Driver: "redis"}},
			wantErr: "unknown driver",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 90s "); err != nil || d != 90*time.Second {
		t.Fatalf("got (%v, %v)", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("junk duration accepted")
	}
}

func TestParseSecondsField(t *testing.T) {
	t.Parallel()
	if s, err := ParseSecondsField("x", "90s"); err != nil || s != 90 {
		t.Fatalf("got (%v, %v)", s, err)
	}
	if s, err := ParseSecondsField("x", "2h30m"); err != nil || s != 9000 {
		t.Fatalf("got (%v, %v)", s, err)
	}
	if s, err := ParseSecondsField("x", ""); err != nil || s != 0 {
		t.Fatalf("empty: got (%v, %v)", s, err)
	}
	if _, err := ParseSecondsField("x", "500ms"); err == nil {
		t.Fatal("sub-second duration accepted")
	}
	if _, err := ParseSecondsField("x", "1.5s"); err == nil {
		t.Fatal("fractional seconds accepted")
	}
}
