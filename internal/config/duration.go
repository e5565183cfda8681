package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string from the config. Empty
// text means "unset" and parses to zero; negative durations are rejected
// because no windowd setting (timeouts, retention, schedule offsets) can
// meaningfully run backwards.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseSecondsField parses a duration field and converts it to whole
// seconds, the granularity schedules run at. Sub-second remainders are
// rejected rather than silently truncated, so "500ms" fails here instead
// of surfacing later as a zero interval.
func ParseSecondsField(path, raw string) (int64, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d%time.Second != 0 {
		return 0, fmt.Errorf("%s: %q must be whole seconds", path, raw)
	}
	return int64(d / time.Second), nil
}
