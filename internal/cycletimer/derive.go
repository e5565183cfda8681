package cycletimer

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dateTimeLayout is the accepted calendar text form for window bounds.
const dateTimeLayout = "2006-01-02 15:04"

// DeriveSchedule converts human-readable window text into a Params record.
//
// startText and stopText use "YYYY-MM-DD HH:MM" interpreted as local
// calendar time in loc (nil means time.Local; daylight saving resolves the
// way the zone database says). intervalText uses "HH:MM", so "00:05" is a
// 5 minute interval. The cycle period is fixed at one day and the cycle
// count is derived so daily repetitions span the start/stop range,
// inclusive of the final partial day:
//
//	"2023-06-13 22:40", "2023-06-14 06:15", "00:05"
//	  -> interval 300s, period 86400s, 1 cycle
//
// Malformed text is reported as an error; nothing is half-applied. The
// translator deliberately does not check stop against start.
func DeriveSchedule(startText, stopText, intervalText string, loc *time.Location) (*Params, error) {
	if loc == nil {
		loc = time.Local
	}

	interval, err := ParseIntervalHHMM(intervalText)
	if err != nil {
		return nil, err
	}
	start, err := parseLocalDateTime(startText, loc)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	stop, err := parseLocalDateTime(stopText, loc)
	if err != nil {
		return nil, fmt.Errorf("stop: %w", err)
	}

	p := NewParams()
	p.Start = start
	p.Stop = stop
	p.Interval = interval
	p.CyclePeriod = DefaultCyclePeriod
	p.CycleCount = int(1 + (stop-start)/DefaultCyclePeriod)
	return p, nil
}

// ParseIntervalHHMM converts "HH:MM" text into total seconds,
// 60*(60*HH + MM). Hours are unbounded above ("26:00" is a valid 26 hour
// interval); minutes must be in [0,59].
func ParseIntervalHHMM(s string) (int64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid interval %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, fmt.Errorf("invalid hour in interval %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in interval %q", s)
	}
	return int64(60 * (60*h + m)), nil
}

func parseLocalDateTime(s string, loc *time.Location) (int64, error) {
	ts, err := time.ParseInLocation(dateTimeLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return 0, fmt.Errorf("invalid date-time %q, expected YYYY-MM-DD HH:MM", s)
	}
	return ts.Unix(), nil
}
