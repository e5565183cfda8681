package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + in-memory tail)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunEntry records one timer event (a fire or a termination).
// Keep it compact and schema-stable.
type RunEntry struct {
	At     time.Time `json:"at"`
	Timer  string    `json:"timer"`
	Cycle  int       `json:"cycle"`
	Event  string    `json:"event"` // "fired" | "terminated"
	TookMS int64     `json:"took_ms,omitempty"`
	Error  string    `json:"error,omitempty"`
}
