package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"windowd/pkg/logx"
)

// Store is the run-history persistence API used by the daemon.
type Store interface {
	AppendRun(ctx context.Context, e RunEntry) error
	// RecentRuns returns up to n entries, newest first. An empty timer
	// name matches all timers.
	RecentRuns(ctx context.Context, timer string, n int) ([]RunEntry, error)
	// PruneBefore removes entries older than cutoff and reports how many.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
