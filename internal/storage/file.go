package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"windowd/pkg/logx"
)

// tailCap bounds the in-memory tail served by RecentRuns.
const tailCap = 1024

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.runs.jsonl (append-only JSON Lines)
//
// RecentRuns is served from an in-memory tail rebuilt on open; PruneBefore
// rewrites the file atomically (tmp + rename).
type fileStore struct {
	log logx.Logger

	mu       sync.Mutex
	runsPath string
	runsFile *os.File
	tail     []RunEntry
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	runsPath := prefix + ".runs.jsonl"
	tail, err := replayRuns(runsPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("run history replay failed; starting with empty tail",
			logx.String("path", runsPath), logx.Any("err", err))
	}

	f, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:      log,
		runsPath: runsPath,
		runsFile: f,
		tail:     tail,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return nil
	}
	err := s.runsFile.Close()
	s.runsFile = nil
	return err
}

func (s *fileStore) AppendRun(ctx context.Context, e RunEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return errors.New("run history file closed")
	}
	if err := json.NewEncoder(s.runsFile).Encode(e); err != nil {
		return err
	}
	s.tail = append(s.tail, e)
	if len(s.tail) > tailCap {
		s.tail = s.tail[len(s.tail)-tailCap:]
	}
	return nil
}

func (s *fileStore) RecentRuns(ctx context.Context, timer string, n int) ([]RunEntry, error) {
	_ = ctx
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RunEntry, 0, n)
	for i := len(s.tail) - 1; i >= 0 && len(out) < n; i-- {
		if timer != "" && s.tail[i].Timer != timer {
			continue
		}
		out = append(out, s.tail[i])
	}
	return out, nil
}

// PruneBefore rewrites the file keeping only entries at or after cutoff.
func (s *fileStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return 0, errors.New("run history file closed")
	}

	in, err := os.Open(s.runsPath)
	if err != nil {
		return 0, err
	}
	tmpPath := s.runsPath + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		_ = in.Close()
		return 0, err
	}

	var removed int64
	enc := json.NewEncoder(tmp)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e RunEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			// Unreadable line: count it out rather than carrying it forever.
			removed++
			continue
		}
		if e.At.Before(cutoff) {
			removed++
			continue
		}
		if err := enc.Encode(e); err != nil {
			_ = in.Close()
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return 0, err
		}
	}
	scanErr := sc.Err()
	_ = in.Close()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	if scanErr != nil {
		_ = os.Remove(tmpPath)
		return 0, scanErr
	}

	// Swap the live append handle under the lock.
	_ = s.runsFile.Close()
	if err := os.Rename(tmpPath, s.runsPath); err != nil {
		s.runsFile, _ = os.OpenFile(s.runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		return 0, err
	}
	f, err := os.OpenFile(s.runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.runsFile = nil
		return removed, err
	}
	s.runsFile = f

	kept := s.tail[:0]
	for _, e := range s.tail {
		if !e.At.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	s.tail = kept
	return removed, nil
}

func replayRuns(path string) ([]RunEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tail []RunEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e RunEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		tail = append(tail, e)
		if len(tail) > tailCap {
			tail = tail[len(tail)-tailCap:]
		}
	}
	return tail, sc.Err()
}
