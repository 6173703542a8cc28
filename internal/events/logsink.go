package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// bakTimeFormat sorts lexically in time order.
const bakTimeFormat = "2006-01-02T15-04-05.000"

// largeLogBytes is the size above which a rotated log is worth a warning.
const largeLogBytes = 100 << 20

// LogSink appends every event as one JSON line. Each run starts a fresh
// file; the previous run's log is kept as <path>.<time>.bak.
type LogSink struct {
	path       string
	logger     *slog.Logger
	maxBackups int

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	written int
	started bool
	done    chan struct{}
}

// LogSinkOption configures a LogSink.
type LogSinkOption func(*LogSink)

// WithMaxBackups keeps at most n rotated logs; 0 keeps all of them.
func WithMaxBackups(n int) LogSinkOption {
	return func(s *LogSink) {
		s.maxBackups = max(0, n)
	}
}

// NewLogSink creates a sink writing to path. Write failures are reported
// to logger; nil uses slog.Default().
func NewLogSink(path string, logger *slog.Logger, opts ...LogSinkOption) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &LogSink{
		path:   path,
		logger: logger,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the log file and writes events until ctx ends or events is
// closed.
func (s *LogSink) Start(ctx context.Context, events <-chan Event) error {
	if err := s.open(); err != nil {
		return err
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	go s.run(ctx, events)
	return nil
}

func (s *LogSink) open() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	if err := s.rotate(); err != nil {
		return err
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	s.mu.Lock()
	s.file = file
	s.encoder = json.NewEncoder(file)
	s.mu.Unlock()
	return nil
}

// rotate moves a non-empty log aside so tail -f sees a fresh file.
func (s *LogSink) rotate() error {
	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}

	if info.Size() > largeLogBytes {
		s.logger.Warn("large event log rotated",
			"size_mb", info.Size()>>20,
			"path", s.path)
	}

	bak := fmt.Sprintf("%s.%s.bak", s.path, time.Now().Format(bakTimeFormat))
	if err := os.Rename(s.path, bak); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}
	s.prune()
	return nil
}

// prune removes the oldest backups beyond maxBackups.
func (s *LogSink) prune() {
	if s.maxBackups == 0 {
		return
	}
	baks, err := filepath.Glob(s.path + ".*.bak")
	if err != nil || len(baks) <= s.maxBackups {
		return
	}
	sort.Strings(baks)
	for _, old := range baks[:len(baks)-s.maxBackups] {
		if err := os.Remove(old); err != nil {
			s.logger.Warn("remove old event log", "path", old, "error", err)
		}
	}
}

func (s *LogSink) run(ctx context.Context, events <-chan Event) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.write(event)
		}
	}
}

func (s *LogSink) write(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.encoder == nil {
		return
	}
	if err := s.encoder.Encode(event); err != nil {
		s.logger.Error("event log write failed", "type", event.Type(), "error", err)
		return
	}
	s.written++
}

// Written returns how many events have been written.
func (s *LogSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Stop waits for the writer to finish and closes the file. It is a no-op
// if Start never succeeded.
func (s *LogSink) Stop() error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.encoder = nil
	return err
}

// Path returns the log file path.
func (s *LogSink) Path() string {
	return s.path
}
