package application

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically releases reservations whose operations never reported
// a settlement, so abandoned holds don't pin subscription balance forever.
type Sweeper struct {
	tracker  *UsageTracker
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewSweeper creates a sweeper that runs every interval and releases live
// reservations older than maxAge.
func NewSweeper(tracker *UsageTracker, interval, maxAge time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		tracker:  tracker,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger,
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(ctx)

	s.logger.Info("reservation sweeper started",
		"interval", s.interval,
		"max_age", s.maxAge,
	)
}

// Stop halts the sweep loop and waits for the current pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	<-s.done
	s.running = false

	s.logger.Info("reservation sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			released, err := s.tracker.Sweep(ctx, s.maxAge)
			if err != nil {
				s.logger.Error("reservation sweep failed", "error", err)
				continue
			}
			if released > 0 {
				s.logger.Info("reservation sweep complete", "released", released)
			}
		}
	}
}
