// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"log"
	"sync"
	"time"
)

// =============================================================================
// RETENTION SWEEPER
// =============================================================================

// Sweeper periodically prunes records older than the retention period.
type Sweeper struct {
	store     MetricsStore
	retention time.Duration
	interval  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewSweeper creates a sweeper. retentionDays <= 0 disables pruning; an
// interval <= 0 defaults to one hour.
func NewSweeper(store MetricsStore, retentionDays int, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		now:       time.Now,
	}
}

// Enabled reports whether a retention period is configured.
func (s *Sweeper) Enabled() bool {
	return s.retention > 0
}

// SweepOnce prunes expired records and returns how many were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}
	cutoff := s.now().Add(-s.retention)
	n, err := s.store.Prune(ctx, cutoff)
	if err != nil {
		log.Printf("RETENTION_SWEEP_FAILED | error=%v", err)
		return 0, err
	}
	if n > 0 {
		log.Printf("RETENTION_SWEEP | deleted=%d cutoff=%s", n, cutoff.UTC().Format(time.RFC3339))
	}
	return n, nil
}

// Start runs SweepOnce immediately and then every interval until Stop or
// ctx is done. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.Enabled() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx, s.done)
}

// Stop halts the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	done := s.done
	s.running = false
	s.mu.Unlock()

	<-done
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.SweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}
