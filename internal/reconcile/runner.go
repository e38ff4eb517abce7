// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/promptlab/internal/storage"
	"github.com/jeranaias/promptlab/internal/telemetry"
)

// =============================================================================
// RUNNER
// =============================================================================

// Options tune the Runner.
type Options struct {
	// Interval between sweeps of the queue (default 30s)
	Interval time.Duration

	// MaxAttempts before a job is marked failed (default 5)
	MaxAttempts int

	// Backoff is the delay after the first failure; it doubles per attempt
	// and is capped at Interval*10 (default 1s)
	Backoff time.Duration

	// WriteTimeout bounds each store write (default 10s)
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

// Runner replays queued writes against the stores.
type Runner struct {
	queue   *Queue
	convs   storage.ConversationStore
	metrics telemetry.MetricsStore
	opts    Options
	now     func() time.Time

	wg      sync.WaitGroup
	stop    chan struct{}
	stopped atomic.Bool
	started atomic.Bool
}

// NewRunner creates a runner for queue.
func NewRunner(queue *Queue, convs storage.ConversationStore, metrics telemetry.MetricsStore, opts Options) *Runner {
	return &Runner{
		queue:   queue,
		convs:   convs,
		metrics: metrics,
		opts:    opts.withDefaults(),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

// Start begins processing jobs in the background.
func (r *Runner) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	r.wg.Add(1)
	go r.processLoop()
}

// Stop halts processing and waits for the current sweep to finish.
func (r *Runner) Stop() {
	if !r.started.Load() || !r.stopped.CompareAndSwap(false, true) {
		return
	}
	close(r.stop)
	r.wg.Wait()
}

func (r *Runner) processLoop() {
	defer r.wg.Done()

	// Stop must not wait behind an exchange that holds a conversation lock.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-r.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		case <-r.queue.Wake():
		}
		if r.stopped.Load() {
			return
		}
		r.RunOnce(ctx)
	}
}

// RunOnce attempts every due job once and returns how many finished
// successfully. Each job runs under its conversation's lock.
func (r *Runner) RunOnce(ctx context.Context) int {
	done := 0
	for _, job := range r.queue.Due(r.now()) {
		release, err := r.queue.Locks().Acquire(ctx, job.ConversationID)
		if err != nil {
			break
		}
		// An exchange may have settled the job while we waited.
		if job.GetStatus() == StatusPending && r.execute(ctx, job) == StatusDone {
			done++
		}
		release()
	}
	r.queue.cleanup()
	return done
}

// Enqueue adds job to the runner's queue.
func (r *Runner) Enqueue(job *Job) error {
	return r.queue.Enqueue(job)
}

// Locks returns the queue's per-conversation lock.
func (r *Runner) Locks() *Locks {
	return r.queue.Locks()
}

// Settle replays the pending jobs of one conversation now, ignoring backoff.
// The caller must hold the conversation's lock. It returns ErrUnsettled when
// a write still fails; jobs that gave up or were dropped do not block.
func (r *Runner) Settle(ctx context.Context, conversationID string) error {
	for _, job := range r.queue.Pending(conversationID) {
		switch r.execute(ctx, job) {
		case StatusPending:
			return fmt.Errorf("%w: job %s: %s", ErrUnsettled, job.ID, job.Snapshot().LastError)
		case StatusDone:
			log.Printf("RECONCILE_SETTLED | job=%s conversation=%s", job.ID, conversationID)
		}
	}
	return nil
}

// execute runs the remaining steps of job in order.
func (r *Runner) execute(ctx context.Context, job *Job) Status {
	job.markRunning(r.now())

	for _, step := range job.Remaining() {
		err := r.apply(ctx, job, step)
		if err == nil {
			job.completeStep()
			continue
		}

		if errors.Is(err, storage.ErrNotFound) {
			job.finish(StatusDropped, err, r.now())
			log.Printf("RECONCILE_DROPPED | job=%s conversation=%s step=%s", job.ID, job.ConversationID, step)
			return StatusDropped
		}

		snap := job.Snapshot()
		if snap.Attempts >= r.opts.MaxAttempts {
			job.finish(StatusFailed, err, r.now())
			log.Printf("RECONCILE_GIVE_UP | job=%s conversation=%s step=%s attempts=%d error=%v",
				job.ID, job.ConversationID, step, snap.Attempts, err)
			return StatusFailed
		}

		next := r.now().Add(r.backoff(snap.Attempts))
		job.retryAt(next, err)
		log.Printf("RECONCILE_RETRY | job=%s step=%s attempt=%d next=%s error=%v",
			job.ID, step, snap.Attempts, next.Format(time.RFC3339), err)
		return StatusPending
	}

	job.finish(StatusDone, nil, r.now())
	log.Printf("RECONCILE_COMPLETE | job=%s conversation=%s attempts=%d", job.ID, job.ConversationID, job.Snapshot().Attempts)
	return StatusDone
}

func (r *Runner) apply(ctx context.Context, job *Job, step Step) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.WriteTimeout)
	defer cancel()

	switch step {
	case StepCreateConversation:
		conv := job.Conversation.Clone()
		_, err := r.convs.Create(ctx, conv)
		return err
	case StepUserMessage:
		return r.convs.AppendMessage(ctx, job.ConversationID, *job.UserMessage)
	case StepAssistantMessage:
		return r.convs.AppendMessage(ctx, job.ConversationID, *job.AssistantMessage)
	case StepRecord:
		return r.metrics.Append(ctx, *job.Record)
	default:
		return fmt.Errorf("unknown step %q", step)
	}
}

// backoff doubles from opts.Backoff per prior attempt.
func (r *Runner) backoff(attempts int) time.Duration {
	d := r.opts.Backoff
	limit := r.opts.Interval * 10
	for i := 1; i < attempts && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		d = limit
	}
	return d
}
