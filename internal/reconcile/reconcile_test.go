// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jeranaias/promptlab/internal/storage"
	"github.com/jeranaias/promptlab/internal/telemetry"
)

// flakyMetrics fails the first n Appends.
type flakyMetrics struct {
	*telemetry.MemoryStore
	mu       sync.Mutex
	failures int
}

func (f *flakyMetrics) Append(ctx context.Context, rec telemetry.ExchangeRecord) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("disk full")
	}
	f.mu.Unlock()
	return f.MemoryStore.Append(ctx, rec)
}

func fullJob(t *testing.T) *Job {
	t.Helper()
	now := time.Now()
	conv := &storage.Conversation{ID: "c1", UserID: "u1", Title: "Hello", CreatedAt: now}
	user := storage.NewMessage(storage.RoleUser, "Hello", now)
	asst := storage.NewMessage(storage.RoleAssistant, "Hi!", now)
	rec := telemetry.ExchangeRecord{
		ID: "r1", ConversationID: "c1", UserID: "u1", Provider: "groq", Model: "m",
		LatencyMs: 10, TokensInput: 1, TokensOutput: 2, Tokens: 3,
		CostUSD: decimal.NewFromFloat(0.0001), Timestamp: now,
	}

	job := NewJob("c1", "u1", []Step{StepCreateConversation, StepUserMessage, StepAssistantMessage, StepRecord})
	job.Conversation = conv
	job.UserMessage = &user
	job.AssistantMessage = &asst
	job.Record = &rec
	return job
}

func TestJobValidate(t *testing.T) {
	job := NewJob("c1", "u1", []Step{StepRecord})
	if err := job.Validate(); err == nil {
		t.Error("job without record payload should be invalid")
	}
	if err := NewJob("c1", "u1", nil).Validate(); err == nil {
		t.Error("job without steps should be invalid")
	}
	if err := fullJob(t).Validate(); err != nil {
		t.Errorf("full job invalid: %v", err)
	}
}

func TestQueueEnqueueAndBacklog(t *testing.T) {
	q := NewQueue(10, 2)
	if err := q.Enqueue(fullJob(t)); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(fullJob(t)); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(fullJob(t)); !errors.Is(err, ErrQueueFull) {
		t.Errorf("third Enqueue = %v, want ErrQueueFull", err)
	}
	if q.Backlog() != 2 {
		t.Errorf("Backlog() = %d, want 2", q.Backlog())
	}
	select {
	case <-q.Wake():
	default:
		t.Error("Enqueue did not signal Wake")
	}
	if err := q.Enqueue(NewJob("c", "u", []Step{StepRecord})); err == nil {
		t.Error("invalid job accepted")
	}
}

func TestRunnerReplaysAllSteps(t *testing.T) {
	convs := storage.NewMemoryStore()
	metrics := telemetry.NewMemoryStore()
	q := NewQueue(10, 0)
	r := NewRunner(q, convs, metrics, Options{})

	job := fullJob(t)
	if err := q.Enqueue(job); err != nil {
		t.Fatal(err)
	}
	if done := r.RunOnce(context.Background()); done != 1 {
		t.Fatalf("RunOnce() = %d, want 1", done)
	}

	conv, err := convs.Get(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(conv.Messages) != 2 || conv.Messages[0].Role != storage.RoleUser {
		t.Errorf("messages = %+v", conv.Messages)
	}
	if metrics.Len() != 1 {
		t.Errorf("records = %d, want 1", metrics.Len())
	}
	snap, _ := q.Get(job.ID)
	if snap.Status != StatusDone || len(snap.Steps) != 0 || q.Backlog() != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestRunnerRetriesWithBackoff(t *testing.T) {
	convs := storage.NewMemoryStore()
	metrics := &flakyMetrics{MemoryStore: telemetry.NewMemoryStore(), failures: 2}
	q := NewQueue(10, 0)
	r := NewRunner(q, convs, metrics, Options{Backoff: time.Second, Interval: time.Minute})

	clock := time.Now()
	r.now = func() time.Time { return clock }

	job := fullJob(t)
	q.Enqueue(job)

	if done := r.RunOnce(context.Background()); done != 0 {
		t.Fatalf("first run finished %d jobs", done)
	}
	snap, _ := q.Get(job.ID)
	if snap.Status != StatusPending || len(snap.Steps) != 1 || snap.Steps[0] != StepRecord {
		t.Fatalf("after first attempt = %+v", snap)
	}
	if !snap.NextAttempt.Equal(clock.Add(time.Second)) {
		t.Errorf("NextAttempt = %v, want +1s", snap.NextAttempt)
	}

	// Not due yet.
	if r.RunOnce(context.Background()); metrics.Len() != 0 {
		t.Fatal("job ran before backoff elapsed")
	}

	clock = clock.Add(time.Second)
	r.RunOnce(context.Background())
	snap, _ = q.Get(job.ID)
	if !snap.NextAttempt.Equal(clock.Add(2 * time.Second)) {
		t.Errorf("second backoff NextAttempt = %v, want +2s", snap.NextAttempt)
	}

	clock = clock.Add(2 * time.Second)
	if done := r.RunOnce(context.Background()); done != 1 {
		t.Fatalf("third run done = %d, want 1", done)
	}
	snap, _ = q.Get(job.ID)
	if snap.Attempts != 3 || snap.Status != StatusDone {
		t.Errorf("final = %+v", snap)
	}

	conv, _ := convs.Get(context.Background(), "c1")
	if len(conv.Messages) != 2 {
		t.Errorf("messages replayed more than once: %d", len(conv.Messages))
	}
}

func TestRunnerGivesUp(t *testing.T) {
	metrics := &flakyMetrics{MemoryStore: telemetry.NewMemoryStore(), failures: 100}
	q := NewQueue(10, 0)
	r := NewRunner(q, storage.NewMemoryStore(), metrics, Options{MaxAttempts: 2, Backoff: time.Nanosecond})

	job := NewJob("c1", "u1", []Step{StepRecord})
	job.Record = fullJob(t).Record
	q.Enqueue(job)

	r.RunOnce(context.Background())
	time.Sleep(time.Millisecond)
	r.RunOnce(context.Background())

	snap, _ := q.Get(job.ID)
	if snap.Status != StatusFailed || snap.LastError == "" {
		t.Errorf("snapshot = %+v, want failed", snap)
	}
	if q.Backlog() != 0 {
		t.Errorf("Backlog() = %d, want 0", q.Backlog())
	}
}

func TestRunnerDropsDeletedConversation(t *testing.T) {
	q := NewQueue(10, 0)
	r := NewRunner(q, storage.NewMemoryStore(), telemetry.NewMemoryStore(), Options{})

	job := NewJob("gone", "u1", []Step{StepAssistantMessage})
	msg := storage.NewMessage(storage.RoleAssistant, "late reply", time.Now())
	job.AssistantMessage = &msg
	q.Enqueue(job)

	r.RunOnce(context.Background())
	snap, _ := q.Get(job.ID)
	if snap.Status != StatusDropped {
		t.Errorf("status = %s, want dropped", snap.Status)
	}
}

func TestQueueHistoryCleanup(t *testing.T) {
	q := NewQueue(1, 0)
	r := NewRunner(q, storage.NewMemoryStore(), telemetry.NewMemoryStore(), Options{})
	for i := 0; i < 3; i++ {
		q.Enqueue(fullJob(t))
	}
	r.RunOnce(context.Background())
	if n := len(q.All()); n != 1 {
		t.Errorf("kept %d finished jobs, want 1", n)
	}
}

func TestRunnerStartStop(t *testing.T) {
	convs := storage.NewMemoryStore()
	q := NewQueue(10, 0)
	r := NewRunner(q, convs, telemetry.NewMemoryStore(), Options{Interval: time.Hour})
	r.Start()
	r.Start()

	q.Enqueue(fullJob(t))

	deadline := time.Now().Add(2 * time.Second)
	for q.Backlog() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()
	r.Stop()

	if q.Backlog() != 0 {
		t.Error("runner did not process the job after Enqueue")
	}
}

func TestRunnerWaitsForConversationLock(t *testing.T) {
	convs := storage.NewMemoryStore()
	q := NewQueue(10, 0)
	r := NewRunner(q, convs, telemetry.NewMemoryStore(), Options{})

	release, err := q.Locks().Acquire(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	q.Enqueue(fullJob(t))

	done := make(chan int, 1)
	go func() { done <- r.RunOnce(context.Background()) }()

	select {
	case <-done:
		t.Fatal("RunOnce replayed while an exchange held the conversation")
	case <-time.After(30 * time.Millisecond):
	}
	if _, err := convs.Get(context.Background(), "c1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("conversation written under a held lock: %v", err)
	}

	release()
	select {
	case n := <-done:
		if n != 1 {
			t.Errorf("RunOnce() = %d, want 1", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunOnce did not resume after release")
	}
}

func TestRunnerSettleIgnoresBackoff(t *testing.T) {
	metrics := &flakyMetrics{MemoryStore: telemetry.NewMemoryStore(), failures: 2}
	q := NewQueue(10, 0)
	r := NewRunner(q, storage.NewMemoryStore(), metrics, Options{Backoff: time.Hour, Interval: time.Hour})

	job := NewJob("c1", "u1", []Step{StepRecord})
	job.Record = fullJob(t).Record
	q.Enqueue(job)

	r.RunOnce(context.Background())
	if snap, _ := q.Get(job.ID); snap.Status != StatusPending {
		t.Fatalf("after first attempt = %+v", snap)
	}

	if err := r.Settle(context.Background(), "c1"); !errors.Is(err, ErrUnsettled) {
		t.Fatalf("Settle() with a failing store = %v, want ErrUnsettled", err)
	}
	if err := r.Settle(context.Background(), "other"); err != nil {
		t.Errorf("Settle() on a clean conversation = %v", err)
	}
	if err := r.Settle(context.Background(), "c1"); err != nil {
		t.Fatalf("Settle() = %v, want nil once the store recovers", err)
	}

	snap, _ := q.Get(job.ID)
	if snap.Status != StatusDone || metrics.Len() != 1 {
		t.Errorf("snapshot = %+v records = %d", snap, metrics.Len())
	}
	if r.RunOnce(context.Background()); metrics.Len() != 1 {
		t.Errorf("settled job replayed again: %d records", metrics.Len())
	}
}

func TestLocksHonorContext(t *testing.T) {
	l := NewLocks()
	release, err := l.Acquire(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "c1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() on a held key = %v, want DeadlineExceeded", err)
	}

	other, err := l.Acquire(context.Background(), "c2")
	if err != nil {
		t.Fatalf("different key blocked: %v", err)
	}
	other()

	release()
	release()
	if n := l.Size(); n != 0 {
		t.Errorf("Size() = %d after release, want 0", n)
	}

	release, err = l.Acquire(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	release()
}

func TestBackoffCap(t *testing.T) {
	r := NewRunner(NewQueue(0, 0), nil, nil, Options{Backoff: time.Second, Interval: time.Second})
	if got := r.backoff(20); got != 10*time.Second {
		t.Errorf("backoff(20) = %v, want 10s cap", got)
	}
	if got := r.backoff(1); got != time.Second {
		t.Errorf("backoff(1) = %v, want 1s", got)
	}
}
