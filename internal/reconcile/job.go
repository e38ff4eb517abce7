// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/promptlab/internal/storage"
	"github.com/jeranaias/promptlab/internal/telemetry"
)

// =============================================================================
// JOB STATUS
// =============================================================================

// Status is the state of a reconciliation job.
type Status string

const (
	// StatusPending means writes remain and another attempt is scheduled
	StatusPending Status = "pending"

	// StatusRunning means an attempt is in progress
	StatusRunning Status = "running"

	// StatusDone means every write landed
	StatusDone Status = "done"

	// StatusFailed means the attempt budget ran out
	StatusFailed Status = "failed"

	// StatusDropped means the conversation was deleted before the writes landed
	StatusDropped Status = "dropped"
)

// Terminal reports whether no further attempts will be made.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusDropped
}

// Step is one persistence write of an exchange.
type Step string

const (
	StepCreateConversation Step = "create_conversation"
	StepUserMessage        Step = "user_message"
	StepAssistantMessage   Step = "assistant_message"
	StepRecord             Step = "exchange_record"
)

// =============================================================================
// JOB STRUCTURE
// =============================================================================

// Job carries the writes of one exchange that did not reach the stores.
// Steps run in order; a step is removed once it succeeds.
type Job struct {
	ID             string
	ConversationID string
	UserID         string

	Conversation     *storage.Conversation
	UserMessage      *storage.Message
	AssistantMessage *storage.Message
	Record           *telemetry.ExchangeRecord

	Steps []Step

	Status      Status
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	NextAttempt time.Time

	mu sync.RWMutex
}

// NewJob creates a pending job for the given remaining steps. Payloads for
// steps not listed may be nil.
func NewJob(conversationID, userID string, steps []Step) *Job {
	now := time.Now()
	return &Job{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		UserID:         userID,
		Steps:          append([]Step(nil), steps...),
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		NextAttempt:    now,
	}
}

// Validate checks that every listed step has its payload.
func (j *Job) Validate() error {
	if len(j.Steps) == 0 {
		return fmt.Errorf("job %s has no steps", j.ID)
	}
	for _, s := range j.Steps {
		var ok bool
		switch s {
		case StepCreateConversation:
			ok = j.Conversation != nil
		case StepUserMessage:
			ok = j.UserMessage != nil
		case StepAssistantMessage:
			ok = j.AssistantMessage != nil
		case StepRecord:
			ok = j.Record != nil
		default:
			return fmt.Errorf("job %s: unknown step %q", j.ID, s)
		}
		if !ok {
			return fmt.Errorf("job %s: step %s has no payload", j.ID, s)
		}
	}
	return nil
}

// GetStatus returns the current status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Remaining returns the steps not yet written (thread-safe).
func (j *Job) Remaining() []Step {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]Step(nil), j.Steps...)
}

// due reports whether the job should be attempted at now.
func (j *Job) due(now time.Time) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusPending && !now.Before(j.NextAttempt)
}

func (j *Job) markRunning(now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = StatusRunning
	j.Attempts++
	j.UpdatedAt = now
}

// completeStep drops the first remaining step.
func (j *Job) completeStep() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.Steps) > 0 {
		j.Steps = j.Steps[1:]
	}
}

func (j *Job) finish(status Status, err error, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.UpdatedAt = now
	if err != nil {
		j.LastError = err.Error()
	}
}

func (j *Job) retryAt(at time.Time, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = StatusPending
	j.NextAttempt = at
	j.UpdatedAt = time.Now()
	if err != nil {
		j.LastError = err.Error()
	}
}

// Snapshot is a read-only copy of a job's bookkeeping.
type Snapshot struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Steps          []Step    `json:"remaining_steps"`
	Status         Status    `json:"status"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	NextAttempt    time.Time `json:"next_attempt"`
}

// Snapshot copies the job's state for reporting.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Snapshot{
		ID:             j.ID,
		ConversationID: j.ConversationID,
		UserID:         j.UserID,
		Steps:          append([]Step(nil), j.Steps...),
		Status:         j.Status,
		Attempts:       j.Attempts,
		LastError:      j.LastError,
		CreatedAt:      j.CreatedAt,
		NextAttempt:    j.NextAttempt,
	}
}
