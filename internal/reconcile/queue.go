// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned by Enqueue when the backlog limit is reached.
	ErrQueueFull = errors.New("reconciliation queue is full")

	// ErrUnsettled is returned by Settle when a conversation still has
	// writes that did not land.
	ErrUnsettled = errors.New("conversation has unwritten messages")
)

// =============================================================================
// JOB QUEUE
// =============================================================================

// Queue holds reconciliation jobs until they land or give up.
type Queue struct {
	// jobs is the list of all jobs (pending and finished)
	jobs []*Job

	// maxHistory is the maximum number of finished jobs to keep
	maxHistory int

	// maxBacklog is the maximum number of unfinished jobs (0 = unlimited)
	maxBacklog int

	mu sync.RWMutex

	// wake signals the runner that a new job arrived
	wake chan struct{}

	// locks serializes writers per conversation
	locks *Locks
}

// NewQueue creates a queue. maxBacklog 0 means unlimited.
func NewQueue(maxHistory, maxBacklog int) *Queue {
	return &Queue{
		jobs:       make([]*Job, 0),
		maxHistory: maxHistory,
		maxBacklog: maxBacklog,
		wake:       make(chan struct{}, 1),
		locks:      NewLocks(),
	}
}

// Locks returns the per-conversation lock shared by everything that writes
// messages through this queue.
func (q *Queue) Locks() *Locks {
	return q.locks
}

// Enqueue adds a job. The job must carry a payload for each step.
func (q *Queue) Enqueue(job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxBacklog > 0 {
		if n := q.backlogLocked(); n >= q.maxBacklog {
			return fmt.Errorf("%w: %d pending jobs (max: %d)", ErrQueueFull, n, q.maxBacklog)
		}
	}
	q.jobs = append(q.jobs, job)

	select {
	case q.wake <- struct{}{}:
	default:
	}

	log.Printf("RECONCILE_QUEUED | job=%s conversation=%s steps=%v", job.ID, job.ConversationID, job.Steps)
	return nil
}

// Get returns a snapshot of a job by ID.
func (q *Queue) Get(id string) (Snapshot, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, job := range q.jobs {
		if job.ID == id {
			return job.Snapshot(), true
		}
	}
	return Snapshot{}, false
}

// Due returns the jobs ready to be attempted at now.
func (q *Queue) Due(now time.Time) []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []*Job
	for _, job := range q.jobs {
		if job.due(now) {
			out = append(out, job)
		}
	}
	return out
}

// Pending returns the pending jobs of one conversation in enqueue order,
// ignoring their backoff.
func (q *Queue) Pending(conversationID string) []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []*Job
	for _, job := range q.jobs {
		if job.ConversationID == conversationID && job.GetStatus() == StatusPending {
			out = append(out, job)
		}
	}
	return out
}

// Backlog returns the number of unfinished jobs.
func (q *Queue) Backlog() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.backlogLocked()
}

func (q *Queue) backlogLocked() int {
	n := 0
	for _, job := range q.jobs {
		if !job.GetStatus().Terminal() {
			n++
		}
	}
	return n
}

// Stats counts jobs by status.
func (q *Queue) Stats() map[Status]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := map[Status]int{
		StatusPending: 0,
		StatusRunning: 0,
		StatusDone:    0,
		StatusFailed:  0,
		StatusDropped: 0,
	}
	for _, job := range q.jobs {
		out[job.GetStatus()]++
	}
	return out
}

// All returns snapshots of every job, oldest first.
func (q *Queue) All() []Snapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Snapshot, len(q.jobs))
	for i, job := range q.jobs {
		out[i] = job.Snapshot()
	}
	return out
}

// Wake returns a channel that receives after Enqueue.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// cleanup removes the oldest finished jobs beyond maxHistory.
func (q *Queue) cleanup() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxHistory <= 0 {
		return
	}

	finished := 0
	for _, job := range q.jobs {
		if job.GetStatus().Terminal() {
			finished++
		}
	}
	if finished <= q.maxHistory {
		return
	}

	toRemove := finished - q.maxHistory
	kept := make([]*Job, 0, len(q.jobs)-toRemove)
	for _, job := range q.jobs {
		if toRemove > 0 && job.GetStatus().Terminal() {
			toRemove--
			continue
		}
		kept = append(kept, job)
	}
	q.jobs = kept
}

// Summary returns a formatted one-line summary of the queue.
func (q *Queue) Summary() string {
	s := q.Stats()
	return fmt.Sprintf("Pending: %d | Running: %d | Done: %d | Failed: %d | Dropped: %d",
		s[StatusPending], s[StatusRunning], s[StatusDone], s[StatusFailed], s[StatusDropped])
}
