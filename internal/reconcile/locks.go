// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"context"
	"sync"
)

// Locks is a keyed mutex with one holder per conversation id. The
// orchestrator holds a conversation's lock for a whole exchange and the
// Runner holds it while replaying that conversation's writes, so messages
// land in exchange order. Entries are reference counted and removed when
// nobody holds or waits on them.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewLocks creates an empty keyed mutex.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*keyLock)}
}

// Acquire blocks until the lock for key is held or ctx is done. The returned
// release is safe to call more than once.
func (l *Locks) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, lk)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.sem
			l.unref(key, lk)
		})
	}, nil
}

func (l *Locks) unref(key string, lk *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
}

// Size returns the number of live entries.
func (l *Locks) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
