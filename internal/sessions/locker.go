package sessions

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a session lock is not acquired in time.
var ErrLockTimeout = errors.New("session: lock acquisition timeout")

// Locker serializes work on a session.
type Locker interface {
	Lock(ctx context.Context, sessionID string) error
	Unlock(sessionID string)
}

// LocalLocker is an in-process Locker that grants a session lock to waiters
// strictly in the order they asked for it. Sessions never block each other.
type LocalLocker struct {
	mu      sync.Mutex
	queues  map[string]*lockQueue
	timeout time.Duration
}

type lockQueue struct {
	held    bool
	waiters []chan struct{}
}

// NewLocalLocker returns a LocalLocker. A zero timeout waits until ctx is done.
func NewLocalLocker(timeout time.Duration) *LocalLocker {
	return &LocalLocker{
		queues:  map[string]*lockQueue{},
		timeout: timeout,
	}
}

// Lock blocks until the caller owns the session lock.
func (l *LocalLocker) Lock(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	q := l.queues[sessionID]
	if q == nil {
		q = &lockQueue{}
		l.queues[sessionID] = q
	}
	if !q.held {
		q.held = true
		l.mu.Unlock()
		return nil
	}
	ticket := make(chan struct{})
	q.waiters = append(q.waiters, ticket)
	l.mu.Unlock()

	var timeout <-chan time.Time
	if l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ticket:
		return nil
	case <-ctx.Done():
		return l.abandon(sessionID, ticket, ctx.Err())
	case <-timeout:
		return l.abandon(sessionID, ticket, ErrLockTimeout)
	}
}

// abandon drops a waiter. If the lock was handed over while the waiter was
// giving up, it is passed on to the next in line.
func (l *LocalLocker) abandon(sessionID string, ticket chan struct{}, cause error) error {
	l.mu.Lock()
	q := l.queues[sessionID]
	if q != nil {
		for i, w := range q.waiters {
			if w == ticket {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				l.mu.Unlock()
				return cause
			}
		}
	}
	l.mu.Unlock()

	l.Unlock(sessionID)
	return cause
}

// Unlock releases the session lock to the oldest waiter, if any.
func (l *LocalLocker) Unlock(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.queues[sessionID]
	if q == nil || !q.held {
		return
	}
	if len(q.waiters) > 0 {
		next := q.waiters[0]
		q.waiters = q.waiters[1:]
		close(next)
		return
	}
	delete(l.queues, sessionID)
}

// Waiting reports how many callers are queued behind the current holder.
func (l *LocalLocker) Waiting(sessionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if q := l.queues[sessionID]; q != nil {
		return len(q.waiters)
	}
	return 0
}

// Held reports the number of sessions whose lock is currently owned.
func (l *LocalLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues)
}
