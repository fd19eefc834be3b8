package collab

import (
	"context"
	"errors"
	"fmt"

	"naskah/internal/document/model"
)

// docLock is a one-slot semaphore. Blocked senders on a channel are served in
// arrival order, so waiters acquire the lock first come, first served.
type docLock struct {
	sem  chan struct{}
	refs int // holders plus waiters, guarded by Coordinator.mu
}

// acquire blocks until the lock for docID is free or ctx is done. A request
// that gives up while waiting leaves no trace.
func (c *Coordinator) acquire(ctx context.Context, docID string) (release func(), err error) {
	c.mu.Lock()
	l := c.locks[docID]
	if l == nil {
		l = &docLock{sem: make(chan struct{}, 1)}
		c.locks[docID] = l
	}
	l.refs++
	c.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		if err := ctx.Err(); err != nil {
			<-l.sem
			c.unref(docID, l)
			return nil, lockErr(docID, err)
		}
		released := false
		return func() {
			if released {
				return
			}
			released = true
			<-l.sem
			c.unref(docID, l)
		}, nil
	case <-ctx.Done():
		c.unref(docID, l)
		return nil, lockErr(docID, ctx.Err())
	}
}

func (c *Coordinator) unref(docID string, l *docLock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l.refs--
	if l.refs == 0 && c.locks[docID] == l {
		delete(c.locks, docID)
	}
}

func lockErr(docID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", model.ErrTimeout, docID)
	}
	return fmt.Errorf("waiting for lock on %s: %w", docID, err)
}

// lockCount reports how many documents currently have a lock entry.
func (c *Coordinator) lockCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}

// waiters reports holders plus waiters on docID's lock.
func (c *Coordinator) waiters(docID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l := c.locks[docID]; l != nil {
		return l.refs
	}
	return 0
}
