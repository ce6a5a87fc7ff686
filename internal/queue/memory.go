package queue

import (
	"context"
	"sync"
)

// Memory is an in-process queue for development and tests. Ids are held in
// FIFO order; a condition variable wakes blocked consumers.
type Memory struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []string
	closed bool
}

// NewMemory constructs an in-memory queue.
func NewMemory() *Memory {
	q := &Memory{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a job id and wakes one consumer.
func (q *Memory) Enqueue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, jobID)
	q.cond.Signal()
	return nil
}

// Dequeue blocks until an id is available, the context is done or the
// queue closes.
func (q *Memory) Dequeue(ctx context.Context) (string, error) {
	// Wake the waiter when the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if len(q.items) > 0 {
			jobID := q.items[0]
			q.items = q.items[1:]
			return jobID, nil
		}
		if q.closed {
			return "", ErrClosed
		}
		q.cond.Wait()
	}
}

// Remove deletes a queued id before a worker claims it.
func (q *Memory) Remove(ctx context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item == jobID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Close shuts the queue down and releases blocked consumers.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
	return nil
}
