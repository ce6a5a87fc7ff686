// Package queue provides the durable job-id queue consumed by the worker
// pool.
package queue

import (
	"context"
	"errors"
)

// ErrClosed is returned once the queue has been shut down.
var ErrClosed = errors.New("queue closed")

// Queue hands job ids from submitters to workers. Implementations must be
// safe for concurrent producers and consumers.
type Queue interface {
	// Enqueue appends a job id.
	Enqueue(ctx context.Context, jobID string) error
	// Dequeue blocks until a job id is available, the context is done or
	// the queue is closed.
	Dequeue(ctx context.Context) (string, error)
	// Remove deletes a pending job id before any worker picks it up and
	// reports whether it was found.
	Remove(ctx context.Context, jobID string) (bool, error)
	// Close releases resources; blocked Dequeue calls return ErrClosed.
	Close() error
}
