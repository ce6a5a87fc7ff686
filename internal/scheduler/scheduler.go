// Package scheduler runs the worker pool that claims queued jobs and
// drives them through the pipeline composer.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"vidforge/internal/domain"
	"vidforge/internal/pipeline"
	"vidforge/internal/queue"
)

// CancelStore holds cancellation markers for running jobs. It must be
// shared by every process that can run or cancel a job.
type CancelStore interface {
	Mark(ctx context.Context, jobID string) error
	IsMarked(ctx context.Context, jobID string) (bool, error)
	Clear(ctx context.Context, jobID string) error
}

// MemoryCancelStore is the single-process marker store.
type MemoryCancelStore struct {
	mu     sync.Mutex
	marked map[string]struct{}
}

// NewMemoryCancelStore constructs an in-memory cancel store.
func NewMemoryCancelStore() *MemoryCancelStore {
	return &MemoryCancelStore{marked: make(map[string]struct{})}
}

func (s *MemoryCancelStore) Mark(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked[jobID] = struct{}{}
	return nil
}

func (s *MemoryCancelStore) IsMarked(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.marked[jobID]
	return ok, nil
}

func (s *MemoryCancelStore) Clear(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.marked, jobID)
	return nil
}

// Scheduler dequeues job ids, claims each job with an atomic
// PENDING->RUNNING transition and commits the terminal state the composer
// produces. Exactly one worker wins a claim; losers skip the id.
type Scheduler struct {
	jobs     domain.JobRepository
	queue    queue.Queue
	composer *pipeline.Composer
	cancels  CancelStore
	logger   zerolog.Logger
	workers  int
}

// New constructs a Scheduler with the given worker count.
func New(jobs domain.JobRepository, q queue.Queue, composer *pipeline.Composer, cancels CancelStore, logger zerolog.Logger, workers int) *Scheduler {
	if workers <= 0 {
		workers = 2
	}
	if cancels == nil {
		cancels = NewMemoryCancelStore()
	}
	return &Scheduler{
		jobs:     jobs,
		queue:    q,
		composer: composer,
		cancels:  cancels,
		logger:   logger,
		workers:  workers,
	}
}

// Run blocks, consuming the queue with the configured number of workers,
// until the context is done or the queue closes.
func (s *Scheduler) Run(ctx context.Context) error {
	var g errgroup.Group
	for w := 0; w < s.workers; w++ {
		w := w
		g.Go(func() error {
			return s.worker(ctx, w)
		})
	}
	return g.Wait()
}

func (s *Scheduler) worker(ctx context.Context, id int) error {
	log := s.logger.With().Int("worker", id).Logger()
	for {
		jobID, err := s.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			log.Error().Err(err).Msg("scheduler: dequeue failed")
			continue
		}
		s.process(ctx, log, jobID)
	}
}

// process claims and runs a single job. Claim conflicts are expected when
// a job was cancelled between enqueue and dequeue.
func (s *Scheduler) process(ctx context.Context, log zerolog.Logger, jobID string) {
	job, err := s.jobs.Transition(ctx, jobID, domain.JobStatusRunning, nil)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			log.Debug().Str("job_id", jobID).Msg("scheduler: job not claimable, skipping")
			return
		}
		log.Error().Err(err).Str("job_id", jobID).Msg("scheduler: claim failed")
		return
	}
	defer func() {
		if err := s.cancels.Clear(context.WithoutCancel(ctx), jobID); err != nil {
			log.Warn().Err(err).Str("job_id", jobID).Msg("scheduler: clear cancel marker failed")
		}
	}()

	log.Info().Str("job_id", jobID).Str("task", string(job.Task)).Msg("scheduler: job started")
	result, runErr := s.composer.Execute(ctx, job, func() bool {
		marked, err := s.cancels.IsMarked(ctx, jobID)
		return err == nil && marked
	})

	meta := result.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	next := domain.JobStatusSuccess
	if runErr != nil {
		next = domain.JobStatusFailed
		if errors.Is(runErr, pipeline.ErrCancelled) {
			meta["error"] = "cancelled"
		} else {
			meta["error"] = runErr.Error()
		}
		log.Error().Err(runErr).Str("job_id", jobID).Msg("scheduler: job failed")
	} else {
		log.Info().Str("job_id", jobID).Msg("scheduler: job succeeded")
	}

	// The terminal commit must not be lost to the shutdown signal.
	if _, err := s.jobs.Transition(context.WithoutCancel(ctx), jobID, next, meta); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Str("status", string(next)).Msg("scheduler: terminal commit failed")
	}
}

// Cancel aborts a job. A queued job fails immediately and leaves the
// queue; a running job is marked and stops at the next stage boundary.
// Terminal jobs cannot be cancelled.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, jobID, job.Status)
	}

	if job.Status == domain.JobStatusPending {
		updated, err := s.jobs.Transition(ctx, jobID, domain.JobStatusFailed, map[string]any{"error": "cancelled"})
		if err == nil {
			if _, rmErr := s.queue.Remove(ctx, jobID); rmErr != nil {
				s.logger.Warn().Err(rmErr).Str("job_id", jobID).Msg("scheduler: dequeue of cancelled job failed")
			}
			return updated, nil
		}
		if !errors.Is(err, domain.ErrInvalidTransition) {
			return nil, err
		}
		// A worker claimed it in the meantime; fall through to the
		// running path.
	}

	if err := s.cancels.Mark(ctx, jobID); err != nil {
		return nil, fmt.Errorf("mark cancel for %s: %w", jobID, err)
	}
	return s.jobs.GetByID(ctx, jobID)
}
