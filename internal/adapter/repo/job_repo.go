package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"vidforge/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	query := `
INSERT INTO jobs (id, asset_id, task, status, metadata)
VALUES ($1, NULLIF($2, ''), $3, $4, $5)
RETURNING created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, query, job.ID, job.AssetID, job.Task, job.Status, meta)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateJob
		}
		return err
	}
	return nil
}

// Transition atomically moves a job to the next status when the current
// status is a legal predecessor, merging the metadata patch. The guarded
// UPDATE is the single-writer lock: concurrent claims on the same job see
// zero rows affected.
func (r *JobRepositoryPG) Transition(ctx context.Context, jobID string, next domain.JobStatus, patch map[string]any) (*domain.Job, error) {
	predecessors := legalPredecessors(next)
	if len(predecessors) == 0 {
		return nil, fmt.Errorf("%w: no state may enter %s", domain.ErrInvalidTransition, next)
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("encode metadata patch: %w", err)
	}

	query := `
UPDATE jobs
SET status = $2,
    metadata = COALESCE(metadata, '{}'::jsonb) || $3::jsonb,
    updated_at = NOW()
WHERE id = $1 AND status = ANY($4)
RETURNING id, COALESCE(asset_id, ''), task, status, metadata, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, query, jobID, next, patchJSON, predecessors)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// Nothing updated: distinguish an unknown id from an illegal move.
	if _, err := r.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: job %s cannot enter %s", domain.ErrInvalidTransition, jobID, next)
}

// GetByID fetches a job snapshot by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
SELECT id, COALESCE(asset_id, ''), task, status, metadata, created_at, updated_at
FROM jobs
WHERE id = $1;
`
	job, err := scanJob(r.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return job, err
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job  domain.Job
		meta []byte
	)
	if err := row.Scan(&job.ID, &job.AssetID, &job.Task, &job.Status, &meta, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &job.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &job, nil
}

func legalPredecessors(next domain.JobStatus) []string {
	var out []string
	for _, status := range []domain.JobStatus{domain.JobStatusPending, domain.JobStatusRunning, domain.JobStatusSuccess, domain.JobStatusFailed} {
		if domain.CanTransition(status, next) {
			out = append(out, string(status))
		}
	}
	return out
}
