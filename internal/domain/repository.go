package domain

import "context"

// JobRepository defines persistence for job records and their atomic status
// transitions.
type JobRepository interface {
	// Create inserts a new PENDING job. Returns ErrDuplicateJob if the id
	// is already taken.
	Create(ctx context.Context, job *Job) error
	// Transition atomically validates the current status is a legal
	// predecessor of next, merges patch into the job metadata and writes.
	// Returns ErrInvalidTransition or ErrNotFound, and the updated snapshot
	// on success.
	Transition(ctx context.Context, jobID string, next JobStatus, patch map[string]any) (*Job, error)
	GetByID(ctx context.Context, jobID string) (*Job, error)
}

// AssetRepository owns the derivation graph of media assets. Pure data
// access; no business rules beyond referential integrity.
type AssetRepository interface {
	CreateOriginal(ctx context.Context, asset *Asset) error
	// CreateDerived inserts an asset with ParentID set. Returns
	// ErrParentNotFound when the parent does not resolve and ErrInvalidKind
	// when the kind/quality invariants are violated.
	CreateDerived(ctx context.Context, asset *Asset) error
	GetByID(ctx context.Context, id string) (*Asset, error)
	// ListOriginals returns the roots of the derivation forest, oldest
	// first.
	ListOriginals(ctx context.Context) ([]Asset, error)
	ListChildren(ctx context.Context, id string) ([]Asset, error)
	// ListVersions returns every asset derived from id, direct and
	// transitive, ordered by creation time.
	ListVersions(ctx context.Context, id string) ([]Asset, error)
	// DeleteSubtree removes the asset and every descendant reachable via
	// derived_from, atomically. Returns ErrHasActiveJobs without deleting
	// anything if any member is referenced by a non-terminal job.
	DeleteSubtree(ctx context.Context, id string) error
}

// OverlayRepository persists compositing configs for audit.
type OverlayRepository interface {
	SaveAll(ctx context.Context, assetID string, configs []OverlayConfig) error
	ListByAssetID(ctx context.Context, assetID string) ([]OverlayRecord, error)
}
