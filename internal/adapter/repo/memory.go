package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vidforge/internal/domain"
)

// MemoryJobRepository keeps job state in-memory. It is safe for concurrent
// use and primarily intended for development or tests.
type MemoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

// NewMemoryJobRepository constructs an in-memory job repository.
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]*domain.Job)}
}

// Create inserts a new job, rejecting reused ids.
func (r *MemoryJobRepository) Create(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return domain.ErrDuplicateJob
	}
	stored := *job
	if stored.Status == "" {
		stored.Status = domain.JobStatusPending
	}
	stored.Metadata = domain.MergeMetadata(nil, job.Metadata)
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.jobs[job.ID] = &stored
	job.Status = stored.Status
	job.CreatedAt = stored.CreatedAt
	job.UpdatedAt = stored.UpdatedAt
	return nil
}

// Transition atomically validates and applies a status change, merging the
// metadata patch.
func (r *MemoryJobRepository) Transition(ctx context.Context, jobID string, next domain.JobStatus, patch map[string]any) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !domain.CanTransition(job.Status, next) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, next)
	}
	job.Status = next
	job.Metadata = domain.MergeMetadata(job.Metadata, patch)
	job.UpdatedAt = time.Now().UTC()
	snapshot := *job
	snapshot.Metadata = domain.MergeMetadata(nil, job.Metadata)
	return &snapshot, nil
}

// GetByID returns a snapshot of the job.
func (r *MemoryJobRepository) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	snapshot := *job
	snapshot.Metadata = domain.MergeMetadata(nil, job.Metadata)
	return &snapshot, nil
}

// hasActiveForAssets reports whether any non-terminal job references one
// of the given assets as input.
func (r *MemoryJobRepository) hasActiveForAssets(ids map[string]bool) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, job := range r.jobs {
		if ids[job.AssetID] && !job.Status.Terminal() {
			return true
		}
	}
	return false
}

// deleteForAssets removes jobs referencing any of the given assets.
func (r *MemoryJobRepository) deleteForAssets(ids map[string]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, job := range r.jobs {
		if ids[job.AssetID] {
			delete(r.jobs, id)
		}
	}
}

// MemoryAssetRepository keeps the asset derivation graph in-memory.
type MemoryAssetRepository struct {
	mu     sync.RWMutex
	assets map[string]*domain.Asset
	order  []string // insertion order, for stable listings
	jobs   *MemoryJobRepository
}

// NewMemoryAssetRepository constructs an in-memory asset repository. The
// job repository is consulted for the active-job check on subtree deletes
// and may be nil.
func NewMemoryAssetRepository(jobs *MemoryJobRepository) *MemoryAssetRepository {
	return &MemoryAssetRepository{assets: make(map[string]*domain.Asset), jobs: jobs}
}

// CreateOriginal registers an uploaded asset.
func (r *MemoryAssetRepository) CreateOriginal(ctx context.Context, asset *domain.Asset) error {
	if asset.Kind == "" {
		asset.Kind = domain.AssetKindOriginal
	}
	if err := asset.ValidateKind(); err != nil {
		return err
	}
	if asset.Kind != domain.AssetKindOriginal {
		return domain.ErrInvalidKind
	}
	return r.insert(asset)
}

// CreateDerived registers an asset produced by a pipeline stage.
func (r *MemoryAssetRepository) CreateDerived(ctx context.Context, asset *domain.Asset) error {
	if err := asset.ValidateKind(); err != nil {
		return err
	}
	if asset.Kind == domain.AssetKindOriginal {
		return domain.ErrInvalidKind
	}
	r.mu.RLock()
	_, parentOK := r.assets[asset.ParentID]
	r.mu.RUnlock()
	if !parentOK {
		return domain.ErrParentNotFound
	}
	return r.insert(asset)
}

func (r *MemoryAssetRepository) insert(asset *domain.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	if _, exists := r.assets[asset.ID]; exists {
		return fmt.Errorf("asset %s already exists", asset.ID)
	}
	stored := *asset
	stored.CreatedAt = time.Now().UTC()
	r.assets[stored.ID] = &stored
	r.order = append(r.order, stored.ID)
	asset.CreatedAt = stored.CreatedAt
	return nil
}

// GetByID returns a snapshot of the asset.
func (r *MemoryAssetRepository) GetByID(ctx context.Context, id string) (*domain.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	asset, ok := r.assets[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	snapshot := *asset
	return &snapshot, nil
}

// ListOriginals returns every root of the derivation forest in creation
// order.
func (r *MemoryAssetRepository) ListOriginals(ctx context.Context) ([]domain.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var originals []domain.Asset
	for _, id := range r.order {
		if asset := r.assets[id]; asset != nil && asset.Kind == domain.AssetKindOriginal {
			originals = append(originals, *asset)
		}
	}
	return originals, nil
}

// ListChildren returns the direct derivations of an asset in creation
// order.
func (r *MemoryAssetRepository) ListChildren(ctx context.Context, id string) ([]domain.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.assets[id]; !ok {
		return nil, domain.ErrNotFound
	}
	var children []domain.Asset
	for _, childID := range r.order {
		if child := r.assets[childID]; child != nil && child.ParentID == id {
			children = append(children, *child)
		}
	}
	return children, nil
}

// ListVersions returns every direct and transitive derivation of an asset
// in creation order.
func (r *MemoryAssetRepository) ListVersions(ctx context.Context, id string) ([]domain.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.assets[id]; !ok {
		return nil, domain.ErrNotFound
	}
	subtree := r.collectSubtree(id)
	delete(subtree, id)
	var versions []domain.Asset
	for _, candidate := range r.order {
		if subtree[candidate] {
			versions = append(versions, *r.assets[candidate])
		}
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].CreatedAt.Before(versions[j].CreatedAt)
	})
	return versions, nil
}

// DeleteSubtree removes the asset and every descendant atomically,
// together with the terminal jobs referencing them. It refuses when any
// member is referenced by an active job.
func (r *MemoryAssetRepository) DeleteSubtree(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assets[id]; !ok {
		return domain.ErrNotFound
	}
	subtree := r.collectSubtree(id)

	// The job repository never calls back into the asset graph, so nesting
	// its lock here keeps the whole delete serializable.
	if r.jobs != nil && r.jobs.hasActiveForAssets(subtree) {
		return domain.ErrHasActiveJobs
	}

	for member := range subtree {
		delete(r.assets, member)
	}
	remaining := r.order[:0]
	for _, candidate := range r.order {
		if !subtree[candidate] {
			remaining = append(remaining, candidate)
		}
	}
	r.order = remaining

	if r.jobs != nil {
		r.jobs.deleteForAssets(subtree)
	}
	return nil
}

// collectSubtree walks derived_from depth-first from id. Callers hold at
// least a read lock.
func (r *MemoryAssetRepository) collectSubtree(id string) map[string]bool {
	subtree := map[string]bool{id: true}
	stack := []string{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for candidate, asset := range r.assets {
			if asset.ParentID == current && !subtree[candidate] {
				subtree[candidate] = true
				stack = append(stack, candidate)
			}
		}
	}
	return subtree
}

// MemoryOverlayRepository keeps overlay audit records in-memory.
type MemoryOverlayRepository struct {
	mu      sync.RWMutex
	records map[string][]domain.OverlayRecord
}

// NewMemoryOverlayRepository constructs an in-memory overlay repository.
func NewMemoryOverlayRepository() *MemoryOverlayRepository {
	return &MemoryOverlayRepository{records: make(map[string][]domain.OverlayRecord)}
}

// SaveAll appends the configs as audit records for the asset.
func (r *MemoryOverlayRepository) SaveAll(ctx context.Context, assetID string, configs []domain.OverlayConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, cfg := range configs {
		r.records[assetID] = append(r.records[assetID], domain.OverlayRecord{
			ID:        uuid.NewString(),
			AssetID:   assetID,
			Config:    cfg,
			CreatedAt: now,
		})
	}
	return nil
}

// ListByAssetID returns the audit records for an asset in insertion order.
func (r *MemoryOverlayRepository) ListByAssetID(ctx context.Context, assetID string) ([]domain.OverlayRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.OverlayRecord(nil), r.records[assetID]...), nil
}
