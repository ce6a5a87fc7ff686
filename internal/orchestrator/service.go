// Package orchestrator exposes the application service the transport layer
// calls into: job submission, status, results and asset lifecycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vidforge/internal/domain"
	"vidforge/internal/engine"
	"vidforge/internal/queue"
	"vidforge/internal/storage"
)

// Canceller aborts jobs. Satisfied by the scheduler.
type Canceller interface {
	Cancel(ctx context.Context, jobID string) (*domain.Job, error)
}

// Service wires validation, persistence and the queue behind a single
// facade. Validation failures surface as typed errors before any job is
// created; deeper failures are recorded on the job itself.
type Service struct {
	jobs      domain.JobRepository
	assets    domain.AssetRepository
	queue     queue.Queue
	store     *storage.FileStore
	canceller Canceller
	logger    zerolog.Logger
}

// NewService constructs the orchestration facade.
func NewService(jobs domain.JobRepository, assets domain.AssetRepository, q queue.Queue, store *storage.FileStore, canceller Canceller, logger zerolog.Logger) *Service {
	return &Service{
		jobs:      jobs,
		assets:    assets,
		queue:     q,
		store:     store,
		canceller: canceller,
		logger:    logger,
	}
}

// JobResult is the reduced outcome of a terminal job.
type JobResult struct {
	Job    *domain.Job
	Assets []*domain.Asset
}

// SubmitUpload stores the raw bytes and queues an ingest job that probes
// the artifact and registers the original asset.
func (s *Service) SubmitUpload(ctx context.Context, filename string, data []byte) (*domain.Job, error) {
	if len(data) == 0 {
		return nil, errors.New("empty upload")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".mp4"
	}
	key := uuid.NewString() + ext
	if _, err := s.store.Write(ctx, key, data); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	return s.enqueueJob(ctx, &domain.Job{
		ID:   uuid.NewString(),
		Task: domain.TaskTypeUpload,
		Metadata: map[string]any{
			"storage_key": key,
			"filename":    filename,
		},
	})
}

// SubmitTrim queues a trim of [start, end) seconds against an existing
// asset.
func (s *Service) SubmitTrim(ctx context.Context, assetID string, start, end float64) (*domain.Job, error) {
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: start %v, end %v", domain.ErrInvalidRange, start, end)
	}
	if _, err := s.assets.GetByID(ctx, assetID); err != nil {
		return nil, fmt.Errorf("asset %s: %w", assetID, err)
	}
	return s.enqueueJob(ctx, &domain.Job{
		ID:      uuid.NewString(),
		AssetID: assetID,
		Task:    domain.TaskTypeTrim,
		Metadata: map[string]any{
			"start": start,
			"end":   end,
		},
	})
}

// SubmitOverlay queues a compositing job that applies the overlays in
// submission order.
func (s *Service) SubmitOverlay(ctx context.Context, assetID string, overlays []domain.OverlayConfig) (*domain.Job, error) {
	if len(overlays) == 0 {
		return nil, fmt.Errorf("%w: at least one overlay is required", domain.ErrInvalidOverlay)
	}
	for i, cfg := range overlays {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("overlay %d: %w", i, err)
		}
		if err := s.checkOverlaySource(ctx, cfg); err != nil {
			return nil, fmt.Errorf("overlay %d: %w", i, err)
		}
	}
	if _, err := s.assets.GetByID(ctx, assetID); err != nil {
		return nil, fmt.Errorf("asset %s: %w", assetID, err)
	}
	return s.enqueueJob(ctx, &domain.Job{
		ID:       uuid.NewString(),
		AssetID:  assetID,
		Task:     domain.TaskTypeOverlay,
		Metadata: map[string]any{"overlays": overlays},
	})
}

// SubmitWatermark queues a watermark job; the mark scales relative to the
// target video.
func (s *Service) SubmitWatermark(ctx context.Context, assetID string, cfg domain.OverlayConfig) (*domain.Job, error) {
	cfg.Kind = domain.OverlayKindWatermark
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkOverlaySource(ctx, cfg); err != nil {
		return nil, err
	}
	if _, err := s.assets.GetByID(ctx, assetID); err != nil {
		return nil, fmt.Errorf("asset %s: %w", assetID, err)
	}
	return s.enqueueJob(ctx, &domain.Job{
		ID:       uuid.NewString(),
		AssetID:  assetID,
		Task:     domain.TaskTypeWatermark,
		Metadata: map[string]any{"watermark": cfg},
	})
}

// SubmitTranscode queues a fan-out over the given quality tiers, or the
// default ladder when none are named.
func (s *Service) SubmitTranscode(ctx context.Context, assetID string, qualities []string) (*domain.Job, error) {
	for _, q := range qualities {
		if !engine.SupportedQuality(q) {
			return nil, fmt.Errorf("%w: unknown quality %q", domain.ErrInvalidKind, q)
		}
	}
	if _, err := s.assets.GetByID(ctx, assetID); err != nil {
		return nil, fmt.Errorf("asset %s: %w", assetID, err)
	}
	meta := map[string]any{}
	if len(qualities) > 0 {
		meta["qualities"] = qualities
	}
	return s.enqueueJob(ctx, &domain.Job{
		ID:       uuid.NewString(),
		AssetID:  assetID,
		Task:     domain.TaskTypeTranscode,
		Metadata: meta,
	})
}

// GetJob returns the job's current state.
func (s *Service) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.jobs.GetByID(ctx, jobID)
}

// GetJobResult returns the outcome of a terminal job, with every asset it
// produced resolved. Non-terminal jobs yield ErrNotReady.
func (s *Service) GetJobResult(ctx context.Context, jobID string) (*JobResult, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.Terminal() {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrNotReady, jobID, job.Status)
	}
	result := &JobResult{Job: job}
	for _, id := range producedAssetIDs(job.Metadata) {
		asset, err := s.assets.GetByID(ctx, id)
		if err != nil {
			// Produced assets can be deleted after the job finished.
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		result.Assets = append(result.Assets, asset)
	}
	return result, nil
}

// CancelJob aborts a queued or running job.
func (s *Service) CancelJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.canceller.Cancel(ctx, jobID)
}

// GetAsset returns one asset record.
func (s *Service) GetAsset(ctx context.Context, assetID string) (*domain.Asset, error) {
	return s.assets.GetByID(ctx, assetID)
}

// ListVideos returns every uploaded original, oldest first.
func (s *Service) ListVideos(ctx context.Context) ([]domain.Asset, error) {
	return s.assets.ListOriginals(ctx)
}

// ListVersions returns every asset derived from the given one, oldest
// first.
func (s *Service) ListVersions(ctx context.Context, assetID string) ([]domain.Asset, error) {
	return s.assets.ListVersions(ctx, assetID)
}

// DeleteAsset removes the asset and its whole derivation subtree together
// with the jobs referencing them. Subtrees with active jobs are rejected.
func (s *Service) DeleteAsset(ctx context.Context, assetID string) error {
	asset, err := s.assets.GetByID(ctx, assetID)
	if err != nil {
		return err
	}
	if err := s.assets.DeleteSubtree(ctx, assetID); err != nil {
		return err
	}
	// Artifact removal is best effort; the record delete is the source of
	// truth.
	if err := s.store.Remove(asset.StorageKey); err != nil {
		s.logger.Warn().Err(err).Str("asset_id", assetID).Msg("orchestrator: remove artifact failed")
	}
	return nil
}

func (s *Service) enqueueJob(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		// The job exists but nothing will run it; fail it in place.
		if _, tErr := s.jobs.Transition(ctx, job.ID, domain.JobStatusFailed, map[string]any{"error": "enqueue failed"}); tErr != nil {
			s.logger.Error().Err(tErr).Str("job_id", job.ID).Msg("orchestrator: failing unenqueued job failed")
		}
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	s.logger.Info().Str("job_id", job.ID).Str("task", string(job.Task)).Msg("orchestrator: job queued")
	return s.jobs.GetByID(ctx, job.ID)
}

func (s *Service) checkOverlaySource(ctx context.Context, cfg domain.OverlayConfig) error {
	if cfg.SourceAssetID == "" {
		return nil
	}
	if _, err := s.assets.GetByID(ctx, cfg.SourceAssetID); err != nil {
		return fmt.Errorf("source asset %s: %w", cfg.SourceAssetID, err)
	}
	return nil
}

// producedAssetIDs collects the asset ids a terminal job recorded in its
// metadata, regardless of task shape.
func producedAssetIDs(meta map[string]any) []string {
	var ids []string
	seen := map[string]bool{}
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, key := range []string{"asset_id", "output_asset_id"} {
		if v, ok := meta[key].(string); ok {
			add(v)
		}
	}
	switch v := meta["rendition_asset_ids"].(type) {
	case map[string]string:
		for _, id := range v {
			add(id)
		}
	case map[string]any:
		for _, raw := range v {
			if id, ok := raw.(string); ok {
				add(id)
			}
		}
	}
	return ids
}
