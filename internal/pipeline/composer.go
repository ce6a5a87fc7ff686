// Package pipeline expands task kinds into stage plans and executes them
// against the transformation engine, recording derived assets along the
// way.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"vidforge/internal/domain"
	"vidforge/internal/engine"
	"vidforge/internal/storage"
)

// ErrCancelled aborts a run between stage groups after the job was marked
// for cancellation.
var ErrCancelled = errors.New("job cancelled")

// Config bounds composer resource usage.
type Config struct {
	// MaxParallelism caps concurrent stages within a fan-out group.
	MaxParallelism int
	// StageTimeout bounds a single engine invocation.
	StageTimeout time.Duration
	// MaxRetries is the number of extra attempts for retryable stage
	// errors.
	MaxRetries int
	// RetryBackoff is the base delay between attempts, growing linearly.
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxParallelism <= 0 {
		c.MaxParallelism = 3
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 10 * time.Minute
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	return c
}

// CancelCheck reports whether the running job has been marked for
// cancellation. The composer consults it between stage groups only;
// in-flight stages are never interrupted.
type CancelCheck func() bool

// Result is the reduced outcome of a pipeline run. Metadata is merged
// into the job's terminal metadata and may carry partial diagnostics even
// when the run failed.
type Result struct {
	Metadata map[string]any
	AssetIDs []string
}

// Composer turns a job into a stage plan, drives the engine through it and
// registers the derived assets.
type Composer struct {
	engine   engine.Engine
	assets   domain.AssetRepository
	overlays domain.OverlayRepository
	store    *storage.FileStore
	logger   zerolog.Logger
	cfg      Config
}

// New constructs a Composer.
func New(eng engine.Engine, assets domain.AssetRepository, overlays domain.OverlayRepository, store *storage.FileStore, logger zerolog.Logger, cfg Config) *Composer {
	return &Composer{
		engine:   eng,
		assets:   assets,
		overlays: overlays,
		store:    store,
		logger:   logger,
		cfg:      cfg.withDefaults(),
	}
}

// Execute runs the pipeline for one claimed job.
func (c *Composer) Execute(ctx context.Context, job *domain.Job, cancelled CancelCheck) (Result, error) {
	if cancelled == nil {
		cancelled = func() bool { return false }
	}
	switch job.Task {
	case domain.TaskTypeUpload:
		return c.executeUpload(ctx, job)
	case domain.TaskTypeTrim:
		return c.executeTrim(ctx, job)
	case domain.TaskTypeOverlay:
		overlays, err := metaOverlays(job.Metadata, "overlays")
		if err != nil {
			return Result{}, err
		}
		return c.executeChain(ctx, job, overlays, cancelled)
	case domain.TaskTypeWatermark:
		cfg, err := metaWatermark(job.Metadata)
		if err != nil {
			return Result{}, err
		}
		return c.executeChain(ctx, job, []domain.OverlayConfig{cfg}, cancelled)
	case domain.TaskTypeTranscode:
		return c.executeTranscode(ctx, job)
	default:
		return Result{}, fmt.Errorf("unsupported task type %q", job.Task)
	}
}

func (c *Composer) executeUpload(ctx context.Context, job *domain.Job) (Result, error) {
	key := metaString(job.Metadata, "storage_key")
	if key == "" {
		return Result{}, errors.New("upload job without storage_key")
	}
	size, duration, err := c.engine.Probe(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("probe upload: %w", err)
	}
	asset := &domain.Asset{
		ID:              uuid.NewString(),
		Kind:            domain.AssetKindOriginal,
		StorageKey:      key,
		Bytes:           size,
		DurationSeconds: duration,
	}
	if err := c.assets.CreateOriginal(ctx, asset); err != nil {
		return Result{}, fmt.Errorf("register original: %w", err)
	}
	return Result{
		Metadata: map[string]any{"asset_id": asset.ID, "filepath": key},
		AssetIDs: []string{asset.ID},
	}, nil
}

func (c *Composer) executeTrim(ctx context.Context, job *domain.Job) (Result, error) {
	input, err := c.inputAsset(ctx, job)
	if err != nil {
		return Result{}, err
	}
	start, okStart := metaFloat(job.Metadata, "start")
	end, okEnd := metaFloat(job.Metadata, "end")
	if !okStart || !okEnd {
		return Result{}, fmt.Errorf("%w: trim requires start and end", domain.ErrInvalidRange)
	}
	plan, err := PlanTrim(input.StorageKey, start, end)
	if err != nil {
		return Result{}, err
	}

	res, err := c.runStage(ctx, plan.Groups[0].Stages[0])
	if err != nil {
		return Result{}, err
	}
	asset := &domain.Asset{
		ID:              uuid.NewString(),
		Kind:            domain.AssetKindTrim,
		ParentID:        input.ID,
		StorageKey:      res.OutputRef,
		Bytes:           res.Bytes,
		DurationSeconds: res.DurationSeconds,
	}
	if err := c.assets.CreateDerived(ctx, asset); err != nil {
		return Result{}, fmt.Errorf("register trim: %w", err)
	}
	return Result{
		Metadata: map[string]any{"output_asset_id": asset.ID, "output_key": res.OutputRef},
		AssetIDs: []string{asset.ID},
	}, nil
}

// executeChain runs overlay/watermark configs strictly in submission
// order: stage i+1 takes stage i's output artifact as input. Any failure
// aborts the remaining chain and discards the partial chain's artifacts; a
// failed chain yields no derived asset.
func (c *Composer) executeChain(ctx context.Context, job *domain.Job, overlays []domain.OverlayConfig, cancelled CancelCheck) (Result, error) {
	input, err := c.inputAsset(ctx, job)
	if err != nil {
		return Result{}, err
	}
	sourceRefs, err := c.resolveSources(ctx, overlays)
	if err != nil {
		return Result{}, err
	}
	plan, err := PlanOverlayChain(job.Task, input.StorageKey, overlays, sourceRefs)
	if err != nil {
		return Result{}, err
	}

	var (
		produced []string
		chain    []map[string]any
		last     engine.StageResult
		inputRef = input.StorageKey
	)
	discard := func() {
		for _, ref := range produced {
			if err := c.store.Remove(ref); err != nil {
				c.logger.Warn().Err(err).Str("ref", ref).Msg("composer: discard intermediate failed")
			}
		}
	}

	for _, group := range plan.Groups {
		if err := ctx.Err(); err != nil {
			discard()
			return Result{}, err
		}
		if cancelled() {
			discard()
			return Result{}, ErrCancelled
		}
		stage := group.Stages[0]
		if stage.Request.InputRef == "" {
			stage.Request.InputRef = inputRef
		}
		res, err := c.runStage(ctx, stage)
		if err != nil {
			discard()
			return Result{}, fmt.Errorf("%s: %w", stage.Name, err)
		}
		chain = append(chain, map[string]any{
			"stage":  stage.Name,
			"input":  stage.Request.InputRef,
			"output": res.OutputRef,
		})
		produced = append(produced, res.OutputRef)
		inputRef = res.OutputRef
		last = res
	}

	asset := &domain.Asset{
		ID:              uuid.NewString(),
		Kind:            domain.AssetKindEdit,
		ParentID:        input.ID,
		StorageKey:      last.OutputRef,
		Bytes:           last.Bytes,
		DurationSeconds: last.DurationSeconds,
	}
	if err := c.assets.CreateDerived(ctx, asset); err != nil {
		discard()
		return Result{}, fmt.Errorf("register composited asset: %w", err)
	}
	if err := c.overlays.SaveAll(ctx, input.ID, overlays); err != nil {
		c.logger.Warn().Err(err).Str("asset_id", input.ID).Msg("composer: persist overlay audit failed")
	}
	// Intermediate artifacts are not exposed; keep only the final one.
	for _, ref := range produced[:len(produced)-1] {
		if err := c.store.Remove(ref); err != nil {
			c.logger.Warn().Err(err).Str("ref", ref).Msg("composer: remove intermediate failed")
		}
	}

	return Result{
		Metadata: map[string]any{
			"output_asset_id": asset.ID,
			"output_key":      last.OutputRef,
			"chain":           chain,
		},
		AssetIDs: []string{asset.ID},
	}, nil
}

// executeTranscode fans the quality tiers out in parallel, bounded by
// MaxParallelism, and waits for the whole group before reducing. Policy:
// the job succeeds when at least one rendition succeeds; per-tier failures
// are recorded in metadata.
func (c *Composer) executeTranscode(ctx context.Context, job *domain.Job) (Result, error) {
	input, err := c.inputAsset(ctx, job)
	if err != nil {
		return Result{}, err
	}
	plan, err := PlanTranscode(input.StorageKey, metaStrings(job.Metadata, "qualities"))
	if err != nil {
		return Result{}, err
	}
	stages := plan.Groups[0].Stages

	results := make([]engine.StageResult, len(stages))
	stageErrs := make([]error, len(stages))
	sem := semaphore.NewWeighted(int64(c.cfg.MaxParallelism))
	var g errgroup.Group
	for i, stage := range stages {
		i, stage := i, stage
		if err := sem.Acquire(ctx, 1); err != nil {
			stageErrs[i] = err
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			results[i], stageErrs[i] = c.runStage(ctx, stage)
			return nil
		})
	}
	_ = g.Wait() // barrier; individual outcomes are in stageErrs

	var (
		renditionIDs = map[string]string{}
		succeeded    []string
		failed       = map[string]string{}
		assetIDs     []string
	)
	for i, stage := range stages {
		if stageErrs[i] != nil {
			failed[stage.Name] = stageErrs[i].Error()
			c.logger.Error().Err(stageErrs[i]).Str("job_id", job.ID).Str("quality", stage.Name).Msg("composer: rendition failed")
			continue
		}
		asset := &domain.Asset{
			ID:              uuid.NewString(),
			Kind:            domain.AssetKindRendition,
			ParentID:        input.ID,
			Quality:         stage.Name,
			StorageKey:      results[i].OutputRef,
			Bytes:           results[i].Bytes,
			DurationSeconds: results[i].DurationSeconds,
		}
		if err := c.assets.CreateDerived(ctx, asset); err != nil {
			failed[stage.Name] = fmt.Sprintf("register rendition: %v", err)
			continue
		}
		renditionIDs[stage.Name] = asset.ID
		succeeded = append(succeeded, stage.Name)
		assetIDs = append(assetIDs, asset.ID)
	}

	meta := map[string]any{"renditions": succeeded}
	if len(failed) > 0 {
		meta["failed_renditions"] = failed
	}
	if len(renditionIDs) > 0 {
		meta["rendition_asset_ids"] = renditionIDs
	}
	if len(succeeded) == 0 {
		return Result{Metadata: meta}, errors.New("all renditions failed")
	}
	return Result{Metadata: meta, AssetIDs: assetIDs}, nil
}

// runStage invokes the engine with a per-stage timeout, retrying
// retryable failures a bounded number of times with linear backoff.
func (c *Composer) runStage(ctx context.Context, stage Stage) (engine.StageResult, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return engine.StageResult{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.cfg.RetryBackoff):
			}
			c.logger.Info().Str("stage", stage.Name).Int("attempt", attempt).Msg("composer: retrying stage")
		}
		stageCtx, cancel := context.WithTimeout(ctx, c.cfg.StageTimeout)
		res, err := c.engine.ApplyStage(stageCtx, stage.Request)
		cancel()
		if err == nil {
			return res, nil
		}
		lastErr = err
		var stageErr *engine.StageError
		if !errors.As(err, &stageErr) || !stageErr.Retryable {
			break
		}
	}
	return engine.StageResult{}, lastErr
}

func (c *Composer) inputAsset(ctx context.Context, job *domain.Job) (*domain.Asset, error) {
	if job.AssetID == "" {
		return nil, fmt.Errorf("%w: job %s has no input asset", domain.ErrNotFound, job.ID)
	}
	asset, err := c.assets.GetByID(ctx, job.AssetID)
	if err != nil {
		return nil, fmt.Errorf("input asset %s: %w", job.AssetID, err)
	}
	return asset, nil
}

func (c *Composer) resolveSources(ctx context.Context, overlays []domain.OverlayConfig) (map[string]string, error) {
	refs := map[string]string{}
	for _, cfg := range overlays {
		if cfg.SourceAssetID == "" {
			continue
		}
		if _, ok := refs[cfg.SourceAssetID]; ok {
			continue
		}
		asset, err := c.assets.GetByID(ctx, cfg.SourceAssetID)
		if err != nil {
			return nil, fmt.Errorf("overlay source %s: %w", cfg.SourceAssetID, err)
		}
		refs[cfg.SourceAssetID] = asset.StorageKey
	}
	return refs, nil
}

// Metadata decoding helpers. Job metadata round-trips through JSON, so
// numbers arrive as float64 and structured values as generic maps.

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

func metaFloat(meta map[string]any, key string) (float64, bool) {
	switch v := meta[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func metaStrings(meta map[string]any, key string) []string {
	switch v := meta[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func metaOverlays(meta map[string]any, key string) ([]domain.OverlayConfig, error) {
	raw, ok := meta[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", domain.ErrInvalidOverlay, key)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	var overlays []domain.OverlayConfig
	if err := json.Unmarshal(encoded, &overlays); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrInvalidOverlay, key, err)
	}
	return overlays, nil
}

func metaWatermark(meta map[string]any) (domain.OverlayConfig, error) {
	raw, ok := meta["watermark"]
	if !ok {
		return domain.OverlayConfig{}, fmt.Errorf("%w: missing watermark", domain.ErrInvalidOverlay)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return domain.OverlayConfig{}, fmt.Errorf("encode watermark: %w", err)
	}
	var cfg domain.OverlayConfig
	if err := json.Unmarshal(encoded, &cfg); err != nil {
		return domain.OverlayConfig{}, fmt.Errorf("%w: decode watermark: %v", domain.ErrInvalidOverlay, err)
	}
	cfg.Kind = domain.OverlayKindWatermark
	return cfg, nil
}
