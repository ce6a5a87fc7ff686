package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vidforge/internal/adapter/repo"
	"vidforge/internal/domain"
	"vidforge/internal/queue"
	"vidforge/internal/storage"
)

type stubCanceller struct {
	calls []string
	job   *domain.Job
	err   error
}

func (c *stubCanceller) Cancel(ctx context.Context, jobID string) (*domain.Job, error) {
	c.calls = append(c.calls, jobID)
	return c.job, c.err
}

type fixture struct {
	svc       *Service
	jobs      *repo.MemoryJobRepository
	assets    *repo.MemoryAssetRepository
	queue     *queue.Memory
	store     *storage.FileStore
	canceller *stubCanceller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	jobs := repo.NewMemoryJobRepository()
	assets := repo.NewMemoryAssetRepository(jobs)
	q := queue.NewMemory()
	t.Cleanup(func() { q.Close() })
	canceller := &stubCanceller{}
	return &fixture{
		svc:       NewService(jobs, assets, q, store, canceller, zerolog.Nop()),
		jobs:      jobs,
		assets:    assets,
		queue:     q,
		store:     store,
		canceller: canceller,
	}
}

func (f *fixture) seedAsset(t *testing.T, id string) {
	t.Helper()
	err := f.assets.CreateOriginal(context.Background(), &domain.Asset{
		ID:         id,
		Kind:       domain.AssetKindOriginal,
		StorageKey: id + ".mp4",
	})
	if err != nil {
		t.Fatalf("seed asset: %v", err)
	}
}

func (f *fixture) dequeued(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	id, err := f.queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	return id
}

func TestSubmitUploadQueuesIngestJob(t *testing.T) {
	f := newFixture(t)
	job, err := f.svc.SubmitUpload(context.Background(), "clip.mov", []byte("frames"))
	if err != nil {
		t.Fatalf("SubmitUpload: %v", err)
	}
	if job.Status != domain.JobStatusPending || job.Task != domain.TaskTypeUpload {
		t.Fatalf("job = %+v", job)
	}
	key, _ := job.Metadata["storage_key"].(string)
	if key == "" {
		t.Fatal("no storage_key recorded")
	}
	if _, err := f.store.Resolve(key); err != nil {
		t.Fatalf("uploaded bytes not stored: %v", err)
	}
	if got := f.dequeued(t); got != job.ID {
		t.Fatalf("queued id = %s, want %s", got, job.ID)
	}
}

func TestSubmitUploadRejectsEmptyBody(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.SubmitUpload(context.Background(), "clip.mp4", nil); err == nil {
		t.Fatal("empty upload accepted")
	}
}

func TestSubmitTrimValidation(t *testing.T) {
	f := newFixture(t)
	f.seedAsset(t, "src")

	tests := []struct {
		name    string
		assetID string
		start   float64
		end     float64
		wantErr error
	}{
		{"negative start", "src", -1, 5, domain.ErrInvalidRange},
		{"inverted range", "src", 6, 2, domain.ErrInvalidRange},
		{"zero width", "src", 3, 3, domain.ErrInvalidRange},
		{"missing asset", "ghost", 0, 5, domain.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.SubmitTrim(context.Background(), tc.assetID, tc.start, tc.end)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("SubmitTrim = %v, want %v", err, tc.wantErr)
			}
		})
	}

	job, err := f.svc.SubmitTrim(context.Background(), "src", 1.5, 9)
	if err != nil {
		t.Fatalf("SubmitTrim: %v", err)
	}
	if job.AssetID != "src" || job.Task != domain.TaskTypeTrim {
		t.Fatalf("job = %+v", job)
	}
	if got := f.dequeued(t); got != job.ID {
		t.Fatalf("queued id = %s", got)
	}
}

func TestSubmitOverlayValidatesConfigsUpFront(t *testing.T) {
	f := newFixture(t)
	f.seedAsset(t, "src")

	_, err := f.svc.SubmitOverlay(context.Background(), "src", nil)
	if !errors.Is(err, domain.ErrInvalidOverlay) {
		t.Fatalf("no overlays = %v", err)
	}

	_, err = f.svc.SubmitOverlay(context.Background(), "src", []domain.OverlayConfig{
		{Kind: domain.OverlayKindText, Position: "center"}, // text missing
	})
	if !errors.Is(err, domain.ErrInvalidOverlay) {
		t.Fatalf("invalid config = %v", err)
	}

	_, err = f.svc.SubmitOverlay(context.Background(), "src", []domain.OverlayConfig{
		{Kind: domain.OverlayKindImage, SourceAssetID: "ghost", Position: "center"},
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing source = %v", err)
	}

	f.seedAsset(t, "logo")
	job, err := f.svc.SubmitOverlay(context.Background(), "src", []domain.OverlayConfig{
		{Kind: domain.OverlayKindText, Text: "hi", Position: "top-left"},
		{Kind: domain.OverlayKindImage, SourceAssetID: "logo", Position: "center"},
	})
	if err != nil {
		t.Fatalf("SubmitOverlay: %v", err)
	}
	if job.Task != domain.TaskTypeOverlay {
		t.Fatalf("task = %s", job.Task)
	}
}

func TestSubmitWatermarkForcesKind(t *testing.T) {
	f := newFixture(t)
	f.seedAsset(t, "src")
	f.seedAsset(t, "mark")

	job, err := f.svc.SubmitWatermark(context.Background(), "src", domain.OverlayConfig{
		Kind:          domain.OverlayKindText, // overridden
		SourceAssetID: "mark",
		Position:      "bottom-right",
	})
	if err != nil {
		t.Fatalf("SubmitWatermark: %v", err)
	}
	if job.Task != domain.TaskTypeWatermark {
		t.Fatalf("task = %s", job.Task)
	}
}

func TestSubmitTranscodeRejectsUnknownTier(t *testing.T) {
	f := newFixture(t)
	f.seedAsset(t, "src")

	_, err := f.svc.SubmitTranscode(context.Background(), "src", []string{"4k"})
	if err == nil {
		t.Fatal("unknown tier accepted")
	}

	job, err := f.svc.SubmitTranscode(context.Background(), "src", []string{"720p"})
	if err != nil {
		t.Fatalf("SubmitTranscode: %v", err)
	}
	if job.Task != domain.TaskTypeTranscode {
		t.Fatalf("task = %s", job.Task)
	}
}

func TestGetJobResultNotReadyUntilTerminal(t *testing.T) {
	f := newFixture(t)
	f.seedAsset(t, "src")
	job, err := f.svc.SubmitTrim(context.Background(), "src", 0, 5)
	if err != nil {
		t.Fatalf("SubmitTrim: %v", err)
	}

	_, err = f.svc.GetJobResult(context.Background(), job.ID)
	if !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("pending result = %v, want ErrNotReady", err)
	}

	// Drive the job to completion by hand.
	if _, err := f.jobs.Transition(context.Background(), job.ID, domain.JobStatusRunning, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	derived := &domain.Asset{Kind: domain.AssetKindTrim, ParentID: "src", StorageKey: "out.mp4"}
	if err := f.assets.CreateDerived(context.Background(), derived); err != nil {
		t.Fatalf("derive: %v", err)
	}
	_, err = f.jobs.Transition(context.Background(), job.ID, domain.JobStatusSuccess, map[string]any{
		"output_asset_id": derived.ID,
	})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}

	result, err := f.svc.GetJobResult(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJobResult: %v", err)
	}
	if len(result.Assets) != 1 || result.Assets[0].ID != derived.ID {
		t.Fatalf("result assets = %+v", result.Assets)
	}
}

func TestCancelJobDelegates(t *testing.T) {
	f := newFixture(t)
	f.canceller.job = &domain.Job{ID: "j1", Status: domain.JobStatusFailed}

	job, err := f.svc.CancelJob(context.Background(), "j1")
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if job.ID != "j1" || len(f.canceller.calls) != 1 {
		t.Fatalf("delegation broken: %+v %v", job, f.canceller.calls)
	}
}

func TestDeleteAssetRemovesArtifact(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.Write(context.Background(), "src.mp4", []byte("frames")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.seedAsset(t, "src")

	if err := f.svc.DeleteAsset(context.Background(), "src"); err != nil {
		t.Fatalf("DeleteAsset: %v", err)
	}
	if _, err := f.assets.GetByID(context.Background(), "src"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("record survived delete: %v", err)
	}
	if _, err := f.store.Resolve("src.mp4"); err == nil {
		t.Fatal("artifact survived delete")
	}
}

func TestDeleteAssetMissing(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.DeleteAsset(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("DeleteAsset = %v, want ErrNotFound", err)
	}
}
