package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vidforge/internal/adapter/repo"
	"vidforge/internal/domain"
	"vidforge/internal/engine"
	"vidforge/internal/pipeline"
	"vidforge/internal/queue"
	"vidforge/internal/storage"
)

type stubEngine struct {
	mu      sync.Mutex
	calls   int
	started chan struct{} // closed on first call, when set
	release chan struct{} // blocks ApplyStage until closed, when set
	fail    bool
}

func (e *stubEngine) ApplyStage(ctx context.Context, req engine.StageRequest) (engine.StageResult, error) {
	e.mu.Lock()
	e.calls++
	n := e.calls
	if e.started != nil && n == 1 {
		close(e.started)
	}
	release := e.release
	e.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return engine.StageResult{}, ctx.Err()
		}
	}
	if e.fail {
		return engine.StageResult{}, &engine.StageError{Message: "corrupt input"}
	}
	return engine.StageResult{OutputRef: fmt.Sprintf("out-%d.mp4", n), Bytes: 64, DurationSeconds: 5}, nil
}

func (e *stubEngine) Probe(ctx context.Context, ref string) (int64, float64, error) {
	return 64, 5, nil
}

func (e *stubEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fixture struct {
	sched  *Scheduler
	jobs   *repo.MemoryJobRepository
	assets *repo.MemoryAssetRepository
	queue  *queue.Memory
	eng    *stubEngine
}

func newFixture(t *testing.T, eng *stubEngine) *fixture {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	jobs := repo.NewMemoryJobRepository()
	assets := repo.NewMemoryAssetRepository(jobs)
	overlays := repo.NewMemoryOverlayRepository()
	composer := pipeline.New(eng, assets, overlays, store, zerolog.Nop(), pipeline.Config{
		MaxParallelism: 2,
		StageTimeout:   time.Second,
		MaxRetries:     1,
		RetryBackoff:   time.Millisecond,
	})
	q := queue.NewMemory()
	t.Cleanup(func() { q.Close() })
	return &fixture{
		sched:  New(jobs, q, composer, NewMemoryCancelStore(), zerolog.Nop(), 2),
		jobs:   jobs,
		assets: assets,
		queue:  q,
		eng:    eng,
	}
}

func (f *fixture) seedOriginal(t *testing.T, id string) {
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

func (f *fixture) submit(t *testing.T, job *domain.Job) {
	t.Helper()
	ctx := context.Background()
	if err := f.jobs.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := f.queue.Enqueue(ctx, job.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func (f *fixture) waitTerminal(t *testing.T, jobID string) *domain.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := f.jobs.GetByID(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return nil
}

func TestSchedulerRunsJobToSuccess(t *testing.T) {
	f := newFixture(t, &stubEngine{})
	f.seedOriginal(t, "src")
	f.submit(t, &domain.Job{
		ID:       "job-trim",
		AssetID:  "src",
		Task:     domain.TaskTypeTrim,
		Metadata: map[string]any{"start": 1.0, "end": 4.0},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.sched.Run(ctx)

	job := f.waitTerminal(t, "job-trim")
	if job.Status != domain.JobStatusSuccess {
		t.Fatalf("status = %s, metadata = %v", job.Status, job.Metadata)
	}
	id, _ := job.Metadata["output_asset_id"].(string)
	if id == "" {
		t.Fatal("terminal metadata missing output_asset_id")
	}
	asset, err := f.assets.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("derived asset not registered: %v", err)
	}
	if asset.Kind != domain.AssetKindTrim || asset.ParentID != "src" {
		t.Fatalf("derived asset = %+v", asset)
	}
}

func TestSchedulerRecordsFailure(t *testing.T) {
	f := newFixture(t, &stubEngine{fail: true})
	f.seedOriginal(t, "src")
	f.submit(t, &domain.Job{
		ID:       "job-fail",
		AssetID:  "src",
		Task:     domain.TaskTypeTrim,
		Metadata: map[string]any{"start": 0.0, "end": 2.0},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.sched.Run(ctx)

	job := f.waitTerminal(t, "job-fail")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s", job.Status)
	}
	msg, _ := job.Metadata["error"].(string)
	if msg == "" {
		t.Fatal("failed job carries no error metadata")
	}
}

func TestSchedulerSkipsAlreadyClaimedJob(t *testing.T) {
	f := newFixture(t, &stubEngine{})
	f.seedOriginal(t, "src")
	job := &domain.Job{
		ID:       "job-claimed",
		AssetID:  "src",
		Task:     domain.TaskTypeTrim,
		Metadata: map[string]any{"start": 0.0, "end": 2.0},
	}
	if err := f.jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	// Simulate a competing worker having claimed and finished the job.
	if _, err := f.jobs.Transition(context.Background(), job.ID, domain.JobStatusRunning, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := f.jobs.Transition(context.Background(), job.ID, domain.JobStatusSuccess, nil); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := f.queue.Enqueue(context.Background(), job.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.sched.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	if got := f.eng.callCount(); got != 0 {
		t.Fatalf("engine invoked %d times for a terminal job", got)
	}
	final, _ := f.jobs.GetByID(context.Background(), job.ID)
	if final.Status != domain.JobStatusSuccess {
		t.Fatalf("terminal status mutated to %s", final.Status)
	}
}

func TestCancelPendingJobFailsImmediately(t *testing.T) {
	f := newFixture(t, &stubEngine{})
	f.seedOriginal(t, "src")
	f.submit(t, &domain.Job{
		ID:       "job-pending",
		AssetID:  "src",
		Task:     domain.TaskTypeTrim,
		Metadata: map[string]any{"start": 0.0, "end": 2.0},
	})
	// No workers running; the job stays queued.

	job, err := f.sched.Cancel(context.Background(), "job-pending")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED", job.Status)
	}
	if msg, _ := job.Metadata["error"].(string); msg != "cancelled" {
		t.Fatalf("error metadata = %q", msg)
	}
	// The id must be gone from the queue.
	found, err := f.queue.Remove(context.Background(), "job-pending")
	if err != nil || found {
		t.Fatalf("id still queued after cancel: %v %v", found, err)
	}
}

func TestCancelRunningJobStopsAtStageBoundary(t *testing.T) {
	eng := &stubEngine{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := newFixture(t, eng)
	f.seedOriginal(t, "src")
	f.submit(t, &domain.Job{
		ID:      "job-chain",
		AssetID: "src",
		Task:    domain.TaskTypeOverlay,
		Metadata: map[string]any{
			"overlays": []any{
				map[string]any{"kind": "TEXT", "text": "one", "position": "top-left"},
				map[string]any{"kind": "TEXT", "text": "two", "position": "top-left"},
			},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.sched.Run(ctx)

	<-eng.started
	if _, err := f.sched.Cancel(context.Background(), "job-chain"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(eng.release)

	job := f.waitTerminal(t, "job-chain")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s", job.Status)
	}
	if msg, _ := job.Metadata["error"].(string); msg != "cancelled" {
		t.Fatalf("error metadata = %q", msg)
	}
	// The first stage ran to completion; the second never started.
	if got := eng.callCount(); got != 1 {
		t.Fatalf("engine calls = %d, want 1", got)
	}
}

func TestCancelTerminalJobRejected(t *testing.T) {
	f := newFixture(t, &stubEngine{})
	job := &domain.Job{ID: "job-done", Task: domain.TaskTypeUpload, Status: domain.JobStatusPending}
	if err := f.jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.jobs.Transition(context.Background(), job.ID, domain.JobStatusFailed, nil)

	_, err := f.sched.Cancel(context.Background(), "job-done")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Cancel = %v, want ErrInvalidTransition", err)
	}
}
