// Package engine wraps the external media transformation engine. Callers
// hand it one stage at a time; it either produces a new artifact or fails
// with a typed error carrying a retryability hint.
package engine

import (
	"context"
	"fmt"

	"vidforge/internal/domain"
)

// StageKind enumerates the atomic transformation operations.
type StageKind string

const (
	StageTrim      StageKind = "trim"
	StageOverlay   StageKind = "overlay"
	StageTranscode StageKind = "transcode"
)

// TrimParams bounds a trim stage in seconds of input time.
type TrimParams struct {
	Start float64
	End   float64
}

// OverlayParams carries one resolved compositing stage. X, Y and Enable are
// coordinate and activation expressions already resolved from the caller's
// position anchor and time window.
type OverlayParams struct {
	Kind      domain.OverlayKind
	X         string
	Y         string
	Enable    string
	Text      string
	Font      string
	SourceRef string  // overlay media artifact, IMAGE/VIDEO/WATERMARK only
	Opacity   float64 // VIDEO only, 0 means opaque
}

// StageRequest describes one invocation against an input artifact. Exactly
// one of the parameter fields matching Kind must be set.
type StageRequest struct {
	Kind     StageKind
	InputRef string
	Trim     *TrimParams
	Overlay  *OverlayParams
	Quality  string // transcode target tier
}

// StageResult references the produced artifact.
type StageResult struct {
	OutputRef       string
	Bytes           int64
	DurationSeconds float64
}

// StageError is a typed failure from the transformation engine. Retryable
// marks transient conditions (timeouts, resource exhaustion) where a retry
// is likely to help, as opposed to malformed input.
type StageError struct {
	Message   string
	Retryable bool
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage failed: %s", e.Message)
}

// Engine executes transformation stages. Implementations are blocking and
// treated as non-preemptible; callers bound invocations with a context
// deadline.
type Engine interface {
	ApplyStage(ctx context.Context, req StageRequest) (StageResult, error)
	// Probe returns the byte size and duration in seconds of an artifact.
	Probe(ctx context.Context, ref string) (int64, float64, error)
}
