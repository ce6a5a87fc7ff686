package domain

import "time"

// TaskType enumerates supported orchestration job categories.
type TaskType string

const (
	TaskTypeUpload    TaskType = "UPLOAD"
	TaskTypeTrim      TaskType = "TRIM"
	TaskTypeOverlay   TaskType = "OVERLAY"
	TaskTypeWatermark TaskType = "WATERMARK"
	TaskTypeTranscode TaskType = "TRANSCODE"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

// statusPredecessors lists the states a job may legally transition out of
// to reach the keyed state. PENDING jobs may fail directly (validation
// rejection, cancellation before a worker claims them) but never succeed
// without running.
var statusPredecessors = map[JobStatus][]JobStatus{
	JobStatusRunning: {JobStatusPending},
	JobStatusSuccess: {JobStatusRunning},
	JobStatusFailed:  {JobStatusPending, JobStatusRunning},
}

// CanTransition reports whether a job currently in `from` may move to `to`.
func CanTransition(from, to JobStatus) bool {
	for _, p := range statusPredecessors[to] {
		if p == from {
			return true
		}
	}
	return false
}

// Job encapsulates one orchestration request and its outcome.
type Job struct {
	ID        string
	AssetID   string // input asset, empty for uploads
	Task      TaskType
	Status    JobStatus
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MergeMetadata returns base with patch applied on top. Existing keys are
// overwritten, never dropped. The inputs are left untouched.
func MergeMetadata(base, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}
