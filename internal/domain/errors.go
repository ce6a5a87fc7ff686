package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateJob      = errors.New("duplicate job id")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidRange      = errors.New("invalid time range")
	ErrInvalidOverlay    = errors.New("invalid overlay config")
	ErrParentNotFound    = errors.New("parent asset not found")
	ErrInvalidKind       = errors.New("invalid asset kind")
	ErrHasActiveJobs     = errors.New("asset referenced by active jobs")
	ErrNotReady          = errors.New("job not finished")
)
