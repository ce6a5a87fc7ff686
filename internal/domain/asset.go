package domain

import "time"

// AssetKind enumerates asset derivation categories.
type AssetKind string

const (
	AssetKindOriginal  AssetKind = "ORIGINAL"
	AssetKindTrim      AssetKind = "TRIM"
	AssetKindEdit      AssetKind = "EDIT" // overlay/watermark compositing output
	AssetKindRendition AssetKind = "RENDITION"
)

// Asset represents a media object tracked by the system, either an original
// upload or a value derived from another asset. Assets are immutable after
// creation; every pipeline stage produces a new Asset.
type Asset struct {
	ID         string
	Kind       AssetKind
	ParentID   string // derived_from, empty for originals
	Quality    string // quality tier, set iff Kind == RENDITION
	StorageKey string
	Bytes      int64
	// DurationSeconds is zero until the artifact has been probed.
	DurationSeconds float64
	CreatedAt       time.Time
}

// ValidateKind checks the kind/quality/parent invariants for a new asset.
func (a *Asset) ValidateKind() error {
	switch a.Kind {
	case AssetKindOriginal:
		if a.ParentID != "" || a.Quality != "" {
			return ErrInvalidKind
		}
	case AssetKindTrim, AssetKindEdit:
		if a.ParentID == "" || a.Quality != "" {
			return ErrInvalidKind
		}
	case AssetKindRendition:
		if a.ParentID == "" || a.Quality == "" {
			return ErrInvalidKind
		}
	default:
		return ErrInvalidKind
	}
	return nil
}
