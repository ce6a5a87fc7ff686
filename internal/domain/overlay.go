package domain

import (
	"fmt"
	"time"
)

// OverlayKind enumerates compositing stage categories.
type OverlayKind string

const (
	OverlayKindText      OverlayKind = "TEXT"
	OverlayKindImage     OverlayKind = "IMAGE"
	OverlayKindVideo     OverlayKind = "VIDEO"
	OverlayKindWatermark OverlayKind = "WATERMARK"
)

// OverlayConfig declaratively describes one compositing stage. Position is
// either a symbolic anchor ("top-left", "center", ...) or a raw "x:y"
// expression passed through verbatim. The overlay is active over playback
// time [Start, End); a nil End means until the end of the asset.
type OverlayConfig struct {
	Kind     OverlayKind `json:"kind"`
	Position string      `json:"position"`
	Start    float64     `json:"start"`
	End      *float64    `json:"end,omitempty"`

	// TEXT parameters.
	Text string `json:"text,omitempty"`
	Font string `json:"font,omitempty"`

	// IMAGE / VIDEO / WATERMARK parameters.
	SourceAssetID string `json:"source_asset_id,omitempty"`

	// Opacity applies to VIDEO overlays only, (0, 1]. Zero means unset and
	// defaults to fully opaque.
	Opacity float64 `json:"opacity,omitempty"`
}

// Validate checks the kind-specific parameter shape at construction time.
func (c OverlayConfig) Validate() error {
	if c.Start < 0 {
		return fmt.Errorf("%w: negative start time", ErrInvalidOverlay)
	}
	if c.End != nil && *c.End <= c.Start {
		return fmt.Errorf("%w: end %.3f not after start %.3f", ErrInvalidOverlay, *c.End, c.Start)
	}
	switch c.Kind {
	case OverlayKindText:
		if c.Text == "" {
			return fmt.Errorf("%w: text overlay requires text", ErrInvalidOverlay)
		}
	case OverlayKindImage, OverlayKindWatermark:
		if c.SourceAssetID == "" {
			return fmt.Errorf("%w: %s overlay requires a source asset", ErrInvalidOverlay, c.Kind)
		}
	case OverlayKindVideo:
		if c.SourceAssetID == "" {
			return fmt.Errorf("%w: video overlay requires a source asset", ErrInvalidOverlay)
		}
		if c.Opacity < 0 || c.Opacity > 1 {
			return fmt.Errorf("%w: opacity %.3f out of range", ErrInvalidOverlay, c.Opacity)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidOverlay, c.Kind)
	}
	return nil
}

// OverlayRecord is a persisted OverlayConfig attached to the asset it was
// composited onto, kept for audit after job completion.
type OverlayRecord struct {
	ID        string
	AssetID   string
	Config    OverlayConfig
	CreatedAt time.Time
}
