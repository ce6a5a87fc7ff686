package pipeline

import (
	"fmt"

	"vidforge/internal/domain"
	"vidforge/internal/engine"
)

// Stage is one atomic engine invocation within a plan.
type Stage struct {
	Name    string
	Request engine.StageRequest
}

// StageGroup is a set of stages executed concurrently as one step of a
// plan. Groups run strictly in sequence; a group's outputs become the
// candidate inputs of the next group.
type StageGroup struct {
	Stages []Stage
}

// Plan is the expansion of one task into ordered stage groups.
type Plan struct {
	Task   domain.TaskType
	Groups []StageGroup
}

// DefaultQualities are the rendition tiers produced when the caller does
// not name any.
var DefaultQualities = []string{"1080p", "720p", "480p"}

// PlanTrim expands a trim request into a single-stage plan. The range is
// validated before any engine call: 0 <= start < end.
func PlanTrim(inputRef string, start, end float64) (Plan, error) {
	if start < 0 || end <= start {
		return Plan{}, fmt.Errorf("%w: start=%.3f end=%.3f", domain.ErrInvalidRange, start, end)
	}
	return Plan{
		Task: domain.TaskTypeTrim,
		Groups: []StageGroup{{Stages: []Stage{{
			Name: "trim",
			Request: engine.StageRequest{
				Kind:     engine.StageTrim,
				InputRef: inputRef,
				Trim:     &engine.TrimParams{Start: start, End: end},
			},
		}}}},
	}, nil
}

// PlanOverlayChain expands ordered overlay configs into one sequential
// group per overlay, preserving submission order exactly: overlays are not
// commutative, later overlays draw on top of earlier ones. Only the first
// stage carries an input ref; each later stage consumes the prior stage's
// output, bound at execution time. sourceRefs maps overlay source asset
// ids to their artifact refs.
func PlanOverlayChain(task domain.TaskType, inputRef string, overlays []domain.OverlayConfig, sourceRefs map[string]string) (Plan, error) {
	if len(overlays) == 0 {
		return Plan{}, fmt.Errorf("%w: no overlays given", domain.ErrInvalidOverlay)
	}
	plan := Plan{Task: task}
	for i, cfg := range overlays {
		params, err := overlayParams(cfg, sourceRefs[cfg.SourceAssetID])
		if err != nil {
			return Plan{}, fmt.Errorf("overlay %d: %w", i, err)
		}
		ref := ""
		if i == 0 {
			ref = inputRef
		}
		plan.Groups = append(plan.Groups, StageGroup{Stages: []Stage{{
			Name: fmt.Sprintf("overlay[%d]:%s", i, cfg.Kind),
			Request: engine.StageRequest{
				Kind:     engine.StageOverlay,
				InputRef: ref,
				Overlay:  &params,
			},
		}}})
	}
	return plan, nil
}

// PlanTranscode expands quality tiers into a single group of independent
// stages fanned out in parallel.
func PlanTranscode(inputRef string, qualities []string) (Plan, error) {
	if len(qualities) == 0 {
		qualities = DefaultQualities
	}
	group := StageGroup{}
	for _, quality := range qualities {
		group.Stages = append(group.Stages, Stage{
			Name: quality,
			Request: engine.StageRequest{
				Kind:     engine.StageTranscode,
				InputRef: inputRef,
				Quality:  quality,
			},
		})
	}
	return Plan{Task: domain.TaskTypeTranscode, Groups: []StageGroup{group}}, nil
}

// overlayParams validates a config and resolves its position and time
// window into engine expressions. Text overlays draw with the drawtext
// filter, which names its frame/element variables differently from the
// overlay filter.
func overlayParams(cfg domain.OverlayConfig, sourceRef string) (engine.OverlayParams, error) {
	if err := cfg.Validate(); err != nil {
		return engine.OverlayParams{}, err
	}
	point, err := ResolvePosition(cfg.Position, DefaultMargin)
	if err != nil {
		return engine.OverlayParams{}, err
	}
	if cfg.SourceAssetID != "" && sourceRef == "" {
		return engine.OverlayParams{}, fmt.Errorf("%w: overlay source asset %s", domain.ErrNotFound, cfg.SourceAssetID)
	}

	params := engine.OverlayParams{
		Kind:      cfg.Kind,
		Enable:    EnableWindow(cfg.Start, cfg.End),
		Text:      cfg.Text,
		Font:      cfg.Font,
		SourceRef: sourceRef,
		Opacity:   cfg.Opacity,
	}
	if cfg.Kind == domain.OverlayKindText {
		params.X = point.X.Expr("w", "text_w")
		params.Y = point.Y.Expr("h", "text_h")
	} else {
		params.X = point.X.Expr("main_w", "overlay_w")
		params.Y = point.Y.Expr("main_h", "overlay_h")
	}
	return params, nil
}
