package pipeline

import (
	"errors"
	"testing"

	"vidforge/internal/domain"
	"vidforge/internal/engine"
)

func TestPlanTrimValidatesRange(t *testing.T) {
	tests := []struct {
		name    string
		start   float64
		end     float64
		wantErr bool
	}{
		{"valid", 0, 10, false},
		{"valid offset", 2.5, 7, false},
		{"start after end", 5.0, 2.0, true},
		{"equal", 3, 3, true},
		{"negative start", -1, 5, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := PlanTrim("in.mp4", tc.start, tc.end)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrInvalidRange) {
					t.Fatalf("PlanTrim = %v, want ErrInvalidRange", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("PlanTrim: %v", err)
			}
			if len(plan.Groups) != 1 || len(plan.Groups[0].Stages) != 1 {
				t.Fatalf("trim plan shape: %+v", plan)
			}
		})
	}
}

func TestPlanOverlayChainPreservesOrder(t *testing.T) {
	overlays := []domain.OverlayConfig{
		{Kind: domain.OverlayKindText, Text: "first", Position: "top-left"},
		{Kind: domain.OverlayKindImage, SourceAssetID: "img", Position: "center"},
		{Kind: domain.OverlayKindText, Text: "last", Position: "bottom-right"},
	}
	plan, err := PlanOverlayChain(domain.TaskTypeOverlay, "in.mp4", overlays, map[string]string{"img": "logo.png"})
	if err != nil {
		t.Fatalf("PlanOverlayChain: %v", err)
	}
	if len(plan.Groups) != 3 {
		t.Fatalf("expected one sequential group per overlay, got %d", len(plan.Groups))
	}
	// Only the head of the chain is bound to an input; the rest consume
	// the preceding stage's output at execution time.
	if ref := plan.Groups[0].Stages[0].Request.InputRef; ref != "in.mp4" {
		t.Fatalf("first stage input = %q", ref)
	}
	for i := 1; i < len(plan.Groups); i++ {
		if ref := plan.Groups[i].Stages[0].Request.InputRef; ref != "" {
			t.Fatalf("stage %d input bound at plan time: %q", i, ref)
		}
	}
	if plan.Groups[0].Stages[0].Request.Overlay.Text != "first" {
		t.Fatal("submission order not preserved")
	}
	if plan.Groups[2].Stages[0].Request.Overlay.Text != "last" {
		t.Fatal("submission order not preserved")
	}
	if got := plan.Groups[1].Stages[0].Request.Overlay.SourceRef; got != "logo.png" {
		t.Fatalf("source ref = %q", got)
	}
}

func TestPlanOverlayChainTextUsesDrawtextVars(t *testing.T) {
	plan, err := PlanOverlayChain(domain.TaskTypeOverlay, "in.mp4", []domain.OverlayConfig{
		{Kind: domain.OverlayKindText, Text: "t", Position: "center"},
	}, nil)
	if err != nil {
		t.Fatalf("PlanOverlayChain: %v", err)
	}
	ov := plan.Groups[0].Stages[0].Request.Overlay
	if ov.X != "(w-text_w)/2" {
		t.Fatalf("text overlay x = %q", ov.X)
	}
}

func TestPlanOverlayChainRejectsInvalidConfig(t *testing.T) {
	_, err := PlanOverlayChain(domain.TaskTypeOverlay, "in.mp4", []domain.OverlayConfig{
		{Kind: domain.OverlayKindText, Position: "center"}, // no text
	}, nil)
	if !errors.Is(err, domain.ErrInvalidOverlay) {
		t.Fatalf("PlanOverlayChain = %v, want ErrInvalidOverlay", err)
	}
}

func TestPlanTranscodeFanOut(t *testing.T) {
	plan, err := PlanTranscode("in.mp4", nil)
	if err != nil {
		t.Fatalf("PlanTranscode: %v", err)
	}
	if len(plan.Groups) != 1 {
		t.Fatalf("fan-out plan has %d groups, want 1", len(plan.Groups))
	}
	stages := plan.Groups[0].Stages
	if len(stages) != len(DefaultQualities) {
		t.Fatalf("%d stages, want %d", len(stages), len(DefaultQualities))
	}
	for i, stage := range stages {
		if stage.Request.Kind != engine.StageTranscode {
			t.Fatalf("stage %d kind = %s", i, stage.Request.Kind)
		}
		if stage.Request.InputRef != "in.mp4" {
			t.Fatalf("stage %d input = %q", i, stage.Request.InputRef)
		}
	}
}
