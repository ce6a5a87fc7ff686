package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"vidforge/internal/domain"
	"vidforge/internal/storage"
)

func newTestFFmpeg(t *testing.T) *FFmpeg {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return NewFFmpeg("", "", store, zerolog.Nop())
}

func TestTrimArgs(t *testing.T) {
	f := newTestFFmpeg(t)
	args, err := f.stageArgs(StageRequest{
		Kind: StageTrim,
		Trim: &TrimParams{Start: 1.5, End: 10},
	}, "/in.mp4", "/out.mp4")
	if err != nil {
		t.Fatalf("stageArgs: %v", err)
	}
	joined := strings.Join(args, " ")
	for _, want := range []string{"-ss 1.5", "-to 10", "-c copy"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args %q missing %q", joined, want)
		}
	}
}

func TestTranscodeArgsPerTier(t *testing.T) {
	f := newTestFFmpeg(t)
	tests := []struct {
		quality string
		scale   string
		bitrate string
	}{
		{"1080p", "scale=1920:1080", "6M"},
		{"720p", "scale=1280:720", "3M"},
		{"480p", "scale=854:480", "1M"},
	}
	for _, tc := range tests {
		t.Run(tc.quality, func(t *testing.T) {
			args, err := f.stageArgs(StageRequest{Kind: StageTranscode, Quality: tc.quality}, "/in.mp4", "/out.mp4")
			if err != nil {
				t.Fatalf("stageArgs: %v", err)
			}
			joined := strings.Join(args, " ")
			if !strings.Contains(joined, tc.scale) || !strings.Contains(joined, "-b:v "+tc.bitrate) {
				t.Fatalf("args %q missing scale/bitrate for %s", joined, tc.quality)
			}
		})
	}
}

func TestTranscodeArgsUnknownTier(t *testing.T) {
	f := newTestFFmpeg(t)
	_, err := f.stageArgs(StageRequest{Kind: StageTranscode, Quality: "4k"}, "/in.mp4", "/out.mp4")
	stageErr, ok := err.(*StageError)
	if !ok {
		t.Fatalf("stageArgs error = %v, want StageError", err)
	}
	if stageErr.Retryable {
		t.Fatal("unknown tier marked retryable")
	}
}

func TestTextOverlayArgs(t *testing.T) {
	f := newTestFFmpeg(t)
	args, err := f.stageArgs(StageRequest{
		Kind: StageOverlay,
		Overlay: &OverlayParams{
			Kind:   domain.OverlayKindText,
			Text:   "it's 10:30",
			X:      "(main_w-text_w)/2",
			Y:      "10",
			Enable: "between(t,0,5)",
		},
	}, "/in.mp4", "/out.mp4")
	if err != nil {
		t.Fatalf("stageArgs: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, `drawtext=`) {
		t.Fatalf("args %q missing drawtext filter", joined)
	}
	if !strings.Contains(joined, `enable='between(t,0,5)'`) {
		t.Fatalf("args %q missing enable window", joined)
	}
	if !strings.Contains(joined, `it\'s 10\:30`) {
		t.Fatalf("args %q text not escaped", joined)
	}
}

func TestVideoOverlayArgsWithOpacity(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := store.Write(context.Background(), "overlays/bug.mp4", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f := NewFFmpeg("", "", store, zerolog.Nop())

	args, err := f.stageArgs(StageRequest{
		Kind: StageOverlay,
		Overlay: &OverlayParams{
			Kind:      domain.OverlayKindVideo,
			SourceRef: "overlays/bug.mp4",
			X:         "0",
			Y:         "0",
			Enable:    "gte(t,0)",
			Opacity:   0.5,
		},
	}, "/in.mp4", "/out.mp4")
	if err != nil {
		t.Fatalf("stageArgs: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "colorchannelmixer=aa=0.500") {
		t.Fatalf("args %q missing opacity mix", joined)
	}
	if !strings.Contains(joined, "shortest=1") {
		t.Fatalf("args %q missing shortest flag", joined)
	}
}

func TestWatermarkArgsScaleToFrame(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := store.Write(context.Background(), "overlays/logo.png", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f := NewFFmpeg("", "", store, zerolog.Nop())

	args, err := f.stageArgs(StageRequest{
		Kind: StageOverlay,
		Overlay: &OverlayParams{
			Kind:      domain.OverlayKindWatermark,
			SourceRef: "overlays/logo.png",
			X:         "main_w-overlay_w-10",
			Y:         "10",
		},
	}, "/in.mp4", "/out.mp4")
	if err != nil {
		t.Fatalf("stageArgs: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "scale2ref") {
		t.Fatalf("args %q missing scale2ref", joined)
	}
}

func TestOutputKeySuffixPerStage(t *testing.T) {
	trim := outputKey(StageRequest{Kind: StageTrim, InputRef: "uploads/clip.mp4"})
	if !strings.HasPrefix(trim, "uploads/clip_trim_") || !strings.HasSuffix(trim, ".mp4") {
		t.Fatalf("trim output key %q", trim)
	}
	rendition := outputKey(StageRequest{Kind: StageTranscode, InputRef: "uploads/clip.mp4", Quality: "720p"})
	if !strings.Contains(rendition, "_720p_") {
		t.Fatalf("rendition output key %q", rendition)
	}
}
