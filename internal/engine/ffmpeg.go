package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vidforge/internal/domain"
	"vidforge/internal/storage"
)

// renditionSpec maps a quality tier to its encode settings.
type renditionSpec struct {
	Resolution string
	Bitrate    string
}

var renditionSpecs = map[string]renditionSpec{
	"1080p": {"1920x1080", "6M"},
	"720p":  {"1280x720", "3M"},
	"480p":  {"854x480", "1M"},
}

// SupportedQuality reports whether a rendition tier is known.
func SupportedQuality(quality string) bool {
	_, ok := renditionSpecs[quality]
	return ok
}

// watermarkScaleRatio caps the watermark at a proportion of the frame width.
const watermarkScaleRatio = 0.4

// FFmpeg runs transformation stages by shelling out to ffmpeg/ffprobe.
// Artifact refs are storage keys relative to the file store root.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	store       *storage.FileStore
	logger      zerolog.Logger
}

// NewFFmpeg constructs the adapter. Empty binary paths fall back to PATH
// lookup.
func NewFFmpeg(ffmpegPath, ffprobePath string, store *storage.FileStore, logger zerolog.Logger) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, store: store, logger: logger}
}

// ApplyStage executes one stage and returns the new artifact reference.
func (f *FFmpeg) ApplyStage(ctx context.Context, req StageRequest) (StageResult, error) {
	inPath, err := f.store.Resolve(req.InputRef)
	if err != nil {
		return StageResult{}, &StageError{Message: fmt.Sprintf("resolve input %q: %v", req.InputRef, err)}
	}
	outKey := outputKey(req)
	outPath, err := f.store.Prepare(outKey)
	if err != nil {
		return StageResult{}, &StageError{Message: fmt.Sprintf("prepare output %q: %v", outKey, err)}
	}

	args, err := f.stageArgs(req, inPath, outPath)
	if err != nil {
		return StageResult{}, err
	}
	if err := f.run(ctx, f.ffmpegPath, args); err != nil {
		os.Remove(outPath)
		return StageResult{}, err
	}

	size, duration, err := f.Probe(ctx, outKey)
	if err != nil {
		f.logger.Warn().Err(err).Str("ref", outKey).Msg("engine: probe of produced artifact failed")
	}
	return StageResult{OutputRef: outKey, Bytes: size, DurationSeconds: duration}, nil
}

// Probe returns byte size and container duration of an artifact.
func (f *FFmpeg) Probe(ctx context.Context, ref string) (int64, float64, error) {
	path, err := f.store.Resolve(ref)
	if err != nil {
		return 0, 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return info.Size(), 0, fmt.Errorf("ffprobe %s: %w", ref, err)
	}
	var probed struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probed); err != nil {
		return info.Size(), 0, fmt.Errorf("decode ffprobe output: %w", err)
	}
	duration, err := strconv.ParseFloat(probed.Format.Duration, 64)
	if err != nil {
		return info.Size(), 0, fmt.Errorf("parse duration %q: %w", probed.Format.Duration, err)
	}
	return info.Size(), duration, nil
}

// stageArgs builds the ffmpeg argument list for a stage. Split out so arg
// construction stays testable without the binary installed.
func (f *FFmpeg) stageArgs(req StageRequest, inPath, outPath string) ([]string, error) {
	switch req.Kind {
	case StageTrim:
		if req.Trim == nil {
			return nil, &StageError{Message: "trim stage without trim params"}
		}
		return []string{
			"-y", "-i", inPath,
			"-ss", formatSeconds(req.Trim.Start),
			"-to", formatSeconds(req.Trim.End),
			"-c", "copy",
			outPath,
		}, nil
	case StageOverlay:
		if req.Overlay == nil {
			return nil, &StageError{Message: "overlay stage without overlay params"}
		}
		return f.overlayArgs(req.Overlay, inPath, outPath)
	case StageTranscode:
		spec, ok := renditionSpecs[req.Quality]
		if !ok {
			return nil, &StageError{Message: fmt.Sprintf("unsupported quality tier %q", req.Quality)}
		}
		return []string{
			"-y", "-i", inPath,
			"-vf", "scale=" + strings.Replace(spec.Resolution, "x", ":", 1),
			"-c:v", "libx264",
			"-b:v", spec.Bitrate,
			"-preset", "fast",
			"-c:a", "aac",
			outPath,
		}, nil
	default:
		return nil, &StageError{Message: fmt.Sprintf("unsupported stage kind %q", req.Kind)}
	}
}

func (f *FFmpeg) overlayArgs(ov *OverlayParams, inPath, outPath string) ([]string, error) {
	switch ov.Kind {
	case domain.OverlayKindText:
		parts := []string{
			fmt.Sprintf("text='%s'", escapeDrawtext(ov.Text)),
			"x=" + ov.X,
			"y=" + ov.Y,
			fmt.Sprintf("enable='%s'", ov.Enable),
		}
		if ov.Font != "" {
			parts = append(parts, "fontfile="+ov.Font)
		}
		return []string{
			"-y", "-i", inPath,
			"-vf", "drawtext=" + strings.Join(parts, ":"),
			"-c:a", "copy",
			outPath,
		}, nil
	case domain.OverlayKindImage, domain.OverlayKindVideo, domain.OverlayKindWatermark:
		srcPath, err := f.store.Resolve(ov.SourceRef)
		if err != nil {
			return nil, &StageError{Message: fmt.Sprintf("resolve overlay source %q: %v", ov.SourceRef, err)}
		}
		filter, codecArgs := overlayFilter(ov)
		args := []string{"-y", "-i", inPath, "-i", srcPath, "-filter_complex", filter}
		args = append(args, codecArgs...)
		args = append(args, outPath)
		return args, nil
	default:
		return nil, &StageError{Message: fmt.Sprintf("unsupported overlay kind %q", ov.Kind)}
	}
}

// overlayFilter builds the filter_complex graph for media overlays and the
// codec arguments that go with it.
func overlayFilter(ov *OverlayParams) (string, []string) {
	position := fmt.Sprintf("x=%s:y=%s", ov.X, ov.Y)
	switch ov.Kind {
	case domain.OverlayKindWatermark:
		// Scale the watermark relative to the frame before compositing.
		filter := fmt.Sprintf(
			"[1:v]format=rgba[wm_orig];[wm_orig][0:v]scale2ref=w='min(iw,main_w*%.1f)':h='min(ih,main_h*%.1f)'[wm][base];[base][wm]overlay=%s",
			watermarkScaleRatio, watermarkScaleRatio, position,
		)
		return filter, []string{"-c:a", "copy"}
	case domain.OverlayKindVideo:
		ovFilters := []string{"format=rgba"}
		if ov.Opacity > 0 && ov.Opacity < 1 {
			ovFilters = append(ovFilters, fmt.Sprintf("colorchannelmixer=aa=%.3f", ov.Opacity))
		}
		filter := fmt.Sprintf(
			"[1]%s[ov];[0][ov]overlay=%s:enable='%s':shortest=1",
			strings.Join(ovFilters, ","), position, ov.Enable,
		)
		return filter, []string{"-c:v", "libx264", "-c:a", "copy"}
	default: // IMAGE
		filter := fmt.Sprintf("[1]format=rgba[ov];[0][ov]overlay=%s:enable='%s'", position, ov.Enable)
		return filter, []string{"-c:a", "copy"}
	}
}

func (f *FFmpeg) run(ctx context.Context, bin string, args []string) error {
	f.logger.Debug().Str("bin", bin).Strs("args", args).Msg("engine: running")
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return &StageError{Message: fmt.Sprintf("%s timed out: %v", bin, ctx.Err()), Retryable: true}
	}
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		msg = err.Error()
	}
	return &StageError{Message: fmt.Sprintf("%s: %s", bin, tail(msg, 512))}
}

// outputKey derives a fresh storage key for a stage output next to its
// input, mirroring the <name>_<suffix>.mp4 layout of the upload path.
func outputKey(req StageRequest) string {
	base := strings.TrimSuffix(req.InputRef, filepath.Ext(req.InputRef))
	suffix := uuid.NewString()[:8]
	switch req.Kind {
	case StageTrim:
		return fmt.Sprintf("%s_trim_%s.mp4", base, suffix)
	case StageTranscode:
		return fmt.Sprintf("%s_%s_%s.mp4", base, req.Quality, suffix)
	default:
		return fmt.Sprintf("%s_ov_%s.mp4", base, suffix)
	}
}

func escapeDrawtext(text string) string {
	text = strings.ReplaceAll(text, `\`, `\\`)
	text = strings.ReplaceAll(text, ":", `\:`)
	text = strings.ReplaceAll(text, "'", `\'`)
	return text
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
