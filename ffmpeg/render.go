package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mediarender/config"
	"mediarender/logging"
	"mediarender/task"
)

const (
	renderCRF     = "23"
	renderPixFmt  = "yuv420p"
	renderPreset  = "ultrafast"
	manifestPerms = 0o640
)

// Renderer produces the final output file.
type Renderer struct {
	runner        *Runner
	concatTimeout time.Duration
	muxTimeout    time.Duration
	log           *slog.Logger
}

func NewRenderer(runner *Runner, cfg *config.Config, log *slog.Logger) *Renderer {
	return &Renderer{
		runner:        runner,
		concatTimeout: cfg.ConcatTimeout,
		muxTimeout:    cfg.MuxTimeout,
		log:           logging.WithComponent(log, "render"),
	}
}

// BuildManifest renders the concat demuxer list: one file line per asset in
// order, with a duration line after every image. Quotes inside paths are not
// escaped.
func BuildManifest(assets []*task.MediaAsset) (string, error) {
	var b strings.Builder
	for i, a := range assets {
		if a.NormalizedPath == "" {
			return "", fmt.Errorf("asset %d has not been normalized", i)
		}
		path, err := filepath.Abs(a.NormalizedPath)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "file '%s'\n", path)
		if a.Kind == task.KindImage {
			fmt.Fprintf(&b, "duration %s\n", strconv.FormatFloat(a.EffectiveDuration, 'f', -1, 64))
		}
	}
	return b.String(), nil
}

// WriteManifest writes the manifest for assets to path.
func WriteManifest(path string, assets []*task.MediaAsset) error {
	manifest, err := BuildManifest(assets)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(manifest), manifestPerms); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func ConcatArgs(manifest, audio, out string, res task.Resolution) []string {
	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", manifest}
	if audio != "" {
		args = append(args, "-i", audio)
	}
	args = append(args,
		"-c:v", "libx264", "-preset", renderPreset, "-crf", renderCRF,
		"-pix_fmt", renderPixFmt, "-s", res.String(),
	)
	if audio != "" {
		args = append(args, "-map", "0:v:0", "-map", "1:a:0", "-shortest")
	}
	return append(args, "-c:a", "aac", out)
}

func MuxArgs(video, audio, out string) []string {
	return []string{
		"-y", "-i", video, "-i", audio,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "copy", "-c:a", "aac",
		"-shortest",
		out,
	}
}

// Concat renders the manifest, plus an optional soundtrack, into out.
func (r *Renderer) Concat(ctx context.Context, manifestPath, audioPath, out string, res task.Resolution) error {
	r.log.Info("rendering composite", "manifest", manifestPath, "with_audio", audioPath != "", "output", out)
	_, err := r.runner.Exec(ctx, "concat", r.concatTimeout, ConcatArgs(manifestPath, audioPath, out, res))
	return err
}

// Mux combines one video and one audio input, copying the video stream.
func (r *Renderer) Mux(ctx context.Context, videoPath, audioPath, out string) error {
	r.log.Info("muxing video and audio", "video", videoPath, "audio", audioPath, "output", out)
	_, err := r.runner.Exec(ctx, "mux", r.muxTimeout, MuxArgs(videoPath, audioPath, out))
	return err
}
