package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"mediarender/config"
	"mediarender/logging"
	"mediarender/task"
)

// Transcoder normalizes single assets to the target frame size.
type Transcoder struct {
	runner       *Runner
	videoTimeout time.Duration
	imageTimeout time.Duration
	log          *slog.Logger
}

func NewTranscoder(runner *Runner, cfg *config.Config, log *slog.Logger) *Transcoder {
	return &Transcoder{
		runner:       runner,
		videoTimeout: cfg.VideoTimeout,
		imageTimeout: cfg.ImageTimeout,
		log:          logging.WithComponent(log, "transcode"),
	}
}

// ScalePadFilter fits the input inside res keeping its aspect ratio and
// letterboxes the rest in black.
func ScalePadFilter(res task.Resolution) string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black,setsar=1",
		res.Width, res.Height, res.Width, res.Height,
	)
}

func VideoNormalizeArgs(in, out string, res task.Resolution) []string {
	return []string{
		"-y", "-i", in,
		"-vf", ScalePadFilter(res),
		"-c:v", "libx264", "-preset", "ultrafast",
		"-c:a", "aac",
		out,
	}
}

func ImageNormalizeArgs(in, out string, res task.Resolution) []string {
	return []string{
		"-y", "-i", in,
		"-vf", ScalePadFilter(res),
		out,
	}
}

// imageExt keeps the still's own container so the encoder is picked from it.
func imageExt(asset *task.MediaAsset) string {
	if ext := filepath.Ext(asset.DownloadedPath); ext != "" {
		return strings.ToLower(ext)
	}
	if asset.Format != "" {
		return "." + strings.TrimPrefix(strings.ToLower(asset.Format), ".")
	}
	return ".jpg"
}

// Normalize writes the normalized form of asset next to outBase (the
// extension is chosen here) and sets asset.NormalizedPath and
// asset.EffectiveDuration. Video durations are measured from the produced
// file; image durations are the declared ones.
func (t *Transcoder) Normalize(ctx context.Context, asset *task.MediaAsset, res task.Resolution, outBase string) (string, error) {
	if asset.DownloadedPath == "" {
		return "", task.Errorf(task.KindInternal, "normalize", fmt.Errorf("asset %s was not downloaded", asset.URL))
	}

	switch asset.Kind {
	case task.KindVideo:
		out := outBase + ".mp4"
		if _, err := t.runner.Exec(ctx, "normalize video", t.videoTimeout, VideoNormalizeArgs(asset.DownloadedPath, out, res)); err != nil {
			return "", err
		}
		duration, err := t.runner.Duration(ctx, out)
		if err != nil {
			return "", err
		}
		asset.NormalizedPath = out
		asset.EffectiveDuration = duration

	case task.KindImage:
		out := outBase + imageExt(asset)
		if _, err := t.runner.Exec(ctx, "normalize image", t.imageTimeout, ImageNormalizeArgs(asset.DownloadedPath, out, res)); err != nil {
			return "", err
		}
		asset.NormalizedPath = out
		asset.EffectiveDuration = asset.DeclaredDuration

	default:
		return "", task.Errorf(task.KindInternal, "normalize", fmt.Errorf("unsupported asset kind %q", asset.Kind))
	}

	t.log.Info("normalized asset", "kind", asset.Kind, "path", asset.NormalizedPath, "duration", asset.EffectiveDuration)
	return asset.NormalizedPath, nil
}
