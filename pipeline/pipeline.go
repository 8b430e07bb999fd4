// Package pipeline runs a render job through its stages: fetch, normalize,
// render, upload and notify, releasing the job's files on every exit path.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"mediarender/config"
	"mediarender/fetch"
	"mediarender/ffmpeg"
	"mediarender/logging"
	"mediarender/task"
)

type Fetcher interface {
	Fetch(ctx context.Context, rawURL, destPath string) (fetch.Download, error)
}

type Transcoder interface {
	Normalize(ctx context.Context, asset *task.MediaAsset, res task.Resolution, outBase string) (string, error)
}

type Renderer interface {
	Concat(ctx context.Context, manifestPath, audioPath, out string, res task.Resolution) error
	Mux(ctx context.Context, videoPath, audioPath, out string) error
}

type Uploader interface {
	Upload(ctx context.Context, filePath, token, folderID string) (*task.UploadResult, error)
}

type Notifier interface {
	Notify(ctx context.Context, callbackURL, correlationID string, result *task.UploadResult)
}

// Gate admits or rejects a job before any work starts.
type Gate interface {
	Check(ctx context.Context) error
}

// Stages bundles the collaborators of a Pipeline. Gate is optional.
type Stages struct {
	Fetcher    Fetcher
	Transcoder Transcoder
	Renderer   Renderer
	Uploader   Uploader
	Notifier   Notifier
	Gate       Gate
}

// Pipeline implements task.Processor.
type Pipeline struct {
	stages    Stages
	workRoot  string
	publicDir string
	log       *slog.Logger
}

var _ task.Processor = (*Pipeline)(nil)

func New(cfg *config.Config, stages Stages, log *slog.Logger) (*Pipeline, error) {
	if stages.Fetcher == nil || stages.Transcoder == nil || stages.Renderer == nil ||
		stages.Uploader == nil || stages.Notifier == nil {
		return nil, fmt.Errorf("pipeline: every stage except the gate is required")
	}
	if err := os.MkdirAll(cfg.PublicDir, 0o755); err != nil {
		return nil, fmt.Errorf("create public dir: %w", err)
	}
	return &Pipeline{
		stages:    stages,
		workRoot:  cfg.WorkRoot,
		publicDir: cfg.PublicDir,
		log:       logging.WithComponent(log, "pipeline"),
	}, nil
}

// Process runs job to completion. The job's work directory and rendered
// output are removed before Process returns, whatever the outcome.
func (p *Pipeline) Process(ctx context.Context, job *task.Job) (*task.UploadResult, error) {
	log := logging.WithJobID(p.log, job.ID)
	req := job.Request

	if p.stages.Gate != nil {
		if err := p.stages.Gate.Check(ctx); err != nil {
			return nil, err
		}
	}

	res, err := task.ParseResolution(req.Resolution)
	if err != nil {
		return nil, task.Errorf(task.KindValidation, "process", err)
	}

	ws, err := NewWorkspace(p.workRoot, job.ID)
	if err != nil {
		return nil, task.Errorf(task.KindInternal, "workspace", err)
	}
	job.WorkDir = ws.Dir
	defer func() {
		if err := ws.Release(); err != nil {
			log.Error("cleanup failed", "work_dir", ws.Dir, "output", ws.Output, "error", err)
			return
		}
		log.Debug("workspace released", "work_dir", ws.Dir)
	}()

	// Render inside the job dir; ffmpeg -y must never truncate a file this
	// job did not create.
	renderDir := ws.Path("render")
	if err := os.Mkdir(renderDir, 0o755); err != nil {
		return nil, task.Errorf(task.KindInternal, "workspace", err)
	}
	job.OutputPath = filepath.Join(renderDir, req.OutputFileName)

	if req.Mode == task.ModeSimple {
		err = p.renderSimple(ctx, job, ws)
	} else {
		err = p.renderComposite(ctx, job, ws, res)
	}
	if err != nil {
		return nil, err
	}
	p.publish(job, ws, log)

	result, err := p.stages.Uploader.Upload(ctx, job.OutputPath, req.StorageToken, req.StorageFolderID)
	if err != nil {
		return nil, err
	}

	p.stages.Notifier.Notify(ctx, req.CallbackURL, req.CorrelationID, result)
	return result, nil
}

// publish exposes the rendered file under PUBLIC_DIR until the job is
// released. An existing file of the same name is left alone and the job
// uploads from its own directory instead.
func (p *Pipeline) publish(job *task.Job, ws *Workspace, log *slog.Logger) {
	dst := filepath.Join(p.publicDir, job.Request.OutputFileName)
	if err := os.Link(job.OutputPath, dst); err != nil {
		log.Warn("rendered file not published", "path", dst, "error", err)
		return
	}
	ws.Output = dst
	job.OutputPath = dst
}

// renderSimple muxes one video with one audio track.
func (p *Pipeline) renderSimple(ctx context.Context, job *task.Job, ws *Workspace) error {
	video, err := p.stages.Fetcher.Fetch(ctx, job.Request.VideoURL, ws.Path("video"))
	if err != nil {
		return err
	}
	audio, err := p.stages.Fetcher.Fetch(ctx, job.Request.AudioURL, ws.Path("audio"))
	if err != nil {
		return err
	}
	job.AudioPath = audio.Path
	return p.stages.Renderer.Mux(ctx, video.Path, audio.Path, job.OutputPath)
}

// renderComposite fetches and normalizes each asset in order, then
// concatenates them through a manifest.
func (p *Pipeline) renderComposite(ctx context.Context, job *task.Job, ws *Workspace, res task.Resolution) error {
	for i, spec := range job.Request.MediaAssets {
		asset := &task.MediaAsset{AssetSpec: spec}

		dl, err := p.stages.Fetcher.Fetch(ctx, spec.URL, ws.Path(fmt.Sprintf("asset_%03d%s", i, formatExt(spec.Format))))
		if err != nil {
			return err
		}
		asset.DownloadedPath = dl.Path
		asset.ContentType = dl.ContentType

		if _, err := p.stages.Transcoder.Normalize(ctx, asset, res, ws.Path(fmt.Sprintf("normalized_%03d", i))); err != nil {
			return err
		}
		job.Assets = append(job.Assets, asset)
	}

	if job.Request.AudioURL != "" {
		audio, err := p.stages.Fetcher.Fetch(ctx, job.Request.AudioURL, ws.Path("audio"))
		if err != nil {
			return err
		}
		job.AudioPath = audio.Path
	}

	manifest := ws.Path("concat.txt")
	if err := ffmpeg.WriteManifest(manifest, job.Assets); err != nil {
		return task.Errorf(task.KindInternal, "manifest", err)
	}
	return p.stages.Renderer.Concat(ctx, manifest, job.AudioPath, job.OutputPath, res)
}

// formatExt turns a declared format into a file extension. Anything that is
// not a short alphanumeric token is ignored and the fetcher sniffs instead.
func formatExt(format string) string {
	format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if format == "" || len(format) > 8 {
		return ""
	}
	for _, r := range format {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return "." + format
}
