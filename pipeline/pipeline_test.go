package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediarender/config"
	"mediarender/fetch"
	"mediarender/task"
)

type fakeFetcher struct {
	mu   sync.Mutex
	urls []string
	fail map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL, destPath string) (fetch.Download, error) {
	f.mu.Lock()
	f.urls = append(f.urls, rawURL)
	f.mu.Unlock()
	if err := f.fail[rawURL]; err != nil {
		return fetch.Download{}, err
	}
	if filepath.Ext(destPath) == "" {
		destPath += ".bin"
	}
	if err := os.WriteFile(destPath, []byte(rawURL), 0o644); err != nil {
		return fetch.Download{}, err
	}
	return fetch.Download{Path: destPath, ContentType: "application/octet-stream", Size: int64(len(rawURL))}, nil
}

type fakeTranscoder struct {
	calls []string
	err   error
}

func (f *fakeTranscoder) Normalize(ctx context.Context, asset *task.MediaAsset, res task.Resolution, outBase string) (string, error) {
	f.calls = append(f.calls, asset.URL)
	if f.err != nil {
		return "", f.err
	}
	out := outBase + ".mp4"
	if err := os.WriteFile(out, nil, 0o644); err != nil {
		return "", err
	}
	asset.NormalizedPath = out
	asset.EffectiveDuration = asset.DeclaredDuration
	if asset.Kind == task.KindVideo {
		asset.EffectiveDuration = 4
	}
	return out, nil
}

type fakeRenderer struct {
	muxCalls    int
	concatCalls int
	manifest    string
	audio       string
	err         error
}

func (f *fakeRenderer) Concat(ctx context.Context, manifestPath, audioPath, out string, res task.Resolution) error {
	f.concatCalls++
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return err
	}
	f.manifest = string(data)
	f.audio = audioPath
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(out, []byte("rendered"), 0o644)
}

func (f *fakeRenderer) Mux(ctx context.Context, videoPath, audioPath, out string) error {
	f.muxCalls++
	f.audio = audioPath
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(out, []byte("muxed"), 0o644)
}

type fakeUploader struct {
	path string
	err  error
}

func (f *fakeUploader) Upload(ctx context.Context, filePath, token, folderID string) (*task.UploadResult, error) {
	f.path = filePath
	if f.err != nil {
		return nil, f.err
	}
	if _, err := os.Stat(filePath); err != nil {
		return nil, err
	}
	return &task.UploadResult{RemoteFileID: "file-1", RemoteFileURL: task.DriveFileURL("file-1")}, nil
}

type fakeNotifier struct {
	calls         int
	url, configID string
}

func (f *fakeNotifier) Notify(ctx context.Context, callbackURL, correlationID string, result *task.UploadResult) {
	f.calls++
	f.url = callbackURL
	f.configID = correlationID
}

type fakeGate struct{ err error }

func (g fakeGate) Check(context.Context) error { return g.err }

type harness struct {
	cfg        *config.Config
	fetcher    *fakeFetcher
	transcoder *fakeTranscoder
	renderer   *fakeRenderer
	uploader   *fakeUploader
	notifier   *fakeNotifier
}

func newHarness(t *testing.T) *harness {
	root := t.TempDir()
	return &harness{
		cfg:        &config.Config{WorkRoot: filepath.Join(root, "work"), PublicDir: filepath.Join(root, "public")},
		fetcher:    &fakeFetcher{},
		transcoder: &fakeTranscoder{},
		renderer:   &fakeRenderer{},
		uploader:   &fakeUploader{},
		notifier:   &fakeNotifier{},
	}
}

func (h *harness) pipeline(t *testing.T, gate Gate) *Pipeline {
	p, err := New(h.cfg, Stages{
		Fetcher:    h.fetcher,
		Transcoder: h.transcoder,
		Renderer:   h.renderer,
		Uploader:   h.uploader,
		Notifier:   h.notifier,
		Gate:       gate,
	}, nil)
	require.NoError(t, err)
	return p
}

func validated(t *testing.T, req task.JobRequest) task.JobRequest {
	req.StorageToken = "tok"
	req.StorageFolderID = "folder"
	require.NoError(t, req.Validate())
	return req
}

func assertReleased(t *testing.T, job *task.Job) {
	t.Helper()
	assert.NoDirExists(t, job.WorkDir)
	assert.NoFileExists(t, job.OutputPath)
}

func TestProcess_SimpleModeMuxesOnce(t *testing.T) {
	h := newHarness(t)
	job := &task.Job{ID: "simple", Request: validated(t, task.JobRequest{
		VideoURL:       "https://x/v.mp4",
		AudioURL:       "https://x/a.mp3",
		OutputFileName: "out.mp4",
		CallbackURL:    "https://hooks.example/done",
		CorrelationID:  `"cfg-1"`,
	})}

	res, err := h.pipeline(t, nil).Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "file-1", res.RemoteFileID)

	assert.Equal(t, 1, h.renderer.muxCalls)
	assert.Equal(t, 0, h.renderer.concatCalls)
	assert.Empty(t, h.transcoder.calls)
	assert.Equal(t, []string{"https://x/v.mp4", "https://x/a.mp3"}, h.fetcher.urls)
	assert.Equal(t, filepath.Join(h.cfg.PublicDir, "out.mp4"), h.uploader.path)
	assert.Equal(t, 1, h.notifier.calls)
	assert.Equal(t, `"cfg-1"`, h.notifier.configID)
	assertReleased(t, job)
}

func TestProcess_CompositePreservesOrder(t *testing.T) {
	h := newHarness(t)
	specs := []task.AssetSpec{
		{URL: "https://x/3.png", Kind: task.KindImage, Format: "png", DeclaredDuration: 2},
		{URL: "https://x/1.mp4", Kind: task.KindVideo},
		{URL: "https://x/2.jpg", Kind: task.KindImage, DeclaredDuration: 1.5},
		{URL: "https://x/0.mov", Kind: task.KindVideo, Format: "../evil"},
	}
	job := &task.Job{ID: "composite", Request: validated(t, task.JobRequest{
		MediaAssets:    specs,
		OutputFileName: "out.mp4",
	})}

	_, err := h.pipeline(t, nil).Process(context.Background(), job)
	require.NoError(t, err)

	want := []string{"https://x/3.png", "https://x/1.mp4", "https://x/2.jpg", "https://x/0.mov"}
	assert.Equal(t, want, h.fetcher.urls)
	assert.Equal(t, want, h.transcoder.calls)
	require.Len(t, job.Assets, 4)
	for i, a := range job.Assets {
		assert.Equal(t, want[i], a.URL)
	}
	assert.True(t, strings.HasSuffix(job.Assets[0].DownloadedPath, "asset_000.png"))
	assert.True(t, strings.HasSuffix(job.Assets[3].DownloadedPath, "asset_003.bin"))

	lines := strings.Split(strings.TrimSpace(h.renderer.manifest), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "file '"+job.Assets[0].NormalizedPath+"'", lines[0])
	assert.Equal(t, "duration 2", lines[1])
	assert.Equal(t, "file '"+job.Assets[1].NormalizedPath+"'", lines[2])
	assert.Equal(t, "file '"+job.Assets[2].NormalizedPath+"'", lines[3])
	assert.Equal(t, "duration 1.5", lines[4])
	assert.Equal(t, "file '"+job.Assets[3].NormalizedPath+"'", lines[5])

	assert.Equal(t, 0, h.renderer.muxCalls)
	assert.Empty(t, h.renderer.audio)
	assert.Equal(t, 1, h.notifier.calls)
	assertReleased(t, job)
}

func TestProcess_CompositeWithSoundtrack(t *testing.T) {
	h := newHarness(t)
	job := &task.Job{ID: "soundtrack", Request: validated(t, task.JobRequest{
		MediaAssets:    []task.AssetSpec{{URL: "https://x/a.jpg", Kind: task.KindImage, DeclaredDuration: 3}},
		AudioURL:       "https://x/music.mp3",
		OutputFileName: "out.mp4",
	})}

	_, err := h.pipeline(t, nil).Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x/a.jpg", "https://x/music.mp3"}, h.fetcher.urls)
	assert.Equal(t, job.AudioPath, h.renderer.audio)
	assert.NotEmpty(t, h.renderer.audio)
}

func TestProcess_StageFailuresReleaseFiles(t *testing.T) {
	timeout := task.Errorf(task.KindTranscodeTimeout, "normalize video", errors.New("ffmpeg timed out after 180s"))

	tests := []struct {
		name     string
		setup    func(h *harness)
		wantKind task.Kind
	}{
		{
			name:     "download",
			setup:    func(h *harness) { h.fetcher.fail = map[string]error{"https://x/1.mp4": task.Errorf(task.KindDownload, "fetch", errors.New("503"))} },
			wantKind: task.KindDownload,
		},
		{
			name:     "transcode timeout",
			setup:    func(h *harness) { h.transcoder.err = timeout },
			wantKind: task.KindTranscodeTimeout,
		},
		{
			name:     "render",
			setup:    func(h *harness) { h.renderer.err = task.Errorf(task.KindTranscodeFailure, "concat", errors.New("exit 1")) },
			wantKind: task.KindTranscodeFailure,
		},
		{
			name:     "upload",
			setup:    func(h *harness) { h.uploader.err = task.Errorf(task.KindUploadFailed, "upload", errors.New("both tiers failed")) },
			wantKind: task.KindUploadFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)
			job := &task.Job{ID: "fail", Request: validated(t, task.JobRequest{
				MediaAssets:    []task.AssetSpec{{URL: "https://x/1.mp4", Kind: task.KindVideo}},
				OutputFileName: "out.mp4",
				CallbackURL:    "https://hooks.example/done",
			})}

			res, err := h.pipeline(t, nil).Process(context.Background(), job)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.Equal(t, tt.wantKind, task.KindOf(err))
			assert.Equal(t, 0, h.notifier.calls)
			assertReleased(t, job)
			assert.NoFileExists(t, filepath.Join(h.cfg.PublicDir, "out.mp4"))
		})
	}
}

func TestProcess_FailedJobKeepsExistingPublicFile(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.MkdirAll(h.cfg.PublicDir, 0o755))
	existing := filepath.Join(h.cfg.PublicDir, "logo.mp4")
	require.NoError(t, os.WriteFile(existing, []byte("someone else's"), 0o644))

	h.fetcher.fail = map[string]error{"https://x/v.mp4": task.Errorf(task.KindDownload, "fetch", errors.New("404"))}
	job := &task.Job{ID: "clash", Request: validated(t, task.JobRequest{
		VideoURL: "https://x/v.mp4", AudioURL: "https://x/a.mp3", OutputFileName: "logo.mp4",
	})}

	_, err := h.pipeline(t, nil).Process(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, task.KindDownload, task.KindOf(err))
	assertReleased(t, job)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "someone else's", string(data))
}

func TestProcess_SuccessfulJobDoesNotReplacePublicFile(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.MkdirAll(h.cfg.PublicDir, 0o755))
	existing := filepath.Join(h.cfg.PublicDir, "out.mp4")
	require.NoError(t, os.WriteFile(existing, []byte("someone else's"), 0o644))

	job := &task.Job{ID: "taken", Request: validated(t, task.JobRequest{
		VideoURL: "https://x/v.mp4", AudioURL: "https://x/a.mp3", OutputFileName: "out.mp4",
	})}

	_, err := h.pipeline(t, nil).Process(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(h.uploader.path, job.WorkDir+string(filepath.Separator)))
	assertReleased(t, job)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "someone else's", string(data))
}

func TestProcess_GateRejectsBeforeWork(t *testing.T) {
	h := newHarness(t)
	job := &task.Job{ID: "gated", Request: validated(t, task.JobRequest{
		VideoURL: "https://x/v.mp4", AudioURL: "https://x/a.mp3", OutputFileName: "out.mp4",
	})}

	_, err := h.pipeline(t, fakeGate{err: task.Errorf(task.KindInternal, "throttle", errors.New("insufficient system resources"))}).
		Process(context.Background(), job)
	require.Error(t, err)
	assert.Empty(t, h.fetcher.urls)
	assert.Empty(t, job.WorkDir)
}

func TestProcess_JobsGetDistinctWorkDirs(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(t, nil)
	var dirs []string
	for _, id := range []string{"one", "two"} {
		job := &task.Job{ID: id, Request: validated(t, task.JobRequest{
			VideoURL: "https://x/v.mp4", AudioURL: "https://x/a.mp3", OutputFileName: "out.mp4",
		})}
		_, err := p.Process(context.Background(), job)
		require.NoError(t, err)
		dirs = append(dirs, job.WorkDir)
	}
	assert.NotEqual(t, dirs[0], dirs[1])
}

func TestNew_RequiresStages(t *testing.T) {
	_, err := New(&config.Config{PublicDir: t.TempDir()}, Stages{}, nil)
	assert.Error(t, err)
}

func TestFormatExt(t *testing.T) {
	assert.Equal(t, ".png", formatExt("PNG"))
	assert.Equal(t, ".jpg", formatExt(".jpg"))
	assert.Equal(t, "", formatExt(""))
	assert.Equal(t, "", formatExt("../x"))
	assert.Equal(t, "", formatExt("averyverylongformat"))
}
