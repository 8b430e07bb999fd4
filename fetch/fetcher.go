// Package fetch downloads remote media assets to local storage with retries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"

	"mediarender/config"
	"mediarender/logging"
	"mediarender/task"
)

const (
	userAgent    = "Mozilla/5.0 (compatible; mediarender/1.0)"
	maxRedirects = 5
)

// Download is a fetched file on local disk.
type Download struct {
	Path        string
	ContentType string
	Size        int64
}

type Fetcher struct {
	client   *http.Client
	maxSize  int64
	attempts int
	initial  time.Duration
	max      time.Duration
	timer    backoff.Timer
	log      *slog.Logger
}

func NewFetcher(cfg *config.Config, log *slog.Logger) *Fetcher {
	attempts := cfg.DownloadAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.DownloadTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				req.Header.Set("User-Agent", userAgent)
				return nil
			},
		},
		maxSize:  cfg.MaxDownloadSize,
		attempts: attempts,
		initial:  cfg.BackoffInitial,
		max:      cfg.BackoffMax,
		log:      logging.WithComponent(log, "fetch"),
	}
}

func (f *Fetcher) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initial
	b.MaxInterval = f.max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.attempts-1)), ctx)
}

// Fetch downloads rawURL to destPath. When destPath has no extension, the
// sniffed extension is appended and the returned Path reflects the rename.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, destPath string) (Download, error) {
	attempt := 0
	var size int64

	op := func() error {
		attempt++
		n, err := f.get(ctx, rawURL, destPath)
		if err != nil {
			os.Remove(destPath)
			return err
		}
		size = n
		return nil
	}
	notify := func(err error, wait time.Duration) {
		f.log.Warn("download attempt failed", "url", rawURL, "attempt", attempt, "retry_in", wait, "error", err)
	}

	if err := backoff.RetryNotifyWithTimer(op, f.newBackOff(ctx), notify, f.timer); err != nil {
		kind := task.KindOf(err)
		if kind != task.KindEmptyFile {
			kind = task.KindDownload
		}
		return Download{}, task.Errorf(kind, "fetch", fmt.Errorf("%s after %d attempt(s): %w", rawURL, attempt, err))
	}

	d := Download{Path: destPath, Size: size}
	mtype, err := mimetype.DetectFile(destPath)
	if err != nil {
		f.log.Warn("could not sniff content type", "path", destPath, "error", err)
		return d, nil
	}
	d.ContentType = mtype.String()
	if filepath.Ext(destPath) == "" && mtype.Extension() != "" {
		renamed := destPath + mtype.Extension()
		if err := os.Rename(destPath, renamed); err != nil {
			return Download{}, task.Errorf(task.KindInternal, "fetch", err)
		}
		d.Path = renamed
	}

	f.log.Info("downloaded asset", "url", rawURL, "path", d.Path, "bytes", d.Size, "content_type", d.ContentType, "attempts", attempt)
	return d, nil
}

// get performs one transfer attempt.
func (f *Fetcher) get(ctx context.Context, rawURL, destPath string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, backoff.Permanent(task.Errorf(task.KindDownload, "request", err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, task.Errorf(task.KindDownload, "request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, task.Errorf(task.KindDownload, "request", fmt.Errorf("unexpected status: %s", resp.Status))
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, backoff.Permanent(task.Errorf(task.KindInternal, "create", err))
	}

	var body io.Reader = resp.Body
	if f.maxSize > 0 {
		body = io.LimitReader(resp.Body, f.maxSize+1)
	}
	written, copyErr := io.Copy(out, body)
	closeErr := out.Close()

	switch {
	case copyErr != nil:
		return 0, task.Errorf(task.KindDownload, "write", copyErr)
	case closeErr != nil:
		return 0, task.Errorf(task.KindDownload, "write", closeErr)
	case f.maxSize > 0 && written > f.maxSize:
		return 0, backoff.Permanent(task.Errorf(task.KindDownload, "write",
			fmt.Errorf("file size exceeds limit of %d bytes", f.maxSize)))
	case written == 0:
		return 0, task.Errorf(task.KindEmptyFile, "write", errors.New("downloaded file is empty"))
	}
	return written, nil
}
