// Package upload ships rendered files to Google Drive.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"mediarender/config"
	"mediarender/logging"
	"mediarender/task"
)

const videoMimeType = "video/mp4"

// Drive uploads with a single multipart request and falls back once to a
// two-phase resumable transfer.
type Drive struct {
	endpoint  string
	uploadURL string
	base      *http.Client
	log       *slog.Logger
}

func NewDrive(cfg *config.Config, log *slog.Logger) *Drive {
	return &Drive{
		endpoint:  cfg.DriveEndpoint,
		uploadURL: cfg.DriveUploadURL,
		base:      http.DefaultClient,
		log:       logging.WithComponent(log, "upload"),
	}
}

type fileMetadata struct {
	Name     string   `json:"name"`
	Parents  []string `json:"parents"`
	MimeType string   `json:"mimeType"`
}

// Upload stores filePath in folderID using token as the OAuth bearer token.
func (d *Drive) Upload(ctx context.Context, filePath, token, folderID string) (*task.UploadResult, error) {
	client := d.authorizedClient(ctx, token)
	meta := fileMetadata{
		Name:     filepath.Base(filePath),
		Parents:  []string{folderID},
		MimeType: videoMimeType,
	}

	id, err := d.multipart(ctx, client, filePath, meta)
	if err != nil {
		d.log.Warn("multipart upload failed, falling back to resumable", "file", filePath, "error", err)
		id, err = d.resumable(ctx, client, filePath, meta)
		if err != nil {
			return nil, task.Errorf(task.KindUploadFailed, "upload", err)
		}
	}

	d.log.Info("uploaded to drive", "file", filePath, "drive_file_id", id)
	return &task.UploadResult{RemoteFileID: id, RemoteFileURL: task.DriveFileURL(id)}, nil
}

func (d *Drive) authorizedClient(ctx context.Context, token string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.base)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
}

func (d *Drive) multipart(ctx context.Context, client *http.Client, filePath string, meta fileMetadata) (string, error) {
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if d.endpoint != "" {
		opts = append(opts, option.WithEndpoint(d.endpoint))
	}
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("drive client: %w", err)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	file := &drive.File{Name: meta.Name, Parents: meta.Parents, MimeType: meta.MimeType}
	created, err := srv.Files.Create(file).
		Media(f, googleapi.ContentType(videoMimeType), googleapi.ChunkSize(0)).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("multipart upload: %w", err)
	}
	if created.Id == "" {
		return "", errors.New("multipart upload: response carried no file id")
	}
	return created.Id, nil
}

func (d *Drive) resumable(ctx context.Context, client *http.Client, filePath string, meta fileMetadata) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	session, err := d.startSession(ctx, client, meta, info.Size())
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, session, f)
	if err != nil {
		return "", err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", videoMimeType)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resumable upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("resumable upload: %s: %s", resp.Status, readSnippet(resp.Body))
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("resumable upload: decode response: %w", err)
	}
	if created.ID == "" {
		return "", errors.New("resumable upload: response carried no file id")
	}
	return created.ID, nil
}

// startSession performs phase one and returns the session URL.
func (d *Drive) startSession(ctx context.Context, client *http.Client, meta fileMetadata, size int64) (string, error) {
	body, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(d.uploadURL)
	if err != nil {
		return "", fmt.Errorf("resumable init: %w", err)
	}
	q := u.Query()
	q.Set("uploadType", "resumable")
	q.Set("supportsAllDrives", "true")
	q.Set("fields", "id")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Type", videoMimeType)
	req.Header.Set("X-Upload-Content-Length", fmt.Sprint(size))

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resumable init: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resumable init: %s: %s", resp.Status, readSnippet(resp.Body))
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", errors.New("resumable init: no session location returned")
	}
	return location, nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(bytes.TrimSpace(b))
}
