package task

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

type Mode string

const (
	ModeSimple    Mode = "simple"
	ModeComposite Mode = "composite"
)

type AssetKind string

const (
	KindVideo AssetKind = "video"
	KindImage AssetKind = "image"
)

const DefaultResolution = "1280x720"

// OutputExt is the only container the renderer produces and the uploader
// declares (video/mp4).
const OutputExt = ".mp4"

// AssetSpec is one caller-declared media input.
type AssetSpec struct {
	URL    string
	Kind   AssetKind
	Format string
	// DeclaredDuration is in seconds and only honoured for images.
	DeclaredDuration float64
}

// MediaAsset is the runtime state of an AssetSpec inside one job.
type MediaAsset struct {
	AssetSpec
	DownloadedPath    string
	NormalizedPath    string
	ContentType       string
	EffectiveDuration float64
}

type JobRequest struct {
	Mode            Mode
	MediaAssets     []AssetSpec
	VideoURL        string
	AudioURL        string
	OutputFileName  string
	Resolution      string
	StorageToken    string
	StorageFolderID string
	CallbackURL     string
	// CorrelationID is the caller's configId as raw JSON text, so numbers
	// and strings are echoed back unchanged.
	CorrelationID string
}

type UploadResult struct {
	RemoteFileID  string `json:"driveFileId"`
	RemoteFileURL string `json:"driveFileUrl"`
}

// DriveFileURL is the viewer URL for a Drive file id.
func DriveFileURL(fileID string) string {
	return fmt.Sprintf("https://drive.google.com/file/d/%s/view", fileID)
}

type Job struct {
	ID          string
	Request     JobRequest
	WorkDir     string
	Assets      []*MediaAsset
	AudioPath   string
	OutputPath  string
	Status      Status
	Error       string
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// Resolution is a target frame size.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution parses "WxH" with positive even sides; an empty string
// yields DefaultResolution.
func ParseResolution(s string) (Resolution, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = DefaultResolution
	}
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return Resolution{}, fmt.Errorf("resolution %q must look like 1280x720", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return Resolution{}, fmt.Errorf("resolution %q has an invalid width", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return Resolution{}, fmt.Errorf("resolution %q has an invalid height", s)
	}
	// yuv420p needs even dimensions.
	if width%2 != 0 || height%2 != 0 {
		return Resolution{}, fmt.Errorf("resolution %q must have even width and height", s)
	}
	return Resolution{Width: width, Height: height}, nil
}
