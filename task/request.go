package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

func invalid(format string, args ...any) error {
	return Errorf(KindValidation, "validate", fmt.Errorf(format, args...))
}

// Validate checks the request invariants, fills defaults and sets Mode.
// Every failure is a KindValidation error.
func (r *JobRequest) Validate() error {
	r.OutputFileName = strings.TrimSpace(r.OutputFileName)
	if r.OutputFileName == "" {
		return invalid("outputFile is required")
	}
	if filepath.Base(r.OutputFileName) != r.OutputFileName || r.OutputFileName == "." || r.OutputFileName == ".." {
		return invalid("outputFile must be a plain file name")
	}
	if !strings.EqualFold(filepath.Ext(r.OutputFileName), OutputExt) || r.OutputFileName == filepath.Ext(r.OutputFileName) {
		return invalid("outputFile must end in %s", OutputExt)
	}
	if strings.TrimSpace(r.StorageToken) == "" {
		return invalid("driveAccessToken is required")
	}
	if strings.TrimSpace(r.StorageFolderID) == "" {
		return invalid("driveFolderId is required")
	}
	if r.Resolution == "" {
		r.Resolution = DefaultResolution
	}
	if _, err := ParseResolution(r.Resolution); err != nil {
		return Errorf(KindValidation, "validate", err)
	}
	if r.CallbackURL != "" {
		if err := checkURL(r.CallbackURL); err != nil {
			return invalid("callbackUrl: %v", err)
		}
	}

	if r.CorrelationID != "" && !json.Valid([]byte(r.CorrelationID)) {
		return invalid("configId is not valid JSON")
	}

	composite := len(r.MediaAssets) > 0
	simple := r.VideoURL != "" && r.AudioURL != ""

	switch {
	case composite && r.VideoURL != "":
		return invalid("mediaUrls and videoUrl are mutually exclusive")
	case composite:
		r.Mode = ModeComposite
		return r.validateAssets()
	case simple:
		r.Mode = ModeSimple
		if err := checkURL(r.VideoURL); err != nil {
			return invalid("videoUrl: %v", err)
		}
		if err := checkURL(r.AudioURL); err != nil {
			return invalid("audioUrl: %v", err)
		}
		return nil
	default:
		return invalid("no media supplied: provide mediaUrls or videoUrl with audioUrl")
	}
}

func (r *JobRequest) validateAssets() error {
	if r.AudioURL != "" {
		if err := checkURL(r.AudioURL); err != nil {
			return invalid("audioUrl: %v", err)
		}
	}
	for i, a := range r.MediaAssets {
		if err := checkURL(a.URL); err != nil {
			return invalid("mediaUrls[%d].url: %v", i, err)
		}
		switch a.Kind {
		case KindVideo:
		case KindImage:
			if a.DeclaredDuration <= 0 {
				return invalid("mediaUrls[%d].duration must be positive for images", i)
			}
		default:
			return invalid("mediaUrls[%d].type %q must be video or image", i, a.Kind)
		}
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must be an http(s) URL")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
