package task

import (
	"errors"
	"strings"
)

// Kind classifies a job failure.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindQueueUninitialized Kind = "queue_uninitialized"
	KindDownload           Kind = "download"
	KindEmptyFile          Kind = "empty_file"
	KindTranscodeTimeout   Kind = "transcode_timeout"
	KindTranscodeFailure   Kind = "transcode_failure"
	KindUploadFailed       Kind = "upload_failed"
	KindInternal           Kind = "internal"
)

// Error carries the failure kind and the stage operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(string(e.Kind))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, ErrUploadFailed) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) && t.Op == "" && t.Err == nil {
		return e.Kind == t.Kind
	}
	return false
}

var (
	ErrQueueUninitialized = &Error{Kind: KindQueueUninitialized}
	ErrUploadFailed       = &Error{Kind: KindUploadFailed}
	ErrTranscodeTimeout   = &Error{Kind: KindTranscodeTimeout}
	ErrTranscodeFailure   = &Error{Kind: KindTranscodeFailure}
	ErrDownload           = &Error{Kind: KindDownload}
	ErrEmptyFile          = &Error{Kind: KindEmptyFile}
	ErrValidation         = &Error{Kind: KindValidation}
)

func Errorf(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal for foreign errors. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
