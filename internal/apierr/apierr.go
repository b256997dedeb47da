package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure. Kinds are surfaced in logs, event payloads and
// API responses.
type Kind string

const (
	KindValidation     Kind = "VALIDATION"
	KindNotFound       Kind = "NOT_FOUND"
	KindConflict       Kind = "CONFLICT"
	KindFileNotFound   Kind = "FILE_NOT_FOUND"
	KindFileAccess     Kind = "FILE_ACCESS"
	KindEncoding       Kind = "ENCODING"
	KindArchiveCorrupt Kind = "ARCHIVE_CORRUPT"
	KindArchiveLimit   Kind = "ARCHIVE_LIMIT"
	KindAnalyzer       Kind = "ANALYZER"
	KindConfig         Kind = "CONFIG"
	KindTimeout        Kind = "TIMEOUT"
	KindBus            Kind = "BUS"
	KindLock           Kind = "LOCK"
	KindRepository     Kind = "REPOSITORY"
	KindInvalidSQLSkip Kind = "INVALID_SQL_SKIP"
)

type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

func Newf(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retriable reports whether a failure of this kind is worth retrying.
// Infrastructure and analyzer-internal failures are; everything else is a
// deterministic outcome.
func Retriable(kind Kind) bool {
	switch kind {
	case KindBus, KindLock, KindRepository, KindAnalyzer, KindTimeout:
		return true
	}
	return false
}

// HTTPStatus maps a kind to the status the control API responds with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindNotFound, KindFileNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindArchiveCorrupt, KindArchiveLimit, KindEncoding:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindBus, KindLock, KindRepository:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
