package fs

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors classifying every failure the providers and the router can
// produce. Callers test them with errors.Is; the HTTP layer maps them with
// HTTPStatus.
var (
	ErrNotFound           = errors.New("not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotDirectory       = errors.New("not a directory")
	ErrIsDirectory        = errors.New("is a directory")
	ErrDirectoryNotEmpty  = errors.New("directory not empty")
	ErrInvalidHandle      = errors.New("invalid handle")
	ErrNotImplemented     = errors.New("not implemented")
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	ErrTransient          = errors.New("transient error")
	ErrInternal           = errors.New("internal error")
)

// classified carries a human message while unwrapping to one of the sentinel
// errors so predicates and status mapping keep working.
type classified struct {
	msg  string
	kind error
}

func (e *classified) Error() string { return e.msg }
func (e *classified) Unwrap() error { return e.kind }

// WrapError returns an error whose message is exactly msg and which
// classifies as kind via errors.Is.
func WrapError(kind error, msg string) error {
	return &classified{msg: msg, kind: kind}
}

// NotFound returns an ErrNotFound for a path.
func NotFound(path string) error {
	return WrapError(ErrNotFound, "not found: "+path)
}

// PermissionDenied returns an ErrPermissionDenied with a reason.
func PermissionDenied(reason string) error {
	return WrapError(ErrPermissionDenied, "permission denied: "+reason)
}

// AlreadyExists returns an ErrAlreadyExists for a path.
func AlreadyExists(path string) error {
	return WrapError(ErrAlreadyExists, "already exists: "+path)
}

// InvalidArgument returns an ErrInvalidArgument with a reason.
func InvalidArgument(reason string) error {
	return WrapError(ErrInvalidArgument, "invalid argument: "+reason)
}

// NotDirectory returns an ErrNotDirectory for a path.
func NotDirectory(path string) error {
	return WrapError(ErrNotDirectory, "not a directory: "+path)
}

// IsDirectoryErr returns an ErrIsDirectory for a path.
func IsDirectoryErr(path string) error {
	return WrapError(ErrIsDirectory, "is a directory: "+path)
}

// DirectoryNotEmpty returns an ErrDirectoryNotEmpty for a path.
func DirectoryNotEmpty(path string) error {
	return WrapError(ErrDirectoryNotEmpty, "directory not empty: "+path)
}

// InvalidHandle returns an ErrInvalidHandle for an id.
func InvalidHandle(id Handle) error {
	return WrapError(ErrInvalidHandle, fmt.Sprintf("invalid handle: %d", uint64(id)))
}

// NotImplemented returns an ErrNotImplemented for a feature name.
func NotImplemented(feature string) error {
	return WrapError(ErrNotImplemented, "not implemented: "+feature)
}

// BackendUnavailable returns an ErrBackendUnavailable with a reason.
func BackendUnavailable(reason string) error {
	return WrapError(ErrBackendUnavailable, "storage backend unavailable: "+reason)
}

// Transient returns an ErrTransient with a reason.
func Transient(reason string) error {
	return WrapError(ErrTransient, "transient error: "+reason)
}

// Internal returns an ErrInternal with a reason.
func Internal(reason string) error {
	return WrapError(ErrInternal, "internal error: "+reason)
}

// TimeoutError reports an operation that ran out of time.
type TimeoutError struct {
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %v", e.Duration)
}

// RemoteError reports a failure relayed from another node.
type RemoteError struct {
	Node    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error from %s: %s", e.Node, e.Message)
}

// CircuitOpenError reports a call short-circuited by an open breaker.
type CircuitOpenError struct {
	Service string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s", e.Service)
}

// TooManyHopsError reports a proxy chain exceeding its hop budget.
type TooManyHopsError struct {
	Depth int
	Max   int
}

func (e *TooManyHopsError) Error() string {
	return fmt.Sprintf("too many proxy hops: %d (max: %d)", e.Depth, e.Max)
}

// ConflictError reports an ETag mismatch.
type ConflictError struct {
	Expected string
	Actual   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: ETag mismatch (expected %s, got %s)", e.Expected, e.Actual)
}

// VersionConflictError reports a version mismatch.
type VersionConflictError struct {
	Expected uint64
	Actual   uint64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, got %d", e.Expected, e.Actual)
}

// IsRetryable reports whether the caller may usefully retry. The core never
// retries on its own.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrBackendUnavailable) {
		return true
	}
	var timeout *TimeoutError
	return errors.As(err, &timeout)
}

// IsNotFound reports whether err classifies as not-found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPermissionDenied reports whether err classifies as permission-denied.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsConflict reports whether err is an ETag or version conflict.
func IsConflict(err error) bool {
	var c *ConflictError
	var v *VersionConflictError
	return errors.As(err, &c) || errors.As(err, &v)
}

// HTTPStatus maps an error to the wire status code. Unknown errors map to
// 500.
func HTTPStatus(err error) int {
	var (
		timeout  *TimeoutError
		remote   *RemoteError
		open     *CircuitOpenError
		hops     *TooManyHopsError
		conflict *ConflictError
		version  *VersionConflictError
	)
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.As(err, &conflict), errors.As(err, &version):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrInvalidHandle):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotDirectory), errors.Is(err, ErrIsDirectory),
		errors.Is(err, ErrDirectoryNotEmpty):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, ErrTransient), errors.Is(err, ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &open):
		return http.StatusServiceUnavailable
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &hops):
		return http.StatusLoopDetected
	case errors.As(err, &remote):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
