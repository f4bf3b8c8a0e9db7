package server

import "fmt"

// Kind classifies a failure so the HTTP edge can pick a status code and
// the right degrade-or-fail policy (see httpStatus).
type Kind string

const (
	KindInvalidURL          Kind = "invalid_url"
	KindVersionUnresolvable Kind = "version_unresolvable"
	KindInstallFailed       Kind = "install_failed"
	KindFileNotFound        Kind = "file_not_found"
	KindCompileError        Kind = "compile_error"
	KindParseError          Kind = "parse_error"
	KindResolverStepFailure Kind = "resolver_step_failure"
	KindCacheWriteFailure   Kind = "cache_write_failure"
)

// Error is a sentinel error tagged with a Kind, so callers can
// errors.As it without string matching.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// httpStatus maps an error Kind to the HTTP status class from the
// error-handling table: identity failures (no such package, no such
// file, bad URL) surface as non-2xx; transform failures never reach
// here because they degrade to pass-through before the handler returns.
func httpStatus(kind Kind) int {
	switch kind {
	case KindInvalidURL:
		return 400
	case KindVersionUnresolvable, KindFileNotFound:
		return 404
	case KindInstallFailed:
		return 502
	default:
		return 500
	}
}
