// Package merr defines the error-kind taxonomy shared by every mstream
// component: ConfigError, EncodingError, TransportError, SandboxError,
// CheckpointError and JobLifecycleError. Call sites wrap these with
// github.com/pingcap/errors so that stack context survives as the error
// crosses package boundaries, while callers still recover the kind via
// Cause.
package merr

import (
	"fmt"

	"github.com/pingcap/errors"
)

// Kind identifies which taxonomy bucket an Error belongs to.
type Kind string

const (
	KindConfig        Kind = "config"
	KindEncoding       Kind = "encoding"
	KindTransport      Kind = "transport"
	KindSandbox        Kind = "sandbox"
	KindCheckpoint     Kind = "checkpoint"
	KindJobLifecycle   Kind = "job_lifecycle"
)

// Error is the concrete carrier for a taxonomy member. Sub is a kind-specific
// sub-cause tag (e.g. "missing_field" for EncodingError), left empty when a
// kind has no sub-cause taxonomy of its own.
type Error struct {
	Kind Kind
	Sub  string
	msg  string
}

func (e *Error) Error() string {
	if e.Sub != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Sub, e.msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func newErr(kind Kind, sub, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Sub: sub, msg: fmt.Sprintf(format, args...)}
}

// Cause walks err's cause chain (via pingcap/errors.Cause) and returns the
// underlying *Error, or nil if err is not (or does not wrap) one.
func Cause(err error) *Error {
	if err == nil {
		return nil
	}
	c := errors.Cause(err)
	if e, ok := c.(*Error); ok {
		return e
	}
	return nil
}

// Is reports whether err is, or wraps, an Error of the given kind.
func Is(err error, kind Kind) bool {
	e := Cause(err)
	return e != nil && e.Kind == kind
}

// --- ConfigError ---

func ConfigError(format string, args ...interface{}) error {
	return newErr(KindConfig, "", format, args...)
}

// --- EncodingError sub-causes ---

const (
	SubMissingField        = "missing_field"
	SubTypeMismatch         = "type_mismatch"
	SubEnumSymbolNotFound   = "enum_symbol_not_found"
	SubUnsupportedSchema    = "unsupported_schema_kind"
	SubNullInNonNullUnion   = "null_in_non_nullable_union"
	SubTruncatedFrame       = "truncated_frame"
)

func EncodingError(sub, format string, args ...interface{}) error {
	return newErr(KindEncoding, sub, format, args...)
}

// --- TransportError ---

func TransportError(format string, args ...interface{}) error {
	return newErr(KindTransport, "", format, args...)
}

// --- SandboxError sub-causes ---

const (
	SubFileNotFound            = "file_not_found"
	SubFileRead                 = "file_read"
	SubCompile                  = "compile"
	SubMissingTransformFunction = "missing_transform_function"
	SubExecution                = "execution"
	SubOutputDecode              = "output_decode"
)

func SandboxError(sub, format string, args ...interface{}) error {
	return newErr(KindSandbox, sub, format, args...)
}

// --- CheckpointError sub-causes ---

const (
	SubNotFound      = "not_found"
	SubStorageFailure = "storage_failure"
)

func CheckpointError(sub, format string, args ...interface{}) error {
	return newErr(KindCheckpoint, sub, format, args...)
}

// --- JobLifecycleError sub-causes ---

const (
	SubDuplicateJob    = "duplicate_job"
	SubUnknownJob      = "unknown_job"
	SubServiceInUse    = "service_in_use"
	SubDuplicateService = "duplicate_service"
	SubUnknownService   = "unknown_service"
)

func JobLifecycleError(sub, format string, args ...interface{}) error {
	return newErr(KindJobLifecycle, sub, format, args...)
}
