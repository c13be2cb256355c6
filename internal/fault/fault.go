// Package fault defines the typed, code-carrying errors that cross the
// scribe tool boundary. Every failure a caller can act on has a stable
// code; the RPC layer serializes these into {ok:false, error:{…}} so no
// raw Go error ever reaches an agent.
package fault

import (
	"errors"
	"fmt"
)

// Code is a stable error category. Codes are part of the wire contract
// and must not be renamed.
type Code string

const (
	CodeProjectResolution    Code = "ProjectResolutionError"
	CodeRateLimitExceeded    Code = "RateLimitExceeded"
	CodePathEscape           Code = "PathEscape"
	CodeLockTimeout          Code = "LockTimeout"
	CodeAtomicWriteFailure   Code = "AtomicWriteFailure"
	CodeBackupFailure        Code = "BackupFailure"
	CodeJournalReplay        Code = "JournalReplayFailure"
	CodeMessageInvalid       Code = "MessageInvalid"
	CodeMetadataInvalid      Code = "MetadataInvalid"
	CodeMetadataMissing      Code = "MetadataRequirementsMissing"
	CodeVersionConflict      Code = "VersionConflict"
	CodePatchHashMismatch    Code = "PatchHashMismatch"
	CodeSectionNotFound      Code = "SectionNotFound"
	CodeDuplicateAnchor      Code = "DuplicateAnchor"
	CodeDocNotRegistered     Code = "DocNotRegistered"
	CodeMirrorFailure        Code = "MirrorFailure"
	CodeTeeFailure           Code = "TeeFailure"
	CodeIndexUpdateFailure   Code = "IndexUpdateFailure"
	CodeRotationIntegrity    Code = "RotationIntegrityWarning"
	CodeStorageTimeout       Code = "StorageTimeout"
	CodeUnknownOperation     Code = "UnknownOperation"
	CodeVersionIncompatible  Code = "VersionIncompatible"
	CodeDatabaseMismatch     Code = "DatabaseMismatch"
	CodeInternal             Code = "InternalError"
)

// nonFatal codes never fail the primary operation; they surface in the
// warnings array of an otherwise successful response.
var nonFatal = map[Code]bool{
	CodeJournalReplay:     true,
	CodeMirrorFailure:     true,
	CodeTeeFailure:        true,
	CodeIndexUpdateFailure: true,
	CodeRotationIntegrity: true,
	CodeStorageTimeout:    true,
}

// Fatal reports whether an error with this code aborts the operation.
func (c Code) Fatal() bool { return !nonFatal[c] }

// Error is a typed error with a stable code, an operator-facing message,
// an optional recovery suggestion, and optional structured detail that
// the RPC layer folds into the error payload (retry_after_seconds,
// recent_projects, and similar).
type Error struct {
	Code       Code           `json:"code"`
	Message    string         `json:"message"`
	Suggestion string         `json:"suggestion,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	wrapped    error
}

// New builds an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that records err as its cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	e := New(code, format, args...)
	e.wrapped = err
	return e
}

func (e *Error) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Suggestion)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// WithSuggestion attaches a recovery hint and returns the same error.
func (e *Error) WithSuggestion(format string, args ...any) *Error {
	e.Suggestion = fmt.Sprintf(format, args...)
	return e
}

// WithDetail attaches one structured payload field.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = value
	return e
}

// Fatal reports whether the error aborts the primary operation.
func (e *Error) Fatal() bool { return e.Code.Fatal() }

// From extracts a *Error from err's chain. The second result is false
// when err carries no typed fault.
func From(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// CodeOf returns the code in err's chain, or CodeInternal for plain errors.
func CodeOf(err error) Code {
	if fe, ok := From(err); ok {
		return fe.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
