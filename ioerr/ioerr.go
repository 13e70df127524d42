// Package ioerr implements the error taxonomy of spec.md §7 as typed Go
// errors, modeled on rclone's fs/fserrors Cause/ShouldRetry pattern: every
// error kind wraps an optional cause and exposes whether it is retryable.
package ioerr

import (
	"errors"
	"fmt"
)

// Kind names one of the taxonomy families from spec.md §7.
type Kind string

// Error kind constants, one per spec.md §7 family member.
const (
	KindFileMissing      Kind = "FileMissingError"
	KindPathMissing      Kind = "PathMissingError"
	KindFileRead         Kind = "FileReadError"
	KindFileWrite        Kind = "FileWriteError"
	KindFileOpen         Kind = "FileOpenError"
	KindFileClose        Kind = "FileCloseError"
	KindFileSync         Kind = "FileSyncError"
	KindFileMove         Kind = "FileMoveError"
	KindFileRemove       Kind = "FileRemoveError"
	KindPathCreate       Kind = "PathCreateError"
	KindPathOpen         Kind = "PathOpenError"
	KindPathSync         Kind = "PathSyncError"
	KindPathRemove       Kind = "PathRemoveError"
	KindProtocol         Kind = "ProtocolError"
	KindFormat           Kind = "FormatError"
	KindCrypto           Kind = "CryptoError"
	KindService          Kind = "ServiceError"
	KindAssert           Kind = "AssertError"
	KindArchiveTimeout   Kind = "ArchiveTimeoutError"
	KindArchiveDuplicate Kind = "ArchiveDuplicateError"
	KindArchiveMismatch  Kind = "ArchiveMismatchError"
	KindExecute          Kind = "ExecuteError"
	KindHostConnect      Kind = "HostConnectError"
	KindOptionInvalid    Kind = "OptionInvalidError"
)

// Error is a taxonomy member: a kind, a message, an optional hint, and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Hint    string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Hint != "" {
		msg += "\nHINT: " + e.Hint
	}
	return msg
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether this error's class is retryable per spec.md §7:
// ServiceError (5xx) and HostConnectError are retryable; an
// explicit OS error (IoError family), protocol/format/crypto violation, and
// AssertError are not retried by this package (retry belongs to the layer
// that understands the semantics, e.g. the storage-read wrapper or the
// HTTP client).
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindService, KindHostConnect:
		return true
	default:
		return false
	}
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping cause, with a
// formatted message appended (e.g. path context).
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithHint attaches a user-facing hint and returns the receiver for
// chaining, matching the "is another process running?" style hints from
// spec.md §7.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, and the zero Kind ("") otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsMissing reports whether err signals a missing file/path, the class
// that ignore_missing may suppress per spec.md's Storage read lifecycle.
func IsMissing(err error) bool {
	k := KindOf(err)
	return k == KindFileMissing || k == KindPathMissing
}

// Retryable reports whether err's class should be retried, delegating to
// the Error's own classification when err carries one.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
