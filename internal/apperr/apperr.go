// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package apperr defines the orchestrator's error taxonomy: a small, closed
// set of kinds that every layer (policy, adapters, store, supervisor) maps
// its failures onto so callers can branch on cause rather than string content.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a failure.
type Kind string

const (
	// KindCLIInvalid marks a malformed or disallowed request payload.
	KindCLIInvalid Kind = "CLI_INVALID"
	// KindPolicyDenied marks a request rejected by workspace or flag policy.
	KindPolicyDenied Kind = "POLICY_DENIED"
	// KindIOFailure marks a filesystem, process, or network I/O error.
	KindIOFailure Kind = "IO_FAILURE"
	// KindNotFound marks a missing resource.
	KindNotFound Kind = "NOT_FOUND"
	// KindInternal marks an unexpected internal error.
	KindInternal Kind = "INTERNAL"
)

// Error is the single error type used across the orchestrator. Its Kind lets
// callers and HTTP handlers map to a stable status without string matching.
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

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is comparisons against a bare Kind sentinel created via New(kind, "").
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New constructs an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind around an existing error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CLIInvalid is a convenience constructor for KindCLIInvalid.
func CLIInvalid(format string, args ...any) *Error { return New(KindCLIInvalid, format, args...) }

// PolicyDenied is a convenience constructor for KindPolicyDenied.
func PolicyDenied(format string, args ...any) *Error { return New(KindPolicyDenied, format, args...) }

// IOFailure wraps an I/O-originating error.
func IOFailure(cause error, format string, args ...any) *Error {
	return Wrap(KindIOFailure, cause, format, args...)
}

// NotFound is a convenience constructor for KindNotFound.
func NotFound(format string, args ...any) *Error { return New(KindNotFound, format, args...) }

// Internal wraps an unexpected internal error.
func Internal(cause error, format string, args ...any) *Error {
	return Wrap(KindInternal, cause, format, args...)
}

// KindOf extracts the Kind from err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err's kind matches kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
