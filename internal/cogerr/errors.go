// Package cogerr implements the error taxonomy shared across the memory and
// monitor components: validation, not-found, conflict, store-unavailable,
// capability-absent, timeout, and internal errors.
package cogerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure so callers can decide whether to degrade,
// retry, or surface the error verbatim.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindStoreUnavailable Kind = "store_unavailable"
	KindCapabilityAbsent Kind = "capability_absent"
	KindTimeout          Kind = "timeout"
	KindInternal         Kind = "internal"
)

// Error is a component-scoped error carrying enough context for a caller to
// report a useful message without a stack trace.
type Error struct {
	Kind      Kind
	Component string
	Field     string
	Key       string
	Elapsed   time.Duration
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Component, e.Kind)
	if e.Field != "" {
		msg += fmt.Sprintf(" field=%s", e.Field)
	}
	if e.Key != "" {
		msg += fmt.Sprintf(" key=%s", e.Key)
	}
	if e.Kind == KindTimeout {
		msg += fmt.Sprintf(" elapsed=%s", e.Elapsed)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is comparisons against a bare Kind sentinel, e.g.
// errors.Is(err, cogerr.NotFound).
func (e *Error) Is(target error) bool {
	k, ok := target.(kindSentinel)
	return ok && e.Kind == Kind(k)
}

type kindSentinel Kind

func (kindSentinel) Error() string { return "kind sentinel" }

var (
	NotFound         error = kindSentinel(KindNotFound)
	Validation       error = kindSentinel(KindValidation)
	Conflict         error = kindSentinel(KindConflict)
	StoreUnavailable error = kindSentinel(KindStoreUnavailable)
	CapabilityAbsent error = kindSentinel(KindCapabilityAbsent)
	Timeout          error = kindSentinel(KindTimeout)
	Internal         error = kindSentinel(KindInternal)
)

func New(kind Kind, component, field string, err error) *Error {
	return &Error{Kind: kind, Component: component, Field: field, Err: err}
}

func NewKey(kind Kind, component, key string, err error) *Error {
	return &Error{Kind: kind, Component: component, Key: key, Err: err}
}

func NewTimeout(component, key string, elapsed time.Duration) *Error {
	return &Error{Kind: KindTimeout, Component: component, Key: key, Elapsed: elapsed, Err: errors.New("operation exceeded its bound")}
}

// IsCapabilityAbsent reports whether err is (or wraps) a CapabilityAbsent error.
func IsCapabilityAbsent(err error) bool {
	return errors.Is(err, CapabilityAbsent)
}

// IsNotFound reports whether err is (or wraps) a NotFound error.
func IsNotFound(err error) bool {
	return errors.Is(err, NotFound)
}
