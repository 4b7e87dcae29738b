// Package orcherr defines the error taxonomy shared by every subsystem of
// the orchestrator. Every error that crosses a package boundary is wrapped
// into one of these kinds so callers can branch with errors.Is/As instead of
// matching strings.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the taxonomy buckets. It is not
// itself an error - use New/Is to work with Kind against a wrapped Error.
type Kind string

const (
	// KindUserConfig covers invalid schedule entries, invalid status
	// transitions, invalid token roles, invalid push-message payloads.
	// Surface to the caller; never retried.
	KindUserConfig Kind = "user_config"

	// KindResourceMissing covers a missing cache file, a missing plugin,
	// or a deleted library. Terminal for the affected task.
	KindResourceMissing Kind = "resource_missing"

	// KindTransientIO covers a single failed move/copy. Retried with
	// exponential backoff, then escalated to KindResourceMissing.
	KindTransientIO Kind = "transient_io"

	// KindAuth covers an invalid, expired, or revoked token, or a role
	// that doesn't satisfy an endpoint's requirement. Never retried.
	KindAuth Kind = "auth"

	// KindDispatchStarvation covers a full post-processor queue or no
	// capable worker for the next pending task.
	KindDispatchStarvation Kind = "dispatch_starvation"

	// KindConfigDrift covers a plugin-settings hash change detected
	// mid-run by the Foreman.
	KindConfigDrift Kind = "config_drift"
)

// Error is the concrete error type every package in this repository wraps
// failures into before returning them across a package boundary.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error of the given kind. err may be nil.
func New(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
