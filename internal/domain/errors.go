package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error for the transport layer.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindAuth       Kind = "auth"
	KindForbidden  Kind = "forbidden"
	KindInternal   Kind = "internal"
)

// Error is the typed error returned by every domain operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Sentinel errors. Wrap them with E so the kind travels with the operation name.
var (
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInsufficientStock   = &Error{Kind: KindConflict, Message: "insufficient stock"}
	ErrNoRefillsRemaining  = &Error{Kind: KindConflict, Message: "no refills remaining"}
	ErrPrescriptionClosed  = &Error{Kind: KindConflict, Message: "prescription is closed"}
	ErrUpdatePending       = &Error{Kind: KindConflict, Message: "an update is already pending approval"}
	ErrNoPendingUpdate     = &Error{Kind: KindConflict, Message: "no pending update"}
	ErrVersionConflict     = &Error{Kind: KindConflict, Message: "concurrent modification"}
	ErrInvalidTransition   = &Error{Kind: KindConflict, Message: "invalid status transition"}
	ErrNothingOutstanding  = &Error{Kind: KindConflict, Message: "no outstanding balance"}
	ErrReturnExceedsSale   = &Error{Kind: KindConflict, Message: "return exceeds quantity sold"}
	ErrEmailTaken          = &Error{Kind: KindConflict, Message: "email already registered"}
	ErrInvalidCredentials  = &Error{Kind: KindAuth, Message: "invalid email or password"}
	ErrAccountSuspended    = &Error{Kind: KindAuth, Message: "account suspended"}
	ErrInvalidToken        = &Error{Kind: KindAuth, Message: "invalid or expired token"}
	ErrPermissionDenied    = &Error{Kind: KindForbidden, Message: "permission denied"}
	ErrCrossTenantAccess   = &Error{Kind: KindForbidden, Message: "resource belongs to another pharmacy"}
	ErrSuperAdminImmutable = &Error{Kind: KindValidation, Message: "super admin must keep every permission"}
)

// E wraps err with an operation name, keeping the kind of the wrapped error.
func E(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}

// NotFound reports a missing entity.
func NotFound(op, entity, id string) error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf("%s %q", entity, id), Err: ErrNotFound}
}

// Invalid reports malformed input.
func Invalid(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a state conflict that is not covered by a sentinel.
func Conflict(op, format string, args ...any) error {
	return &Error{Kind: KindConflict, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Forbidden reports a permission failure.
func Forbidden(op, format string, args ...any) error {
	return &Error{Kind: KindForbidden, Op: op, Message: fmt.Sprintf(format, args...), Err: ErrPermissionDenied}
}

// Detail wraps a sentinel with extra context while keeping errors.Is working.
func Detail(op string, sentinel error, format string, args ...any) error {
	return &Error{Kind: KindOf(sentinel), Op: op, Message: fmt.Sprintf(format, args...), Err: sentinel}
}

// KindOf returns the kind of the outermost domain error in the chain, or
// KindInternal for anything else.
func KindOf(err error) Kind {
	var de *Error
	for err != nil {
		if !errors.As(err, &de) {
			return KindInternal
		}
		if de.Kind != "" {
			return de.Kind
		}
		err = de.Err
	}
	return KindInternal
}
