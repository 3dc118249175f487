// Package errors provides the typed error taxonomy of the sync core.
//
// Every failure is classified into a Kind that drives the orchestrator's
// routing policy: transport failures trigger the local fallback, business
// failures surface to the caller untouched, session failures invalidate the
// whole session, and storage failures mark the local store degraded.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for policy decisions.
type Kind string

const (
	// KindTransport covers network unreachability, timeouts and generic 5xx
	// responses. Retryable; the write path falls back to the local store.
	KindTransport Kind = "TRANSPORT"

	// KindBusiness covers server-side domain rejections (duplicate active
	// credit, not found, validation). Never redirected to local fallback.
	KindBusiness Kind = "BUSINESS"

	// KindSession is an HTTP 401: the whole session is invalid, not just
	// the one operation.
	KindSession Kind = "SESSION"

	// KindStorage covers local store failures.
	KindStorage Kind = "STORAGE"

	// KindUnavailable marks operations attempted while the local store is
	// absent on this platform.
	KindUnavailable Kind = "UNAVAILABLE"
)

// Operation names the sync operation during which an error occurred.
type Operation string

const (
	OpGetClients    Operation = "get_clients"
	OpGetClient     Operation = "get_client"
	OpCreateClient  Operation = "create_client"
	OpUpdateClient  Operation = "update_client"
	OpCreateCredit  Operation = "create_credit"
	OpCreatePayment Operation = "create_payment"
	OpDrain         Operation = "drain"
	OpEnqueue       Operation = "enqueue"
	OpStore         Operation = "store"
	OpRequest       Operation = "request"
)

// Well-known business codes surfaced by the server.
const (
	CodeActiveCreditExists = "ACTIVE_CREDIT_EXISTS"
	CodeClientNotFound     = "CLIENT_NOT_FOUND"
	CodeValidation         = "VALIDATION_FAILED"
)

// Error is the typed error carried across the sync core.
type Error struct {
	// Op is the operation during which the error occurred.
	Op Operation

	// Kind drives fallback policy.
	Kind Kind

	// Component that generated the error (e.g. "store", "remote").
	Component string

	// Code is the machine-readable business code, when the server sent one.
	Code string

	// Message is the human-readable text the UI shows directly. Kept
	// distinct from the classification.
	Message string

	// Err is the underlying cause, if any.
	Err error

	// Retryable reports whether replaying the operation can succeed.
	Retryable bool
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s failed", e.Op)
	if e.Component != "" {
		msg = fmt.Sprintf("%s failed in %s", e.Op, e.Component)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewTransport creates a retryable transport/availability error.
func NewTransport(op Operation, cause error) *Error {
	return &Error{
		Op:        op,
		Kind:      KindTransport,
		Component: "remote",
		Message:   "no hay conexión con el servidor",
		Err:       cause,
		Retryable: true,
	}
}

// NewBusiness creates a business rejection carrying the server's code and
// message intact.
func NewBusiness(op Operation, code, message string) *Error {
	return &Error{
		Op:        op,
		Kind:      KindBusiness,
		Component: "remote",
		Code:      code,
		Message:   message,
	}
}

// NewSession creates the 401 session-expired error.
func NewSession(op Operation) *Error {
	return &Error{
		Op:        op,
		Kind:      KindSession,
		Component: "remote",
		Message:   "sesión expirada, inicia sesión nuevamente",
	}
}

// NewStorage wraps a local store failure.
func NewStorage(op Operation, cause error) *Error {
	return &Error{
		Op:        op,
		Kind:      KindStorage,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewUnavailable marks an operation with no local store to serve it.
func NewUnavailable(op Operation) *Error {
	return &Error{
		Op:        op,
		Kind:      KindUnavailable,
		Component: "store",
		Message:   "almacenamiento local no disponible",
	}
}

// KindOf returns the Kind of err, or "" for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransport reports whether err is a transport/availability failure.
func IsTransport(err error) bool { return KindOf(err) == KindTransport }

// IsBusiness reports whether err is a server-side domain rejection.
func IsBusiness(err error) bool { return KindOf(err) == KindBusiness }

// IsSession reports whether err invalidates the session.
func IsSession(err error) bool { return KindOf(err) == KindSession }

// IsRetryable reports whether the operation may be replayed.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// BusinessCode extracts the machine-readable code from a business error,
// or "" when err is not one.
func BusinessCode(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindBusiness {
		return e.Code
	}
	return ""
}
