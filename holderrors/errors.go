// Package holderrors implements the error taxonomy of the hold-invoice
// engine (spec §7): InputError, NotFound, WrongState, GenerationMismatch,
// Transport, DrainTimeout and Fatal. Sentinel values follow the teacher's
// channeldb Err* convention; Fatal wraps with go-errors/errors so the
// panic-adjacent invariant-violation path keeps a stack trace.
package holderrors

import (
	"errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Class identifies which bucket of the §7 taxonomy an error belongs to.
type Class int

const (
	ClassInput Class = iota
	ClassNotFound
	ClassWrongState
	ClassGenerationMismatch
	ClassTransport
	ClassDrainTimeout
	ClassFatal
)

// Error is a classified engine error. Callers type-assert or use the
// Is* helpers below rather than comparing error strings.
type Error struct {
	class Class
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

// ClassOf returns the taxonomy bucket of err, or ClassFatal if err is not
// a *Error (an untyped error reaching the host boundary is a bug).
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.class
	}
	return ClassFatal
}

func newErr(class Class, format string, args ...interface{}) *Error {
	return &Error{class: class, msg: fmt.Sprintf(format, args...)}
}

// InputError wraps a bad-argument condition: unknown key, wrong hex
// length, conflicting payment_hash/preimage. Never retried; code -32602
// at the JSON-RPC boundary.
func InputError(format string, args ...interface{}) error {
	return newErr(ClassInput, format, args...)
}

// NotFoundError reports that payment_hash is absent from the datastore.
func NotFoundError(paymentHash string) error {
	return newErr(ClassNotFound, "payment_hash %q not found", paymentHash)
}

// WrongStateError reports a disallowed state transition attempt.
func WrongStateError(from, to string) error {
	return newErr(ClassWrongState, "cannot transition from %s to %s", from, to)
}

// ErrGenerationMismatch is returned by the datastore binding when a CAS
// write's expected generation no longer matches the stored one. Internal
// to the Hold Loop; never surfaced to a caller.
var ErrGenerationMismatch = newErr(ClassGenerationMismatch, "generation mismatch")

// ErrNotFound is the sentinel the datastore binding itself returns for a
// missing key, distinct from NotFoundError (which carries the hash and is
// the one surfaced to operator commands).
var ErrNotFound = newErr(ClassNotFound, "key not found")

// TransportError wraps a failed RPC call to the host.
func TransportError(cause error) error {
	return &Error{class: ClassTransport, msg: "host rpc transport error", cause: cause}
}

// DrainTimeoutError reports that a settle/cancel drain barrier exceeded
// its deadline. The invoice's persisted state has already been updated.
func DrainTimeoutError(paymentHash string) error {
	return newErr(ClassDrainTimeout, "drain timeout waiting for htlcs of %q to clear", paymentHash)
}

// Fatal wraps an invariant violation (e.g. I1: a payment_hash present in
// HR has no DSB record) with a stack trace via go-errors/errors, since
// these paths should never execute and are worth a trace when they do.
func Fatal(format string, args ...interface{}) error {
	inner := goerrors.Errorf(format, args...)
	return &Error{class: ClassFatal, msg: inner.Error(), cause: inner}
}

func IsNotFound(err error) bool           { return ClassOf(err) == ClassNotFound }
func IsWrongState(err error) bool         { return ClassOf(err) == ClassWrongState }
func IsGenerationMismatch(err error) bool { return ClassOf(err) == ClassGenerationMismatch }
func IsTransport(err error) bool          { return ClassOf(err) == ClassTransport }
func IsInput(err error) bool              { return ClassOf(err) == ClassInput }
