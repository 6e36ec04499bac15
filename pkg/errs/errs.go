// Package errs defines the error taxonomy shared by every package in the
// data layer core. Every operation that can fail returns one of these
// kinds, wrapped with enough context to diagnose it without leaking
// plaintext into logs.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way the core's callers need to branch on:
// retry, surface to the client, or treat as a programmer mistake.
type Kind int

const (
	// Unknown is never returned deliberately; seeing it means a call site
	// used fmt.Errorf or errors.New instead of errs.New.
	Unknown Kind = iota

	// BadRequest means the caller's input was malformed: an unparseable
	// search parameter, an unknown enum literal, a PrescriptionId whose
	// flow-type doesn't support the requested operation.
	BadRequest

	// NotFound means an addressable entity does not exist at that id.
	NotFound

	// InternalServerError means a SQL result violated a structural
	// expectation: wrong column count, NULL in a NOT NULL column, an enum
	// value outside its domain.
	InternalServerError

	// LogicError means a core invariant was violated: double-commit, a
	// missing mandatory field in a projection, an unreachable switch
	// branch. These are programmer errors.
	LogicError

	// TransientIO means a connection was lost, a call timed out, or the
	// HSM was unavailable. The caller retries at its own layer.
	TransientIO

	// CryptoFailure means AEAD verification or decompression failed.
	// Treated as internal because in a healthy system it must not occur.
	CryptoFailure

	// RevocationFailure is produced by the external trust-list
	// collaborator, never by the core itself, but is part of the shared
	// taxonomy so callers can switch on it uniformly.
	RevocationFailure
)

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "bad_request"
	case NotFound:
		return "not_found"
	case InternalServerError:
		return "internal_server_error"
	case LogicError:
		return "logic_error"
	case TransientIO:
		return "transient_io"
	case CryptoFailure:
		return "crypto_failure"
	case RevocationFailure:
		return "revocation_failure"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by this module. Op names the
// failing operation (e.g. "codec.Decode", "storage.RetrieveTask") so that
// a diagnostic string survives wrapping through several layers.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error. Use it instead of fmt.Errorf/errors.New at every
// call site that can fail for a taxonomy-relevant reason.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or anything it wraps) is an *Error of the given
// kind, so callers can write `errs.Is(err, errs.NotFound)`.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
