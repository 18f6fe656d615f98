// Package matrixerr defines the error taxonomy shared by every layer of the
// engine: transport, job dispatch, crypto and state-machine consistency
// checks all report failures through a small closed set of kinds so callers
// can branch on Kind() instead of string-matching messages.
package matrixerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the taxonomy entries from the error handling design.
type Kind int

const (
	// Transport covers network failures and timeouts talking to the homeserver.
	Transport Kind = iota
	// HTTP covers a response with status >= 400 and a server-supplied JSON payload.
	HTTP
	// Schema covers a response body that failed to parse or was missing a required field.
	Schema
	// Crypto covers olm/megolm failures: replay, missing session, bad signature.
	Crypto
	// Consistency covers unknown transaction ids and other invariant violations.
	Consistency
	// UserCancelled covers an operation the user explicitly aborted (e.g. SAS cancel).
	UserCancelled
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case HTTP:
		return "http"
	case Schema:
		return "schema"
	case Crypto:
		return "crypto"
	case Consistency:
		return "consistency"
	case UserCancelled:
		return "user_cancelled"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged error. StatusCode is only meaningful for Kind == HTTP.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	cause      error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New builds a bare taxonomy error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap annotates cause with a taxonomy kind and message, keeping cause
// (wrapped by github.com/pkg/errors) behind Unwrap so errors.Is/errors.As
// still reach the original error. *Error has no Cause method, so
// errors.Cause stops at the *Error itself.
func Wrap(cause error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: errors.Wrap(cause, message)}
}

// HTTPError builds a Kind == HTTP error carrying the response status code.
func HTTPError(status int, message string) *Error {
	return &Error{Kind: HTTP, StatusCode: status, Message: message}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
