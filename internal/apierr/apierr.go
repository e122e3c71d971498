// Package apierr defines the error-kind taxonomy shared by every layer of
// the service and its mapping onto HTTP-like status codes at the boundary.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the abstract category of a failure, independent of the
// concrete Go error that produced it.
type Kind string

// Error kinds from the external-boundary contract.
const (
	KindInvalidArgument  Kind = "invalid-argument"
	KindNotFound         Kind = "not-found"
	KindUnsupportedType  Kind = "unsupported-type"
	KindTooLarge         Kind = "too-large"
	KindTimeout          Kind = "timeout"
	KindTooManyRequests  Kind = "too-many-requests"
	KindUpstream         Kind = "upstream"
	KindCancelled        Kind = "cancelled"
	KindInterrupted      Kind = "interrupted"
	KindInternal         Kind = "internal"
)

// Error wraps an underlying cause with a Kind and a short client-facing
// message. It is the error type every internal package should return once
// it has classified a failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error of the given kind around an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err is
// not (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind onto the status-code table from the external
// interface contract.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnsupportedType:
		return http.StatusUnsupportedMediaType
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	case KindUpstream, KindCancelled, KindInterrupted, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

// Code returns the stable machine-readable code for a Kind, used in the
// error envelope's "code" field.
func Code(kind Kind) string {
	switch kind {
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindNotFound:
		return "NOT_FOUND"
	case KindUnsupportedType:
		return "UNSUPPORTED_TYPE"
	case KindTooLarge:
		return "TOO_LARGE"
	case KindTimeout:
		return "TIMEOUT"
	case KindTooManyRequests:
		return "TOO_MANY_REQUESTS"
	case KindUpstream:
		return "UPSTREAM_ERROR"
	case KindCancelled:
		return "CANCELLED"
	case KindInterrupted:
		return "INTERRUPTED"
	default:
		return "INTERNAL_ERROR"
	}
}
