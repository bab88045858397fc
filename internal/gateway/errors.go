package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthenticated means no usable credential: either none is stored (the
// call was never dispatched) or the server answered 401.
var ErrUnauthenticated = errors.New("gateway: not authenticated")

// UnreachableError is a transport-level failure: no response was received.
type UnreachableError struct {
	Endpoint string
	Err      error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("gateway: %s unreachable: %v", e.Endpoint, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// RejectedError means the server answered but declined the request, either
// with a rejecting status or with an explicit error field in the payload.
type RejectedError struct {
	Endpoint string
	Status   int
	Message  string // server text when present, else the caller's fallback
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway: %s rejected (%d): %s", e.Endpoint, e.Status, e.Message)
}

// Is reports 401 rejections as ErrUnauthenticated.
func (e *RejectedError) Is(target error) bool {
	return target == ErrUnauthenticated && e.Status == http.StatusUnauthorized
}

// IsUnreachable reports whether err is a transport failure.
func IsUnreachable(err error) bool {
	var ue *UnreachableError
	return errors.As(err, &ue)
}

// IsRejected reports whether err is a server rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// Describe turns a gateway failure into user-facing text. Rejections surface
// the server message verbatim; anything unrecognised uses fallback.
func Describe(err error, fallback string) string {
	var re *RejectedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &re):
		if re.Message != "" {
			return re.Message
		}
		return fallback
	case errors.Is(err, ErrUnauthenticated):
		return "Please log in first!"
	case IsUnreachable(err):
		return "Server unreachable"
	default:
		return fallback
	}
}
