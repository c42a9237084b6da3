package command

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels for errors.Is matching against *Error.
var (
	ErrRequestFailed    = errors.New("taskrouter failed to complete the request")
	ErrMalformedRequest = errors.New("malformed request")
	ErrTokenExpired     = errors.New("worker's active token has expired")
	ErrInvalidToken     = errors.New("the token is invalid or malformed")
	ErrNotFound         = errors.New("resource not found")
	ErrInternal         = errors.New("internal server error")
)

// Kind categorizes a command failure.
type Kind int

const (
	KindRequestFailed Kind = iota
	KindMalformedRequest
	KindTokenExpired
	KindInvalidToken
	KindNotFound
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindMalformedRequest:
		return "malformed_request"
	case KindTokenExpired:
		return "token_expired"
	case KindInvalidToken:
		return "invalid_token"
	case KindNotFound:
		return "not_found"
	case KindInternal:
		return "internal"
	default:
		return "request_failed"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindMalformedRequest:
		return ErrMalformedRequest
	case KindTokenExpired:
		return ErrTokenExpired
	case KindInvalidToken:
		return ErrInvalidToken
	case KindNotFound:
		return ErrNotFound
	case KindInternal:
		return ErrInternal
	default:
		return ErrRequestFailed
	}
}

// Error is a categorized command failure. StatusCode is 0 for transport-level failures.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("command %s (http %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("command %s: %s", e.Kind, e.Message)
}

// Is matches the sentinel for e.Kind, so errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// FromStatus maps a non-200 relay status to an *Error.
func FromStatus(status int) *Error {
	e := &Error{StatusCode: status}
	switch status {
	case http.StatusBadRequest:
		e.Kind, e.Message = KindMalformedRequest, "failed to parse JSON"
	case http.StatusUnauthorized:
		e.Kind, e.Message = KindTokenExpired, "token has expired, update token"
	case http.StatusForbidden:
		e.Kind, e.Message = KindInvalidToken, "token rejected: invalid token or access policy"
	case http.StatusNotFound:
		e.Kind, e.Message = KindNotFound, "invalid endpoint"
	case http.StatusInternalServerError:
		e.Kind, e.Message = KindInternal, "internal error occurred"
	default:
		e.Kind, e.Message = KindRequestFailed, "error making request"
	}
	return e
}
