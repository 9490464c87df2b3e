package auth

import (
	"errors"
	"net/http"
)

var (
	// ErrMissingIdentity is returned when the request names no user.
	ErrMissingIdentity = errors.New("missing identity")

	// ErrInvalidIdentity is returned for a malformed user id.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrInvalidToken is returned when a connect token fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid auth config")
)

// RejectError refuses an upgrade with a specific HTTP status.
type RejectError struct {
	Status int
	Kind   error
	Msg    string
}

func (e RejectError) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Msg
}

func (e RejectError) Unwrap() error { return e.Kind }

// StatusCode is the HTTP status the gateway answers with.
func (e RejectError) StatusCode() int {
	if e.Status == 0 {
		return http.StatusBadRequest
	}
	return e.Status
}

func badRequest(kind error, msg string) error {
	return RejectError{Status: http.StatusBadRequest, Kind: kind, Msg: msg}
}

func unauthorized(kind error, msg string) error {
	return RejectError{Status: http.StatusUnauthorized, Kind: kind, Msg: msg}
}
