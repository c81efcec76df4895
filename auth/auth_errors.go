package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionExpired marks a session that could not be recovered; the caller must sign in again.
	ErrSessionExpired = errors.New("session expired")
	// ErrUnauthorized is a 401 that persisted after the single refresh-and-retry.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoRefreshToken is returned by refresh without touching the network.
	ErrNoRefreshToken = errors.New("no refresh token stored")
	// ErrNetwork marks connectivity failures.
	ErrNetwork = errors.New("network error")
	// ErrMalformedResponse is a 2xx body that could not be decoded into the expected shape.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrAuthorizationHeaderSet is returned when a caller pre-sets the Authorization header.
	ErrAuthorizationHeaderSet = errors.New("authorization header is managed by the session client")
	// ErrWeakPassword is a local validation failure before contacting the API.
	ErrWeakPassword = errors.New("password must be at least 8 characters long")
)

// SessionExpiredError is returned when the stored session was cleared because it
// could not be refreshed.
type SessionExpiredError struct {
	Cause error
}

func (e *SessionExpiredError) Error() string {
	if e.Cause == nil {
		return ErrSessionExpired.Error()
	}
	return ErrSessionExpired.Error() + ": " + e.Cause.Error()
}

func (e *SessionExpiredError) Is(target error) bool {
	return target == ErrSessionExpired
}

func (e *SessionExpiredError) Unwrap() error {
	return e.Cause
}

// NetworkError is a transport failure: the request never produced an HTTP response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return "network error during " + e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx response that carries no auth meaning
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}
