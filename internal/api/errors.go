package api

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized matches any 401 from the API via errors.Is.
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError is a 4xx rejection carrying a field-level message from the
// API error envelope.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// AuthError is a 401 or a rejected OTP. Wraps ErrUnauthorized so callers can
// match a category without inspecting the message.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "unauthorized"
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return ErrUnauthorized }

// NetworkError is a transport failure: the request never produced an HTTP
// response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is any other non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}
