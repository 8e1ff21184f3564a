package api

import "fmt"

// AuthError covers bad credentials on login and expired/rejected tokens on
// any other authenticated call.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s", e.Message)
}

// NetworkError wraps transport-level failures (connection refused, timeout).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ValidationError is raised client-side before any request is issued
// (blank input, wrong file type, password rules). It never reaches the
// network layer.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ServerError is any non-2xx response that is not an auth failure. Message
// carries the backend's detail string when one was supplied.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}
