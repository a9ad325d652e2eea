// Package apperror holds the error taxonomy shared by the pipelines and the HTTP layer.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoMatch is returned when the index holds no record comparable to a probe.
	ErrNoMatch = errors.New("no matching video found")

	// ErrNotFound is returned when a session or asset file does not exist.
	ErrNotFound = errors.New("not found")
)

// ValidationError reports a missing or malformed client input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// TransportError wraps a network failure while reaching an external service.
type TransportError struct {
	Service string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to reach %s service: %v", e.Service, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BackendError reports a non-success HTTP status from an external service.
type BackendError struct {
	Service    string
	StatusCode int
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s service returned status %d (%s)", e.Service, e.StatusCode, http.StatusText(e.StatusCode))
}

// ProtocolError reports a success response whose body is malformed or incomplete.
type ProtocolError struct {
	Service string
	Reason  string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s service response invalid: %s: %v", e.Service, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s service response invalid: %s", e.Service, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// SigningError is fatal to a session and never retried.
type SigningError struct {
	Stage string
	Err   error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing %s: %v", e.Stage, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// HTTPStatus maps an error from the taxonomy to the status code the gateway answers with.
func HTTPStatus(err error) int {
	var (
		validationErr *ValidationError
		transportErr  *TransportError
		backendErr    *BackendError
		protocolErr   *ProtocolError
		signingErr    *SigningError
	)

	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoMatch), errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &transportErr),
		errors.As(err, &backendErr),
		errors.As(err, &protocolErr),
		errors.As(err, &signingErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
