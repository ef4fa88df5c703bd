package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/kjstillabower/weatherdash/internal/circuitbreaker"
)

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")

	// ErrInvalidRequest is returned for arguments rejected before any cache or network access.
	ErrInvalidRequest = errors.New("invalid request")

	errMissingField = errors.New("missing field")
)

// RemoteServiceError reports a non-200 response from the weather API.
// It unwraps to one of the sentinel errors according to StatusCode.
type RemoteServiceError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *RemoteServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Endpoint, e.StatusCode)
}

func (e *RemoteServiceError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrInvalidAPIKey
	case http.StatusNotFound:
		return ErrLocationNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return ErrUpstreamFailure
	}
}

// ParseError reports a 200 response whose body is not valid JSON or lacks a
// field the mapping needs. Field is the JSON path, e.g. "main.temp" or "list[2].dt".
type ParseError struct {
	Endpoint string
	Field    string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: parse response: %s: %v", e.Endpoint, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: parse response: %v", e.Endpoint, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func missing(endpoint, field string) *ParseError {
	return &ParseError{Endpoint: endpoint, Field: field, Err: errMissingField}
}

// TransportError reports a request that produced no HTTP response: DNS or
// connection failure, timeout, cancellation, or an open circuit. Key is the
// cache key of the request, which never contains the credential.
type TransportError struct {
	Endpoint string
	Key      string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: request %s failed: %v", e.Endpoint, e.Key, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the request ran out of time.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// IsUpstreamFailure reports whether err says the weather API is unhealthy rather
// than that the request was wrong. Transport errors, 5xx and 429 qualify;
// 401 and 404 do not. Used as the circuit breaker's failure predicate.
func IsUpstreamFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return !errors.Is(te.Err, context.Canceled)
	}
	var re *RemoteServiceError
	if errors.As(err, &re) {
		return re.StatusCode >= 500 || re.StatusCode == http.StatusTooManyRequests
	}
	return false
}
