package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses and API error payloads.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassMaxlag represents maxlag rejections (server lagged).
	ErrorClassMaxlag ErrorClass = "maxlag"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// RequestError represents a failed API round trip with its classification.
type RequestError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wiki %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("wiki %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// APIError is an error payload returned by the action API itself,
// usually with HTTP status 200.
type APIError struct {
	Code string
	Info string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("api error %s: %s", e.Code, e.Info)
}

// IsMaxlag reports whether the server rejected the request because its
// replication lag exceeded the requested maxlag.
func (e *APIError) IsMaxlag() bool {
	return e.Code == "maxlag"
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassClient:
		// 4xx and API errors are deterministic; retrying cannot help.
		return false
	case ErrorClassServer:
		return true
	case ErrorClassMaxlag:
		// The server asks clients to back off and come back.
		return true
	case ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// classOf extracts the classification from an error chain. Untyped errors
// came from the transport.
func classOf(err error) ErrorClass {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Class
	}
	return ErrorClassNetwork
}
