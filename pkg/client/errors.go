package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during a wait.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrMissingJobID is returned when an operation needs a job id and has none.
	ErrMissingJobID = errors.New("job id is required")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassTransient is the gateway timeout status, the only retried class.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors of the transport.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents an unreadable success payload.
	ErrorClassDecode ErrorClass = "decode"
)

// APIError is a classified failure of the export service.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("export %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("export %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx status code to an ErrorClass.
func classifyStatus(statusCode, retryableStatus int) ErrorClass {
	switch {
	case statusCode == retryableStatus:
		return ErrorClassTransient
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// statusMessage returns the user-facing message for a failed status code.
func statusMessage(statusCode int, body []byte) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "Bad Request: Please check the job ID or request parameters."
	case http.StatusUnauthorized:
		return "Unauthorized: Check your authorization token."
	case http.StatusForbidden:
		return "Forbidden: You do not have access to this resource."
	case http.StatusNotFound:
		return "Not Found: The specified job ID does not exist or has no results."
	case http.StatusTooManyRequests:
		return "Too Many Requests: You are being rate limited. Try again later."
	case http.StatusInternalServerError:
		return "Internal Server Error: Something went wrong on the server."
	case http.StatusGatewayTimeout:
		return "Gateway Timeout: The export service did not respond in time."
	default:
		return fmt.Sprintf("Error %d: %s", statusCode, strings.TrimSpace(string(body)))
	}
}

// newStatusError builds the APIError for a non-2xx response.
func newStatusError(resp *Response, retryableStatus int) *APIError {
	return &APIError{
		StatusCode: resp.StatusCode,
		ErrorClass: classifyStatus(resp.StatusCode, retryableStatus),
		Message:    statusMessage(resp.StatusCode, resp.Body),
		Body:       string(resp.Body),
	}
}

// shouldRetry determines if an error class is retried by the executor.
func shouldRetry(errorClass ErrorClass) bool {
	return errorClass == ErrorClassTransient
}

// ClassOf returns the ErrorClass of err, or "" when err carries none.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ""
}
