// Package errors provides unified error handling for the docket engine
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode string

const (
	// Validation errors (3xxx)
	ErrCodeInvalidInput  ErrorCode = "VAL_3001"
	ErrCodeSchemaInvalid ErrorCode = "VAL_3002"

	// Resource errors (4xxx)
	ErrCodeNotFound       ErrorCode = "CASE_4001"
	ErrCodeConflict       ErrorCode = "CASE_4002"
	ErrCodeAlreadyRunning ErrorCode = "CASE_4003"

	// Service errors (5xxx)
	ErrCodeInternal     ErrorCode = "SVC_5001"
	ErrCodeIo           ErrorCode = "SVC_5002"
	ErrCodeTimeout      ErrorCode = "SVC_5003"
	ErrCodeWorkerFailed ErrorCode = "SVC_5004"
	ErrCodeCancelled    ErrorCode = "SVC_5005"
	ErrCodeQueueFull    ErrorCode = "SVC_5006"
	ErrCodeRateLimited  ErrorCode = "SVC_5007"
)

// ServiceError represents a structured error with code, message, and HTTP status
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Validation Errors

func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "Invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func SchemaInvalid(err error) *ServiceError {
	return Wrap(ErrCodeSchemaInvalid, "Document failed schema validation", http.StatusBadRequest, err)
}

// Resource Errors

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "Resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

func AlreadyRunning(caseID string) *ServiceError {
	return New(ErrCodeAlreadyRunning, "A job is already running for this case", http.StatusConflict).
		WithDetails("case_id", caseID)
}

// Service Errors

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func Io(operation string, err error) *ServiceError {
	return Wrap(ErrCodeIo, "Filesystem operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "Operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

func WorkerFailed(worker string, err error) *ServiceError {
	return Wrap(ErrCodeWorkerFailed, "External worker failed", http.StatusInternalServerError, err).
		WithDetails("worker", worker)
}

func Cancelled(caseID string) *ServiceError {
	return New(ErrCodeCancelled, "Job cancelled", http.StatusConflict).
		WithDetails("case_id", caseID)
}

func QueueFull(depth int) *ServiceError {
	return New(ErrCodeQueueFull, "Processing queue is full", http.StatusServiceUnavailable).
		WithDetails("queue_depth", depth)
}

func RateLimited() *ServiceError {
	return New(ErrCodeRateLimited, "Too many requests", http.StatusTooManyRequests)
}

// Helper functions

// IsServiceError checks if an error is a ServiceError
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
