package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeMalformedRequest     ErrorCode = "MALFORMED_REQUEST"
	ErrCodeUnknownCommand       ErrorCode = "UNKNOWN_COMMAND"
	ErrCodeChannelAlreadyExists ErrorCode = "CHANNEL_ALREADY_EXISTS"
	ErrCodeChannelNotFound      ErrorCode = "CHANNEL_NOT_FOUND"
	ErrCodeAlreadySubscribed    ErrorCode = "ALREADY_SUBSCRIBED"
	ErrCodeNotSubscribed        ErrorCode = "NOT_SUBSCRIBED"
	ErrCodeAuditWriteFailure    ErrorCode = "AUDIT_WRITE_FAILURE"
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeRateLimit            ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal             ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable   ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Data renders the error as the data section of an error response: the
// code, the message and every context entry.
func (e *AppError) Data() map[string]interface{} {
	data := make(map[string]interface{}, len(e.Context)+2)
	for k, v := range e.Context {
		data[k] = v
	}
	data["code"] = string(e.Code)
	data["message"] = e.Message
	return data
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewMalformedRequestError(cause error) *AppError {
	appErr := WrapError(cause, ErrCodeMalformedRequest, "malformed request", http.StatusBadRequest).
		WithContext("description", "malformed request")
	if cause != nil {
		appErr.WithContext("reason", cause.Error())
	}
	return appErr
}

func NewUnknownCommandError(command string) *AppError {
	return NewAppError(ErrCodeUnknownCommand, fmt.Sprintf("unknown command %q", command), http.StatusBadRequest).
		WithContext("command", command)
}

func NewChannelAlreadyExistsError(channel string) *AppError {
	return NewAppError(ErrCodeChannelAlreadyExists, fmt.Sprintf("channel %q already exists", channel), http.StatusConflict).
		WithContext("channel", channel)
}

func NewChannelNotFoundError(channel string) *AppError {
	return NewAppError(ErrCodeChannelNotFound, fmt.Sprintf("channel %q does not exist", channel), http.StatusNotFound).
		WithContext("channel", channel)
}

func NewAlreadySubscribedError(user, channel string) *AppError {
	return NewAppError(ErrCodeAlreadySubscribed, fmt.Sprintf("user %q is already subscribed to %q", user, channel), http.StatusConflict).
		WithContext("channel", channel)
}

func NewNotSubscribedError(user, topic string) *AppError {
	return NewAppError(ErrCodeNotSubscribed, fmt.Sprintf("user %q is not subscribed to %q", user, topic), http.StatusForbidden).
		WithContext("topic", topic)
}

func NewAuditWriteError(cause error) *AppError {
	return WrapError(cause, ErrCodeAuditWriteFailure, "audit write failed", http.StatusInternalServerError)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// CodeOf returns the code of the first AppError in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) ErrorCode {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}
	return ErrCodeInternal
}
