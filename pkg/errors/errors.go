package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound              = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation            = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal              = NewError("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
	ErrConfig                = NewError("CONFIG_ERROR", "invalid configuration", http.StatusInternalServerError)
	ErrMalformedNotification = NewError("MALFORMED_NOTIFICATION", "malformed notification", http.StatusUnprocessableEntity)
	ErrInvalidContent        = NewError("INVALID_CONTENT", "content rejected by endpoint", http.StatusBadRequest)
	ErrUnauthorized          = NewError("UNAUTHORIZED", "unauthorized or token expired", http.StatusUnauthorized)
	ErrDeliveryFailed        = NewError("DELIVERY_FAILED", "message delivery failed", http.StatusBadGateway)
	ErrAuthFailed            = NewError("AUTH_FAILED", "authentication failed", http.StatusBadGateway)
	ErrServiceUnavailable    = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so wrapped copies compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
	}
	switch e.Code {
	case ErrValidation.Code, ErrNotFound.Code, ErrMalformedNotification.Code, ErrInvalidContent.Code, ErrConfig.Code:
		return false
	}
	return true
}

func (e *Error) IsFatal() bool {
	return !e.IsRetryable()
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	return e.WithDetail("message", fmt.Sprintf(format, args...))
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

func (e *Error) WithStatus(status int) *Error {
	err := *e
	err.Status = status
	return &err
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func hasCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound.Code)
}

func IsValidation(err error) bool {
	return hasCode(err, ErrValidation.Code)
}

func IsMalformed(err error) bool {
	return hasCode(err, ErrMalformedNotification.Code)
}

func IsInvalidContent(err error) bool {
	return hasCode(err, ErrInvalidContent.Code)
}

func IsUnauthorized(err error) bool {
	return hasCode(err, ErrUnauthorized.Code)
}

// StatusOf returns the HTTP status carried by an *Error, or 0 for foreign errors.
func StatusOf(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return 0
}

// MessageOf returns the most specific human readable message of err.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		if detailMsg, ok := appErr.Details["message"].(string); ok && detailMsg != "" {
			return detailMsg
		}
		return appErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

type ErrorResponse struct {
	Error     string                 `json:"error"`
	ErrorCode string                 `json:"error_code"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

func ToErrorResponse(err error) ErrorResponse {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	return ErrorResponse{
		Error:     appErr.Message,
		ErrorCode: appErr.Code,
		Details:   appErr.Details,
	}
}
