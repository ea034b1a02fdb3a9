package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeTransport  ErrorType = "TRANSPORT"
	ErrTypeDomain     ErrorType = "DOMAIN"
	ErrTypeStorage    ErrorType = "STORAGE"
	ErrTypeConfig     ErrorType = "CONFIG"
	ErrTypeValidation ErrorType = "VALIDATION"
)

// AppError represents an application-specific error
type AppError struct {
	Type ErrorType
	// Code is the card API result code for DOMAIN errors.
	Code int
	// StatusCode is the HTTP status for TRANSPORT errors caused by a non-2xx reply.
	StatusCode int
	Message    string
	Cause      error
	Context    map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Type)
	if e.Type == ErrTypeDomain {
		prefix = fmt.Sprintf("[%s %d]", e.Type, e.Code)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches sentinel AppErrors by type, code and message.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code && e.Message == t.Message
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Sentinel errors shared across packages.
var (
	ErrNotConfigured    = &AppError{Type: ErrTypeConfig, Message: "card api is not configured"}
	ErrNotAuthenticated = &AppError{Type: ErrTypeValidation, Message: "no authenticated session"}
	ErrEmptyCard        = &AppError{Type: ErrTypeValidation, Message: "card must not be empty"}
)

// NewTransportError creates a network/HTTP failure error.
func NewTransportError(message string, cause error) *AppError {
	return NewAppError(ErrTypeTransport, message, cause)
}

// NewHTTPStatusError creates a transport error for a non-2xx reply.
func NewHTTPStatusError(status int, body string) *AppError {
	err := NewAppError(ErrTypeTransport, fmt.Sprintf("HTTP %d: %s", status, body), nil)
	err.StatusCode = status
	return err
}

// NewDomainError creates an error for a non-zero card API result code.
func NewDomainError(code int, message string) *AppError {
	err := NewAppError(ErrTypeDomain, message, nil)
	err.Code = code
	return err
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// NewValidationError creates a validation error
func NewValidationError(message string, cause error) *AppError {
	return NewAppError(ErrTypeValidation, message, cause)
}

// IsType reports whether err is an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// IsDomainCode reports whether err is a DOMAIN error carrying code.
func IsDomainCode(err error, code int) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrTypeDomain && appErr.Code == code
	}
	return false
}

// DomainCode returns the card API code carried by err, if any.
func DomainCode(err error) (int, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Type == ErrTypeDomain {
		return appErr.Code, true
	}
	return 0, false
}
