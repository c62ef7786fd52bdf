package access

import (
	"errors"
	"fmt"
)

// ErrorType classifies a disclosure engine error for machine handling.
// Terminal-state violations (expired, exhausted, revoked) are distinct from
// generic conflicts so clients can render the right message.
type ErrorType string

const (
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeInvalidInput       ErrorType = "invalid_input"
	ErrorTypeUnauthorized       ErrorType = "unauthorized"
	ErrorTypeForbidden          ErrorType = "forbidden"
	ErrorTypeConflict           ErrorType = "conflict"
	ErrorTypePreconditionFailed ErrorType = "precondition_failed"
	ErrorTypeExpired            ErrorType = "expired"
	ErrorTypeExhausted          ErrorType = "exhausted"
	ErrorTypeRevoked            ErrorType = "revoked"
	ErrorTypeInternal           ErrorType = "internal"
)

// Error is a structured disclosure engine error with machine-readable context
type Error struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (caused by: %v)", e.Code, e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Type, e.Message)
}

// Unwrap returns the underlying cause of the error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key/value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause attaches an underlying cause to the error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// NewNotFound creates a not-found error for an unresolved entity id
func NewNotFound(entity, id string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Code:    ErrorCodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", entity, id),
	}
}

// NewInvalidInput creates a validation error caught before any mutation
func NewInvalidInput(message string) *Error {
	return &Error{
		Type:    ErrorTypeInvalidInput,
		Code:    ErrorCodeInvalidInput,
		Message: message,
	}
}

// NewUnauthorized creates an error for a caller without resolved standing
func NewUnauthorized(message string) *Error {
	return &Error{
		Type:    ErrorTypeUnauthorized,
		Code:    ErrorCodeUnauthorized,
		Message: message,
	}
}

// NewForbidden creates an error for a caller lacking standing to act
func NewForbidden(message string) *Error {
	return &Error{
		Type:    ErrorTypeForbidden,
		Code:    ErrorCodeForbidden,
		Message: message,
	}
}

// NewConflict creates an error for a state conflict such as a duplicate decision
func NewConflict(message string) *Error {
	return &Error{
		Type:    ErrorTypeConflict,
		Code:    ErrorCodeConflict,
		Message: message,
	}
}

// NewPreconditionFailed creates an error for an unmet precondition such as an
// unelapsed time delay or unmet quorum
func NewPreconditionFailed(message string) *Error {
	return &Error{
		Type:    ErrorTypePreconditionFailed,
		Code:    ErrorCodePreconditionFailed,
		Message: message,
	}
}

// NewExpired creates a terminal-state error for an expired credential
func NewExpired(message string) *Error {
	return &Error{
		Type:    ErrorTypeExpired,
		Code:    ErrorCodeExpired,
		Message: message,
	}
}

// NewExhausted creates a terminal-state error for a used-up credential
func NewExhausted(message string) *Error {
	return &Error{
		Type:    ErrorTypeExhausted,
		Code:    ErrorCodeExhausted,
		Message: message,
	}
}

// NewRevoked creates a terminal-state error for a revoked credential
func NewRevoked(message string) *Error {
	return &Error{
		Type:    ErrorTypeRevoked,
		Code:    ErrorCodeRevoked,
		Message: message,
	}
}

// NewInternal creates an internal error wrapping an underlying cause
func NewInternal(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Code:    ErrorCodeInternal,
		Message: message,
		Cause:   cause,
	}
}

// IsType reports whether err is a disclosure engine error of the given type
func IsType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}

// GetError extracts a disclosure engine error from a generic error
func GetError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// ValidationError represents a validation error with field-specific details
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface for ValidationError
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' with value '%s': %s", e.Field, e.Value, e.Message)
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("multiple validation errors: %d errors found", len(e))
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, value, message string) {
	*e = append(*e, ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// AsInvalidInput wraps the collected validation errors into the engine taxonomy
func (e ValidationErrors) AsInvalidInput() *Error {
	err := NewInvalidInput(e.Error())
	fields := make([]string, 0, len(e))
	for _, v := range e {
		fields = append(fields, v.Field)
	}
	return err.WithDetail("fields", fields).WithCause(e)
}
