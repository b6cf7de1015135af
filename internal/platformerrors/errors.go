package platformerrors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeConflict   ErrorType = "CONFLICT"
	ErrorTypeExternal   ErrorType = "EXTERNAL"
	ErrorTypeInternal   ErrorType = "INTERNAL"
)

// Layer represents the application layer where the error occurred
type Layer string

const (
	LayerRepository Layer = "repository"
	LayerDomain     Layer = "domain"
	LayerDispatch   Layer = "dispatch"
	LayerQueue      Layer = "queue"
)

// PlatformError carries an error category alongside the message so the
// dispatch boundary can decide what is safe to show the caller.
type PlatformError struct {
	Type    ErrorType
	Layer   Layer
	Message string
	Err     error
}

// Error implements the error interface
func (e *PlatformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s][%s] %s: %v", e.Layer, e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s][%s] %s", e.Layer, e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *PlatformError) Unwrap() error {
	return e.Err
}

// New creates a PlatformError without an underlying cause.
func New(layer Layer, errorType ErrorType, message string) *PlatformError {
	return &PlatformError{Type: errorType, Layer: layer, Message: message}
}

// Wrap attaches a category and message to an existing error.
func Wrap(layer Layer, errorType ErrorType, message string, err error) *PlatformError {
	return &PlatformError{Type: errorType, Layer: layer, Message: message, Err: err}
}

// Validation is shorthand for a domain-layer validation error.
func Validation(message string) *PlatformError {
	return New(LayerDomain, ErrorTypeValidation, message)
}

// NotFound is shorthand for a domain-layer not-found error. Ownership
// mismatches use the same message as a truly absent row so callers cannot
// probe for other tenants' data.
func NotFound(message string) *PlatformError {
	return New(LayerDomain, ErrorTypeNotFound, message)
}

// IsType checks whether err is a PlatformError of the given type.
func IsType(err error, errorType ErrorType) bool {
	if err == nil {
		return false
	}

	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		return platformErr.Type == errorType
	}
	return false
}

// TypeOf returns the category of err. Untyped errors are classified by
// recognizable message substrings ("not found", "required", "invalid"),
// which keeps validation feedback from collaborators that return plain
// errors user-visible; everything else is internal.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}

	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		return platformErr.Type
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not found"):
		return ErrorTypeNotFound
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"),
		strings.Contains(msg, "must be"), strings.Contains(msg, "empty"):
		return ErrorTypeValidation
	default:
		return ErrorTypeInternal
	}
}

// UserMessage returns the message to surface to callers. Validation,
// not-found and conflict messages are safe verbatim; internal and external
// failures collapse to a generic message so internals never leak.
func UserMessage(err error) string {
	switch TypeOf(err) {
	case ErrorTypeValidation, ErrorTypeNotFound, ErrorTypeConflict:
		var platformErr *PlatformError
		if errors.As(err, &platformErr) {
			return platformErr.Message
		}
		return err.Error()
	default:
		return "internal error, please try again"
	}
}
