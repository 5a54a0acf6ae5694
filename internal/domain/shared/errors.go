package shared

import "fmt"

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError carrying the same code, so a specialised
// error satisfies errors.Is against the sentinel of its category.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WrapDomainError creates a domain error that keeps the underlying cause
func WrapDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeMassBalance         = "MASS_BALANCE_VIOLATION"
	CodeCycleDetected       = "CYCLE_DETECTED"
	CodeStaleCache          = "STALE_CACHE"
	CodeInvalidState        = "INVALID_STATE"
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	CodeLockTimeout         = "LOCK_TIMEOUT"
	CodeAlreadyExists       = "ALREADY_EXISTS"
)

// Common domain errors
var (
	ErrValidation          = NewDomainError(CodeValidation, "Validation failed")
	ErrNotFound            = NewDomainError(CodeNotFound, "Resource not found")
	ErrMassBalance         = NewDomainError(CodeMassBalance, "Batch quantity would be exceeded")
	ErrCycleDetected       = NewDomainError(CodeCycleDetected, "Cycle detected in purchase order graph")
	ErrStaleCache          = NewDomainError(CodeStaleCache, "Cached value is stale")
	ErrInvalidState        = NewDomainError(CodeInvalidState, "Operation not allowed in current state")
	ErrConcurrencyConflict = NewDomainError(CodeConcurrencyConflict, "Resource was modified by another process")
	ErrLockTimeout         = NewDomainError(CodeLockTimeout, "Timed out waiting for lock")
	ErrAlreadyExists       = NewDomainError(CodeAlreadyExists, "Resource already exists")
)

// NewValidationError creates a validation error with a specific message
func NewValidationError(message string) *DomainError {
	return NewDomainError(CodeValidation, message)
}

// NewNotFoundError creates a not-found error naming the missing resource
func NewNotFoundError(resource string, id fmt.Stringer) *DomainError {
	return NewDomainError(CodeNotFound, fmt.Sprintf("%s %s not found", resource, id))
}
