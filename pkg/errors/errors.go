package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the category of domain error
type ErrorType string

const (
	// ErrorTypeValidation indicates input validation failure
	ErrorTypeValidation ErrorType = "VALIDATION_ERROR"

	// ErrorTypeBusinessRule indicates a business rule violation
	ErrorTypeBusinessRule ErrorType = "BUSINESS_RULE_ERROR"

	// ErrorTypeNotFound indicates a resource was not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeConflict indicates a conflict with existing state
	ErrorTypeConflict ErrorType = "CONFLICT"

	// ErrorTypeInfrastructure indicates an infrastructure-level failure
	ErrorTypeInfrastructure ErrorType = "INFRASTRUCTURE_ERROR"

	// ErrorTypeInternal indicates an unexpected internal failure
	ErrorTypeInternal ErrorType = "INTERNAL_ERROR"
)

// DomainError represents a domain-specific error with rich context
type DomainError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, code string, message string) *DomainError {
	return &DomainError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// WithCause adds a cause to the error
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	e.Details[key] = value
	return e
}

// WithDetails adds multiple details to the error
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithRetryable sets whether the error is retryable
func (e *DomainError) WithRetryable(retryable bool) *DomainError {
	e.Retryable = retryable
	return e
}

// Is matches errors by type and code so sentinel comparison works with errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// Unwrap returns the underlying cause
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Error codes for the fitting domain. Callers match with errors.Is against
// the sentinels below; the New*Error constructors attach per-call details.
const (
	CodeSelfReferentialFitting = "SELF_REFERENTIAL_FITTING"
	CodeBlankElementID         = "BLANK_ELEMENT_ID"
	CodeReservedFittingType    = "RESERVED_FITTING_TYPE"
	CodeDuplicateFitting       = "DUPLICATE_FITTING"
	CodeFittingNotFound        = "FITTING_NOT_FOUND"
	CodeReplaceSetTooLarge     = "REPLACE_SET_TOO_LARGE"
)

// Pre-defined sentinel errors. These carry no per-call details; use them as
// errors.Is targets and raise through the constructors below.
var (
	ErrSelfReferentialFitting = NewDomainError(
		ErrorTypeBusinessRule,
		CodeSelfReferentialFitting,
		"Cannot create a fitting from an element to itself",
	)

	ErrBlankElementID = NewDomainError(
		ErrorTypeValidation,
		CodeBlankElementID,
		"Element identifier cannot be blank",
	)

	ErrReservedFittingType = NewDomainError(
		ErrorTypeValidation,
		CodeReservedFittingType,
		"Fitting type is reserved and cannot be stored",
	)

	ErrDuplicateFitting = NewDomainError(
		ErrorTypeConflict,
		CodeDuplicateFitting,
		"A fitting with this source, target, and type already exists",
	)

	ErrFittingNotFound = NewDomainError(
		ErrorTypeNotFound,
		CodeFittingNotFound,
		"The requested fitting does not exist",
	)

	ErrReplaceSetTooLarge = NewDomainError(
		ErrorTypeBusinessRule,
		CodeReplaceSetTooLarge,
		"Replacement set exceeds the atomic transaction limit",
	)

	ErrTransactionFailed = NewDomainError(
		ErrorTypeInfrastructure,
		"TRANSACTION_FAILED",
		"Storage transaction failed",
	).WithRetryable(true)

	ErrDatabaseConnection = NewDomainError(
		ErrorTypeInfrastructure,
		"DATABASE_CONNECTION_ERROR",
		"Failed to connect to the backing store",
	).WithRetryable(true)

	ErrEventPublishFailed = NewDomainError(
		ErrorTypeInfrastructure,
		"EVENT_PUBLISH_FAILED",
		"Failed to publish domain event",
	).WithRetryable(true)
)

// NewSelfLoopError reports an attempted self-referential fitting
func NewSelfLoopError(elementID string) *DomainError {
	return NewDomainError(
		ErrorTypeBusinessRule,
		CodeSelfReferentialFitting,
		"Cannot create a fitting from an element to itself",
	).WithDetail("element_id", elementID)
}

// NewBlankElementIDError reports a blank element identifier in the given role
func NewBlankElementIDError(field string) *DomainError {
	return NewDomainError(
		ErrorTypeValidation,
		CodeBlankElementID,
		"Element identifier cannot be blank",
	).WithDetail("field", field)
}

// NewReservedTypeError reports use of a reserved fitting type in a mutation
func NewReservedTypeError() *DomainError {
	return NewDomainError(
		ErrorTypeValidation,
		CodeReservedFittingType,
		"Fitting type is reserved and cannot be stored",
	)
}

// NewDuplicateFittingError reports a uniqueness violation on the triple
func NewDuplicateFittingError(sourceID, targetID string, fittingType int64) *DomainError {
	return NewDomainError(
		ErrorTypeConflict,
		CodeDuplicateFitting,
		"A fitting with this source, target, and type already exists",
	).WithDetail("source_id", sourceID).
		WithDetail("target_id", targetID).
		WithDetail("fitting_type", fittingType)
}

// NewFittingNotFoundError reports a missing triple
func NewFittingNotFoundError(sourceID, targetID string, fittingType int64) *DomainError {
	return NewDomainError(
		ErrorTypeNotFound,
		CodeFittingNotFound,
		"The requested fitting does not exist",
	).WithDetail("source_id", sourceID).
		WithDetail("target_id", targetID).
		WithDetail("fitting_type", fittingType)
}

// NewReplaceSetTooLargeError reports a reconciliation exceeding the backing
// store's atomic write limit
func NewReplaceSetTooLargeError(actions, limit int) *DomainError {
	return NewDomainError(
		ErrorTypeBusinessRule,
		CodeReplaceSetTooLarge,
		"Replacement set exceeds the atomic transaction limit",
	).WithDetail("actions", actions).WithDetail("limit", limit)
}

// NewValidationError creates a generic validation error
func NewValidationError(message string) *DomainError {
	return NewDomainError(ErrorTypeValidation, "INVALID_INPUT", message)
}

// NewConflictError creates a generic conflict error
func NewConflictError(message string) *DomainError {
	return NewDomainError(ErrorTypeConflict, "CONFLICT", message)
}

// NewNotFoundError creates a not-found error for the named resource
func NewNotFoundError(resource string) *DomainError {
	return NewDomainError(
		ErrorTypeNotFound,
		"RESOURCE_NOT_FOUND",
		fmt.Sprintf("%s not found", resource),
	).WithDetail("resource", resource)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *DomainError {
	return NewDomainError(ErrorTypeInternal, "INTERNAL", message)
}

// NewTransactionError reports a failed storage transaction
func NewTransactionError(message string) *DomainError {
	return NewDomainError(
		ErrorTypeInfrastructure,
		"TRANSACTION_FAILED",
		message,
	).WithRetryable(true)
}

// Wrap wraps an error with a message, preserving the domain classification
// when the wrapped error already is a DomainError
func Wrap(err error, message string) *DomainError {
	if err == nil {
		return nil
	}

	var de *DomainError
	if errors.As(err, &de) {
		return NewDomainError(de.Type, de.Code, message).
			WithCause(err).
			WithRetryable(de.Retryable)
	}

	return NewDomainError(ErrorTypeInfrastructure, "WRAPPED", message).WithCause(err)
}

// Wrapf wraps an error with a formatted message
func Wrapf(err error, format string, args ...interface{}) *DomainError {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// GetDomainError extracts a DomainError from an error chain, or nil
func GetDomainError(err error) *DomainError {
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}
	return nil
}

// IsInvalidFitting reports whether err is any of the connect-rejection
// errors: self-loop, blank identifier, or reserved type
func IsInvalidFitting(err error) bool {
	if IsValidationFailure(err) {
		return true
	}
	de := GetDomainError(err)
	return de != nil && de.Code == CodeSelfReferentialFitting
}

// IsDuplicateFitting reports whether err is a triple uniqueness violation
func IsDuplicateFitting(err error) bool {
	return errors.Is(err, ErrDuplicateFitting)
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	de := GetDomainError(err)
	return de != nil && de.Type == ErrorTypeNotFound
}

// IsValidationFailure reports whether err is a validation-class error,
// including an aggregated ValidationErrors
func IsValidationFailure(err error) bool {
	var ve *ValidationErrors
	if errors.As(err, &ve) {
		return ve.HasErrors()
	}
	de := GetDomainError(err)
	return de != nil && de.Type == ErrorTypeValidation
}

// IsRetryable reports whether err is marked safe to retry
func IsRetryable(err error) bool {
	de := GetDomainError(err)
	return de != nil && de.Retryable
}

// ValidationErrors aggregates multiple validation errors, used by bulk
// operations that validate every input before mutating anything
type ValidationErrors struct {
	Errors []*DomainError `json:"errors"`
}

// NewValidationErrors creates a new validation errors collection
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Errors: make([]*DomainError, 0),
	}
}

// Add adds a validation error for a field
func (v *ValidationErrors) Add(field string, message string) {
	err := NewDomainError(ErrorTypeValidation, "FIELD_VALIDATION_ERROR", message).
		WithDetail("field", field)
	v.Errors = append(v.Errors, err)
}

// AddError adds a pre-existing domain error
func (v *ValidationErrors) AddError(err *DomainError) {
	v.Errors = append(v.Errors, err)
}

// HasErrors returns true if there are validation errors
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// ErrorOrNil returns the collection as an error when non-empty
func (v *ValidationErrors) ErrorOrNil() error {
	if v.HasErrors() {
		return v
	}
	return nil
}

// Error implements the error interface
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}

	messages := make([]string, len(v.Errors))
	for i, err := range v.Errors {
		messages[i] = err.Message
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// Unwrap exposes the individual errors to errors.Is and errors.As
func (v *ValidationErrors) Unwrap() []error {
	errs := make([]error, len(v.Errors))
	for i, err := range v.Errors {
		errs[i] = err
	}
	return errs
}
