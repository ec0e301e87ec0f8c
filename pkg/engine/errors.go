package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the stage of the engine that raised an error.
type ErrorClass string

const (
	// ErrorClassParse indicates a malformed package description.
	// Parse errors prevent any execution from starting.
	ErrorClassParse ErrorClass = "parse"

	// ErrorClassPrecondition indicates a package that cannot run against the
	// currently installed components.
	ErrorClassPrecondition ErrorClass = "precondition"

	// ErrorClassResolver indicates an invalid or conflicting patch descriptor.
	// Resolver errors are accumulated per component and never abort a pass.
	ErrorClassResolver ErrorClass = "resolver"

	// ErrorClassExecution indicates a failure while a phase was running.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassStorage indicates a persistence failure.
	ErrorClassStorage ErrorClass = "storage"
)

// ErrorCode identifies a single entry of the error taxonomy.
type ErrorCode string

// Parse-level codes.
const (
	ErrCodeMissingComponentID         ErrorCode = "MissingComponentId"
	ErrCodeInvalidComponentID         ErrorCode = "InvalidComponentId"
	ErrCodeMissingVersion             ErrorCode = "MissingVersion"
	ErrCodeInvalidVersion             ErrorCode = "InvalidVersion"
	ErrCodeMissingReleaseDate         ErrorCode = "MissingReleaseDate"
	ErrCodeInvalidReleaseDate         ErrorCode = "InvalidReleaseDate"
	ErrCodeTooBigReleaseDate          ErrorCode = "TooBigReleaseDate"
	ErrCodeMissingDescription         ErrorCode = "MissingDescription"
	ErrCodeInvalidPackageType         ErrorCode = "InvalidPackageType"
	ErrCodeMissingDependencyID        ErrorCode = "MissingDependencyId"
	ErrCodeEmptyDependencyID          ErrorCode = "EmptyDependencyId"
	ErrCodeMissingDependencyVersion   ErrorCode = "MissingDependencyVersion"
	ErrCodeDuplicatedDependency       ErrorCode = "DuplicatedDependency"
	ErrCodeUnexpectedVersionAttribute ErrorCode = "UnexpectedVersionAttribute"
	ErrCodeDoubleMinVersionAttribute  ErrorCode = "DoubleMinVersionAttribute"
	ErrCodeDoubleMaxVersionAttribute  ErrorCode = "DoubleMaxVersionAttribute"
	ErrCodeMissingParameterName       ErrorCode = "MissingParameterName"
	ErrCodeInvalidParameterName       ErrorCode = "InvalidParameterName"
	ErrCodeDuplicatedParameter        ErrorCode = "DuplicatedParameter"
	ErrCodeInvalidPhase               ErrorCode = "InvalidPhase"
	ErrCodeInvalidPhaseStructure      ErrorCode = "InvalidPhaseStructure"
	ErrCodeUnknownStep                ErrorCode = "UnknownStep"
	ErrCodeUnknownStepProperty        ErrorCode = "UnknownStepProperty"
	ErrCodeDuplicatedStepProperty     ErrorCode = "DuplicatedStepProperty"
	ErrCodeInvalidManifest            ErrorCode = "InvalidManifest"
)

// Precondition-level codes.
const (
	ErrCodeDependencyNotFound             ErrorCode = "DependencyNotFound"
	ErrCodeDependencyVersion              ErrorCode = "DependencyVersion"
	ErrCodeDependencyMinimumVersion       ErrorCode = "DependencyMinimumVersion"
	ErrCodeDependencyMaximumVersion       ErrorCode = "DependencyMaximumVersion"
	ErrCodeCannotInstallExistingComponent ErrorCode = "CannotInstallExistingComponent"
	ErrCodeCannotUpdateMissingComponent   ErrorCode = "CannotUpdateMissingComponent"
	ErrCodeTargetVersionTooSmall          ErrorCode = "TargetVersionTooSmall"
	ErrCodePolicyViolation                ErrorCode = "PolicyViolation"
)

// Resolver-level codes.
const (
	ErrCodeInvalidInterval                  ErrorCode = "InvalidInterval"
	ErrCodeMaxLessThanMin                   ErrorCode = "MaxLessThanMin"
	ErrCodeTargetVersionsAreTheSame         ErrorCode = "TargetVersionsAreTheSame"
	ErrCodeSourceVersionsAreTheSame         ErrorCode = "SourceVersionsAreTheSame"
	ErrCodeOverlappedIntervals              ErrorCode = "OverlappedIntervals"
	ErrCodePatchIDAndDependencyIDAreTheSame ErrorCode = "PatchIdAndDependencyIdAreTheSame"
	ErrCodeDuplicatedInstaller              ErrorCode = "DuplicatedInstaller"
	ErrCodeCircularDependency               ErrorCode = "CircularDependency"
	ErrCodeInvalidDescriptor                ErrorCode = "InvalidDescriptor"
)

// Execution and storage codes.
const (
	ErrCodeStepFailure         ErrorCode = "StepFailure"
	ErrCodeMissingStepProperty ErrorCode = "MissingStepProperty"
	ErrCodeInvalidStepProperty ErrorCode = "InvalidStepProperty"
	ErrCodeUndefinedVariable   ErrorCode = "UndefinedVariable"
	ErrCodeRecordNotSaved      ErrorCode = "RecordNotSaved"
	ErrCodeRecordNotFound      ErrorCode = "RecordNotFound"
	ErrCodeInvalidRecord       ErrorCode = "InvalidRecord"
	ErrCodeStorageFailure      ErrorCode = "StorageFailure"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the engine stage that raised the error.
	Class ErrorClass `json:"class"`

	// Code is the taxonomy entry for programmatic handling.
	Code ErrorCode `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Resource is the component ID the error is tied to, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Resource != "" {
		msg = fmt.Sprintf("%s (component=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches another EngineError by code, so that
// errors.Is(err, ErrCode(ErrCodeInvalidPhase)) works on wrapped errors.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newError(class ErrorClass, code ErrorCode, message string, err error) *EngineError {
	return &EngineError{
		Class:   class,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewParseError creates a parse-level error.
func NewParseError(code ErrorCode, format string, args ...interface{}) *EngineError {
	return newError(ErrorClassParse, code, fmt.Sprintf(format, args...), nil)
}

// NewPreconditionError creates a precondition-level error.
func NewPreconditionError(code ErrorCode, format string, args ...interface{}) *EngineError {
	return newError(ErrorClassPrecondition, code, fmt.Sprintf(format, args...), nil)
}

// NewResolverError creates a resolver-level error.
func NewResolverError(code ErrorCode, format string, args ...interface{}) *EngineError {
	return newError(ErrorClassResolver, code, fmt.Sprintf(format, args...), nil)
}

// NewExecutionError creates an execution-level error wrapping err.
func NewExecutionError(code ErrorCode, message string, err error) *EngineError {
	return newError(ErrorClassExecution, code, message, err)
}

// NewStorageError creates a storage-level error wrapping err.
func NewStorageError(code ErrorCode, message string, err error) *EngineError {
	return newError(ErrorClassStorage, code, message, err)
}

// ErrCode returns a sentinel usable with errors.Is.
func ErrCode(code ErrorCode) error {
	return &EngineError{Code: code}
}

// WithResource adds component context to an error.
func (e *EngineError) WithResource(componentID string) *EngineError {
	e.Resource = componentID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying error.
func (e *EngineError) WithCause(err error) *EngineError {
	e.Err = err
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the code of the first EngineError in the chain, or "".
func CodeOf(err error) ErrorCode {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ClassOf returns the class of the first EngineError in the chain, or "".
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsParse returns true if the error is classified as a parse error.
func IsParse(err error) bool {
	return ClassOf(err) == ErrorClassParse
}

// IsPrecondition returns true if the error is classified as a precondition error.
func IsPrecondition(err error) bool {
	return ClassOf(err) == ErrorClassPrecondition
}

// IsResolver returns true if the error is classified as a resolver error.
func IsResolver(err error) bool {
	return ClassOf(err) == ErrorClassResolver
}

// IsExecution returns true if the error is classified as an execution error.
func IsExecution(err error) bool {
	return ClassOf(err) == ErrorClassExecution
}
