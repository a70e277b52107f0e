// Package errors provides standardized error handling for the connector.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeConfiguration     ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeTransport         ErrorCode = "TRANSPORT_ERROR"
	ErrCodeEnrichmentFailure ErrorCode = "ENRICHMENT_FAILURE"
	ErrCodeImportFailed      ErrorCode = "IMPORT_FAILED"
	ErrCodeSessionStopped    ErrorCode = "SESSION_STOPPED"
)

// Sentinels matched by errors.Is against any StandardError of the same code.
var (
	ErrConfiguration     = stderrors.New(string(ErrCodeConfiguration))
	ErrTransport         = stderrors.New(string(ErrCodeTransport))
	ErrEnrichmentFailure = stderrors.New(string(ErrCodeEnrichmentFailure))
	ErrImportFailed      = stderrors.New(string(ErrCodeImportFailed))
	ErrSessionStopped    = stderrors.New(string(ErrCodeSessionStopped))
)

var sentinels = map[ErrorCode]error{
	ErrCodeConfiguration:     ErrConfiguration,
	ErrCodeTransport:         ErrTransport,
	ErrCodeEnrichmentFailure: ErrEnrichmentFailure,
	ErrCodeImportFailed:      ErrImportFailed,
	ErrCodeSessionStopped:    ErrSessionStopped,
}

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is reports a match against the sentinel registered for the error code.
func (e *StandardError) Is(target error) bool {
	if s, ok := sentinels[e.Code]; ok && s == target {
		return true
	}
	if t, ok := target.(*StandardError); ok {
		return t.Code == e.Code
	}
	return false
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. Error Constructors
// ==========================

// NewConfigurationError creates a non-retryable configuration error.
func NewConfigurationError(message string, err error) *StandardError {
	stdErr := &StandardError{
		Code:      ErrCodeConfiguration,
		Message:   message,
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
	if err != nil {
		stdErr.Details = err.Error()
	}
	return stdErr
}

// NewMissingSettingError reports a required setting that was not supplied.
func NewMissingSettingError(setting, reason string) *StandardError {
	msg := fmt.Sprintf("%s is required", setting)
	if reason != "" {
		msg = fmt.Sprintf("%s is required (%s)", setting, reason)
	}
	return NewConfigurationError(msg, nil)
}

// NewTransportError creates a retryable transport error.
func NewTransportError(operation string, err error) *StandardError {
	stdErr := &StandardError{
		Code:      ErrCodeTransport,
		Message:   fmt.Sprintf("%s failed", operation),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
	if err != nil {
		stdErr.Details = err.Error()
	}
	return stdErr
}

// NewEnrichmentFailure creates a non-fatal analytics enrichment error.
func NewEnrichmentFailure(stage string, err error) *StandardError {
	stdErr := &StandardError{
		Code:      ErrCodeEnrichmentFailure,
		Message:   fmt.Sprintf("intent enrichment %s failed", stage),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
	if err != nil {
		stdErr.Details = err.Error()
	}
	return stdErr
}

// NewImportFailedError creates a non-retryable importer error.
func NewImportFailedError(details string, err error) *StandardError {
	stdErr := &StandardError{
		Code:      ErrCodeImportFailed,
		Message:   "Intent import failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
	if err != nil && details == "" {
		stdErr.Details = err.Error()
	}
	return stdErr
}

// NewSessionStoppedError is returned for operations on a stopped session.
func NewSessionStoppedError() *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionStopped,
		Message:   "Session is not running",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// AsStandardError normalizes any error into a StandardError.
func AsStandardError(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	switch code {
	case ErrCodeTransport, ErrCodeEnrichmentFailure:
		return true
	}
	return false
}

// IsFatal reports whether the error must stop traffic before anything is sent.
func IsFatal(err error) bool {
	return stderrors.Is(err, ErrConfiguration)
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeConfiguration:
		return "VALIDATION"
	case ErrCodeTransport:
		return "NETWORK"
	case ErrCodeEnrichmentFailure:
		return "ENRICHMENT"
	case ErrCodeImportFailed:
		return "IMPORT"
	case ErrCodeSessionStopped:
		return "LIFECYCLE"
	default:
		return "UNKNOWN"
	}
}
