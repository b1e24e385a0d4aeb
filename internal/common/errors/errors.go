// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed       ErrorCode = "VALIDATION_FAILED"
	ErrCodeUnknownCountry         ErrorCode = "UNKNOWN_COUNTRY"
	ErrCodeInsufficientBalance    ErrorCode = "INSUFFICIENT_BALANCE"
	ErrCodeCandidateUnavailable   ErrorCode = "CANDIDATE_UNAVAILABLE"
	ErrCodeInvalidStateTransition ErrorCode = "INVALID_STATE_TRANSITION"
	ErrCodeAlreadyResolved        ErrorCode = "ALREADY_RESOLVED"
	ErrCodeNotFound               ErrorCode = "RESOURCE_NOT_FOUND"

	ErrCodeConcurrencyConflict ErrorCode = "CONCURRENCY_CONFLICT"
	ErrCodeExternalStore       ErrorCode = "EXTERNAL_STORE_ERROR"
	ErrCodeExternalService     ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout             ErrorCode = "TIMEOUT_ERROR"
	ErrCodeNotificationFailed  ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Domain Errors
// ==========================

var (
	// ErrConcurrencyConflict is returned when an optimistic write lost its race
	// more times than the configured retry limit allows.
	ErrConcurrencyConflict = stderrors.New("CONCURRENCY_CONFLICT")
	ErrNotFound            = stderrors.New("RESOURCE_NOT_FOUND")
	// ErrDuplicateReference marks a deposit whose external reference was already applied.
	ErrDuplicateReference = stderrors.New("DUPLICATE_REFERENCE")
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// UnknownCountryError is returned when no fee rule exists for a sponsor country.
type UnknownCountryError struct {
	Country string
}

func (e *UnknownCountryError) Error() string {
	return fmt.Sprintf("no fee rule for sponsor country %q", e.Country)
}

// InsufficientBalanceError carries the figures the agency needs to top up.
type InsufficientBalanceError struct {
	AgencyID  string
	Required  string
	Available string
	Currency  string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("agency %s has insufficient credits: required %s %s, available %s %s",
		e.AgencyID, e.Required, e.Currency, e.Available, e.Currency)
}

// CandidateUnavailableError is returned when a maid is not free for a new placement.
type CandidateUnavailableError struct {
	MaidID string
	Status string
}

func (e *CandidateUnavailableError) Error() string {
	return fmt.Sprintf("candidate %s is unavailable (status %s)", e.MaidID, e.Status)
}

// InvalidStateTransitionError is returned for an event the placement's
// current status does not accept. The record is left unchanged.
type InvalidStateTransitionError struct {
	PlacementID string
	From        string
	Event       string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("placement %s: event %q not allowed from status %q", e.PlacementID, e.Event, e.From)
}

// AlreadyResolvedError is returned when an escrow entry has left the escrow status.
type AlreadyResolvedError struct {
	PlacementID string
	Status      string
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("fee for placement %s already resolved as %s", e.PlacementID, e.Status)
}

// ExternalStoreError wraps a failure of the record store or cache.
type ExternalStoreError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *ExternalStoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *ExternalStoreError) Unwrap() error {
	return e.Err
}

func NewExternalStoreError(op string, err error, transient bool) *ExternalStoreError {
	return &ExternalStoreError{Op: op, Err: err, Transient: transient}
}

// IsTransient reports whether err is worth retrying without changing input.
func IsTransient(err error) bool {
	var storeErr *ExternalStoreError
	if stderrors.As(err, &storeErr) {
		return storeErr.Transient
	}
	return stderrors.Is(err, ErrConcurrencyConflict)
}

// ==========================
// 3. Error Constructors
// ==========================

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternalService,
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewTimeoutError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTimeout,
		Message:   fmt.Sprintf("Service '%s' timeout", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewResourceNotFoundError(service, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("Resource not found in %s", service),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable notification send error.
func NewNotificationSendFailedError(notificationType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("type: %s, error: %s", notificationType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// Normalize maps any error produced by the domain packages onto a StandardError.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}

	var (
		stdErr        *StandardError
		validationErr *ValidationError
		countryErr    *UnknownCountryError
		balanceErr    *InsufficientBalanceError
		candidateErr  *CandidateUnavailableError
		transitionErr *InvalidStateTransitionError
		resolvedErr   *AlreadyResolvedError
		storeErr      *ExternalStoreError
	)

	build := func(code ErrorCode, message string, retryable bool, meta map[string]interface{}) *StandardError {
		return &StandardError{
			Code:      code,
			Message:   message,
			Details:   err.Error(),
			Retryable: retryable,
			Metadata:  meta,
			Timestamp: time.Now().UTC(),
		}
	}

	switch {
	case stderrors.As(err, &stdErr):
		return stdErr
	case stderrors.As(err, &validationErr):
		return build(ErrCodeValidationFailed, "Input validation failed", false,
			map[string]interface{}{"field": validationErr.Field})
	case stderrors.As(err, &countryErr):
		return build(ErrCodeUnknownCountry, "No fee rule for sponsor country", false,
			map[string]interface{}{"country": countryErr.Country})
	case stderrors.As(err, &balanceErr):
		return build(ErrCodeInsufficientBalance, "Insufficient credits", false,
			map[string]interface{}{
				"agencyId":  balanceErr.AgencyID,
				"required":  balanceErr.Required,
				"available": balanceErr.Available,
				"currency":  balanceErr.Currency,
			})
	case stderrors.As(err, &candidateErr):
		return build(ErrCodeCandidateUnavailable, "Candidate unavailable", false,
			map[string]interface{}{"maidId": candidateErr.MaidID, "status": candidateErr.Status})
	case stderrors.As(err, &transitionErr):
		return build(ErrCodeInvalidStateTransition, "Invalid placement state transition", false,
			map[string]interface{}{"from": transitionErr.From, "event": transitionErr.Event})
	case stderrors.As(err, &resolvedErr):
		return build(ErrCodeAlreadyResolved, "Fee already resolved", false,
			map[string]interface{}{"status": resolvedErr.Status})
	case stderrors.Is(err, ErrNotFound):
		return build(ErrCodeNotFound, "Resource not found", false, nil)
	case stderrors.Is(err, ErrConcurrencyConflict):
		return build(ErrCodeConcurrencyConflict, "Concurrent update conflict", true, nil)
	case stderrors.As(err, &storeErr):
		return build(ErrCodeExternalStore, "Record store error", storeErr.Transient,
			map[string]interface{}{"op": storeErr.Op})
	default:
		return build(ErrCodeInternal, "Unexpected error", false, nil)
	}
}

// ==========================
// 4. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// BPMNErrorMapping maps internal codes to the error codes caught by boundary
// events in the placement process model.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeValidationFailed:       "VALIDATION_FAILED",
	ErrCodeUnknownCountry:         "UNKNOWN_COUNTRY",
	ErrCodeInsufficientBalance:    "INSUFFICIENT_BALANCE",
	ErrCodeCandidateUnavailable:   "CANDIDATE_UNAVAILABLE",
	ErrCodeInvalidStateTransition: "INVALID_STATE_TRANSITION",
	ErrCodeAlreadyResolved:        "ALREADY_RESOLVED",
	ErrCodeNotFound:               "PLACEMENT_NOT_FOUND",
	ErrCodeConcurrencyConflict:    "CONCURRENCY_CONFLICT",
	ErrCodeExternalStore:          "EXTERNAL_STORE_ERROR",
}

// GetRetryCount returns the recommended job retry count for an error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeExternalStore,
		ErrCodeExternalService,
		ErrCodeNotificationFailed:
		return 3

	case ErrCodeConcurrencyConflict,
		ErrCodeTimeout:
		return 2

	default:
		return 0 // business errors are thrown, not retried
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "BALANCE") || strings.Contains(codeStr, "RESOLVED"):
		return "LEDGER"
	case strings.Contains(codeStr, "TRANSITION") || strings.Contains(codeStr, "CANDIDATE"):
		return "WORKFLOW"
	case strings.Contains(codeStr, "STORE") || strings.Contains(codeStr, "CONFLICT"):
		return "STORAGE"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "COUNTRY"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
