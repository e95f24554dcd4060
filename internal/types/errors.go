package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a stable, machine-readable identifier for an error category.
// Codes are part of the public API contract; renaming one is a breaking change.
type ErrorCode string

const (
	// Validation errors (400).
	ErrCodeValidationFailed       ErrorCode = "validation_failed"
	ErrCodeValidationMissingField ErrorCode = "validation_missing_field"
	ErrCodeValidationInvalidPlan  ErrorCode = "validation_invalid_plan"

	// Authentication and authorization errors.
	ErrCodeAuthUnauthorized     ErrorCode = "auth_unauthorized"
	ErrCodeAuthForbidden        ErrorCode = "auth_forbidden"
	ErrCodeAuthSignatureInvalid ErrorCode = "auth_signature_invalid"

	// Resource errors (404).
	ErrCodeNotFoundCustomer     ErrorCode = "not_found_customer"
	ErrCodeNotFoundSubscription ErrorCode = "not_found_subscription"
	ErrCodeNotFoundResource     ErrorCode = "not_found_resource"

	// Conflict errors (409).
	ErrCodeConflictConcurrentModification ErrorCode = "conflict_concurrent_modification"
	ErrCodeConflictProviderSwitch         ErrorCode = "conflict_provider_switch"
	ErrCodeConflictSubscriptionState      ErrorCode = "conflict_subscription_state"

	// Rate limiting (429).
	ErrCodeRateLimited ErrorCode = "rate_limited"

	// Upstream payment provider errors.
	ErrCodeUpstreamProviderUnavailable ErrorCode = "upstream_provider_unavailable"
	ErrCodeUpstreamProviderRejected    ErrorCode = "upstream_provider_rejected"

	// Billing operation errors.
	ErrCodeBillingCancellationFailed ErrorCode = "billing_cancellation_failed"
	ErrCodeBillingCheckoutFailed     ErrorCode = "billing_checkout_failed"

	// Internal errors (5xx).
	ErrCodeInternalDatabaseError ErrorCode = "internal_database_error"
	ErrCodeInternalError    ErrorCode = "internal_error"
)

// HTTPStatus maps an error code to the HTTP status it should produce.
// Mapping is by prefix so new codes in a family inherit sensible behavior.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case c == ErrCodeAuthSignatureInvalid:
		// Webhook signature failures are a malformed request, not a
		// credential problem, and must never trigger provider retries
		// with an auth challenge.
		return http.StatusBadRequest
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case c == ErrCodeAuthForbidden:
		return http.StatusForbidden
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case c == ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case c == ErrCodeUpstreamProviderRejected:
		return http.StatusBadGateway
	case c == ErrCodeUpstreamProviderUnavailable:
		return http.StatusServiceUnavailable
	case strings.HasPrefix(s, "billing_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the error type carried across package boundaries. It pairs a
// stable code with a human-readable message and an optional wrapped cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]any
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with structured details attached.
// Details must be safe to serialize into an API response.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	clone := *e
	clone.Details = details
	return &clone
}

// NewAppError constructs an AppError wrapping err, which may be nil.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewAppErrorWithDetails constructs an AppError carrying caller-visible details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Details: details}
}
