package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All packages MUST use these constants instead of hardcoded strings.
const (
	// Validation
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationTolerance    ErrorCode = "validation_tolerance_out_of_range"
	ErrCodeValidationRepository   ErrorCode = "validation_invalid_repository"
	ErrCodeValidationRunID        ErrorCode = "validation_invalid_run_id"

	// Resolution (location -> region lookup has no match)
	ErrCodeResolutionNoMatch  ErrorCode = "resolution_no_match"
	ErrCodeResolutionNoRegion ErrorCode = "resolution_missing_region"

	// Decision
	ErrCodeDecisionInvalidTiming ErrorCode = "decision_invalid_timing"

	// Conflict
	ErrCodeConflictForeignEnvironment ErrorCode = "conflict_foreign_environment"

	// Internal/Upstream
	ErrCodeInternalUnexpected        ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamLocation          ErrorCode = "upstream_location_unavailable"
	ErrCodeUpstreamCarbon            ErrorCode = "upstream_carbon_unavailable"
	ErrCodeUpstreamControlPlane      ErrorCode = "upstream_control_plane_unavailable"
	ErrCodeUpstreamUnavailable       ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited       ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamMalformedResponse ErrorCode = "upstream_malformed_response"
)

// IsResolution reports whether the code describes a location/region lookup
// that found nothing. Resolution failures are fatal to a decision but never
// to the CI job.
func (c ErrorCode) IsResolution() bool {
	return strings.HasPrefix(string(c), "resolution_")
}

// IsProvider reports whether the code describes a collaborator failure
// (network, parse, or an upstream refusing the request).
func (c ErrorCode) IsProvider() bool {
	s := string(c)
	return strings.HasPrefix(s, "upstream_") || strings.HasPrefix(s, "internal_") || strings.HasPrefix(s, "conflict_")
}

// AppError is the standard application error type used throughout the module.
// All domain and provider errors should be expressed as AppError to enable
// consistent logging, outcome classification, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf extracts the ErrorCode from the first AppError in err's chain.
// Returns the empty code when err carries no AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
