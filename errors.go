package relayer

import (
	"errors"
	"fmt"
)

// RelayError represents a sponsorship-specific error with a stable machine-readable code
type RelayError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes
const (
	ErrCodeValidation              = "validation_error"
	ErrCodeQuoteExpired            = "quote_expired"
	ErrCodeInsufficientBalance     = "insufficient_balance"
	ErrCodeSponsorUndercapitalized = "sponsor_undercapitalized"
	ErrCodeSafetyLimitExceeded     = "safety_limit_exceeded"
	ErrCodeSignatureInvalid        = "signature_invalid"
	ErrCodeAddressMismatch         = "address_mismatch"
	ErrCodeUpstreamUnavailable     = "upstream_unavailable"
	ErrCodeSubmissionFailed        = "submission_failed"
	ErrCodePersistence             = "persistence_error"
	ErrCodeRateLimited             = "rate_limited"
	ErrCodeInternal                = "internal_error"
)

// NewRelayError creates a new relay error
func NewRelayError(code, message string, details map[string]interface{}) *RelayError {
	return &RelayError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ValidationError is a client fault with no side effects
func ValidationError(format string, args ...interface{}) *RelayError {
	return NewRelayError(ErrCodeValidation, fmt.Sprintf(format, args...), nil)
}

// UpstreamError wraps an oracle or chain RPC failure as retryable
func UpstreamError(what string, err error) *RelayError {
	return NewRelayError(ErrCodeUpstreamUnavailable, fmt.Sprintf("%s unavailable: %v", what, err), nil)
}

// CodeOf returns the relay error code carried by err, or ErrCodeInternal
func CodeOf(err error) string {
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given relay error code
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
