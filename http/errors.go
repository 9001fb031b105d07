package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	relayer "github.com/x402-foundation/x402/relayer"
)

// StatusFor maps a relay error code to its HTTP status
func StatusFor(code string) int {
	switch code {
	case relayer.ErrCodeValidation:
		return http.StatusBadRequest
	case relayer.ErrCodeQuoteExpired:
		return http.StatusGone
	case relayer.ErrCodeInsufficientBalance:
		return http.StatusPaymentRequired
	case relayer.ErrCodeSignatureInvalid, relayer.ErrCodeAddressMismatch:
		return http.StatusUnauthorized
	case relayer.ErrCodeSafetyLimitExceeded:
		return http.StatusForbidden
	case relayer.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case relayer.ErrCodeSponsorUndercapitalized, relayer.ErrCodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case relayer.ErrCodeSubmissionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error *relayer.RelayError `json:"error"`
}

// asRelayError returns err as a relay error, hiding the text of unclassified errors
func asRelayError(err error) *relayer.RelayError {
	var relayErr *relayer.RelayError
	if errors.As(err, &relayErr) {
		return relayErr
	}
	return relayer.NewRelayError(relayer.ErrCodeInternal, "internal error", nil)
}

func writeError(c *gin.Context, err error) {
	relayErr := asRelayError(err)
	c.JSON(StatusFor(relayErr.Code), errorBody{Error: relayErr})
}

func abortWithError(c *gin.Context, err error) {
	relayErr := asRelayError(err)
	c.AbortWithStatusJSON(StatusFor(relayErr.Code), errorBody{Error: relayErr})
}
