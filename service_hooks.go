package relayer

import (
	"context"
	"time"
)

// ============================================================================
// Submit Hook Context Types
// ============================================================================

// SubmitContext contains information passed to submit hooks
type SubmitContext struct {
	Ctx       context.Context
	Request   SponsorshipRequest
	Quote     *Quote
	Fee       FeeBreakdown
	Timestamp time.Time
}

// SubmitResultContext contains a completed submission and its context
type SubmitResultContext struct {
	SubmitContext
	Result   SubmitResult
	Duration time.Duration
}

// SubmitFailureContext contains a failed submission and its context
type SubmitFailureContext struct {
	SubmitContext
	Error    error
	Duration time.Duration
}

// ============================================================================
// Submit Hook Result Types
// ============================================================================

// BeforeHookResult represents the result of a "before" hook
// If Abort is true, the operation will be aborted with the given Reason
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Submit Hook Function Types
// ============================================================================

// BeforeSubmitHook is called after the fee is recomputed and before any signature or chain work.
// If it returns a result with Abort=true, the submission is rejected with the provided reason.
type BeforeSubmitHook func(SubmitContext) (*BeforeHookResult, error)

// AfterSubmitHook is called after a transaction reaches the chain
// Any error returned will be logged but will not affect the result
type AfterSubmitHook func(SubmitResultContext) error

// OnSubmitFailureHook is called when a submission fails
// Any error returned will be logged; the original failure is always returned
type OnSubmitFailureHook func(SubmitFailureContext) error

// WithBeforeSubmitHook registers a hook run before each submission
func WithBeforeSubmitHook(hook BeforeSubmitHook) ServiceOption {
	return func(s *Service) {
		s.beforeSubmitHooks = append(s.beforeSubmitHooks, hook)
	}
}

// WithAfterSubmitHook registers a hook run after each submission that reached the chain
func WithAfterSubmitHook(hook AfterSubmitHook) ServiceOption {
	return func(s *Service) {
		s.afterSubmitHooks = append(s.afterSubmitHooks, hook)
	}
}

// WithOnSubmitFailureHook registers a hook run after each failed submission
func WithOnSubmitFailureHook(hook OnSubmitFailureHook) ServiceOption {
	return func(s *Service) {
		s.onSubmitFailureHooks = append(s.onSubmitFailureHooks, hook)
	}
}
