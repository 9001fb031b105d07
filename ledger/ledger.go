// Package ledger records the lifecycle of sponsored transactions for auditing and status queries.
//
// Records move from pending to exactly one terminal state, and the chain hash is written at most
// once. Every backend enforces the same transitions.
package ledger

import (
	"errors"
)

var (
	// ErrNotFound is returned when no record matches
	ErrNotFound = errors.New("transaction record not found")

	// ErrInvalidTransition is returned when a record is not pending
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrHashAlreadySet is returned when a record already carries a different hash
	ErrHashAlreadySet = errors.New("transaction hash already set")
)
