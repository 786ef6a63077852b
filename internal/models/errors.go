package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrDuplicatePayment is returned when a payment is initiated for an order
// that already has a live (non-terminal) ledger entry.
var ErrDuplicatePayment = errors.New("payment already in progress for this order")

// ValidationError rejects bad input synchronously; never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError is a hard guard violation, distinct from the
// idempotent "already in that state" no-op.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// StaleStateError signals an optimistic-concurrency conflict: the expected
// state/version changed under the writer. Callers re-read and retry.
type StaleStateError struct {
	LedgerID uuid.UUID
	Expected string
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("ledger %s no longer in state %s", e.LedgerID, e.Expected)
}

// GatewayError covers payment-provider failures. Transient errors are
// retried with backoff; terminal ones propagate as payment failure.
type GatewayError struct {
	Transient bool
	Status    int
	Reason    string
}

func (e *GatewayError) Error() string {
	kind := "terminal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("gateway error (%s, status %d): %s", kind, e.Status, e.Reason)
}

// IsTransientGatewayError reports whether err is a retryable gateway failure.
func IsTransientGatewayError(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Transient
}
