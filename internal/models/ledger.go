package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry states
const (
	LedgerStateCreated             = "created"
	LedgerStatePendingPayment      = "pending_payment"
	LedgerStateFundsHeld           = "funds_held"
	LedgerStateWorkInProgress      = "work_in_progress"
	LedgerStateCompletionRequested = "completion_requested"
	LedgerStateDisputed            = "disputed"
	LedgerStateReleased            = "released"
	LedgerStateRefunded            = "refunded"
	LedgerStateCancelled           = "cancelled"
)

// Valid state transitions: from -> []to.
// disputed is reachable only once money is held; before that the entry is
// simply cancelled. funds_held -> refunded covers gateway-reported refunds,
// which are authoritative.
var ValidLedgerTransitions = map[string][]string{
	LedgerStateCreated:             {LedgerStatePendingPayment, LedgerStateCancelled},
	LedgerStatePendingPayment:      {LedgerStateFundsHeld, LedgerStateCancelled},
	LedgerStateFundsHeld:           {LedgerStateWorkInProgress, LedgerStateDisputed, LedgerStateRefunded},
	LedgerStateWorkInProgress:      {LedgerStateCompletionRequested, LedgerStateDisputed},
	LedgerStateCompletionRequested: {LedgerStateReleased, LedgerStateDisputed},
	LedgerStateDisputed:            {LedgerStateReleased, LedgerStateRefunded, LedgerStateCancelled},
	LedgerStateReleased:            {},
	LedgerStateRefunded:            {},
	LedgerStateCancelled:           {},
}

func IsValidLedgerTransition(from, to string) bool {
	allowed, ok := ValidLedgerTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalLedgerState(s string) bool {
	return s == LedgerStateReleased || s == LedgerStateRefunded || s == LedgerStateCancelled
}

// Commission computes the platform cut from a gross amount in minor units
// using basis points. Integer math only so representative currency amounts
// never drift: 50000 at 500 bps is exactly 2500.
func Commission(grossMinor int64, feeBPS int) int64 {
	return grossMinor * int64(feeBPS) / 10000
}

// LedgerEntry is the authoritative record of one payment's lifecycle for an
// order. At most one non-terminal entry may exist per order at a time;
// entries are never deleted, only driven to a terminal state.
type LedgerEntry struct {
	ID              uuid.UUID  `json:"id"`
	OrderID         uuid.UUID  `json:"order_id"`
	State           string     `json:"state"`
	AmountMinor     int64      `json:"amount_minor"`
	CommissionMinor int64      `json:"commission_minor"`
	NetMinor        int64      `json:"net_minor"`
	Currency        string     `json:"currency"`
	FeeBPS          int        `json:"fee_bps"`
	IdempotencyKey  string     `json:"idempotency_key"`
	ExternalRef     *string    `json:"external_ref,omitempty"`
	DisputeID       *uuid.UUID `json:"dispute_id,omitempty"`
	Version         int        `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
	TransitionedAt  time.Time  `json:"transitioned_at"`
}

// TransitionSide is the data written atomically with a state change.
type TransitionSide struct {
	ExternalRef *string
	DisputeID   *uuid.UUID
	ReleaseNet  *int64 // payout leg for split resolutions
	RefundMinor *int64 // refund leg (gross, back to the client)
}

// NewLedgerEntry builds an entry in the created state with the fee applied.
func NewLedgerEntry(orderID uuid.UUID, grossMinor int64, currency string, feeBPS int) *LedgerEntry {
	commission := Commission(grossMinor, feeBPS)
	return &LedgerEntry{
		OrderID:         orderID,
		State:           LedgerStateCreated,
		AmountMinor:     grossMinor,
		CommissionMinor: commission,
		NetMinor:        grossMinor - commission,
		Currency:        currency,
		FeeBPS:          feeBPS,
		IdempotencyKey:  uuid.New().String(),
	}
}
