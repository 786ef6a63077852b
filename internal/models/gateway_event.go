package models

import (
	"time"

	"github.com/google/uuid"
)

// Normalized gateway outcomes
const (
	GatewayOutcomeCaptured = "captured"
	GatewayOutcomeFailed   = "failed"
	GatewayOutcomeRefunded = "refunded"
)

// GatewayEvent is a durably queued inbound webhook. ProviderEventID is
// unique, so redelivery inserts nothing and the event is applied exactly
// once. Sequence orders events for the same payment; stale events are
// marked processed as no-ops.
type GatewayEvent struct {
	ID              uuid.UUID  `json:"id"`
	ProviderEventID string     `json:"provider_event_id"`
	LedgerID        uuid.UUID  `json:"ledger_id"`
	ExternalRef     string     `json:"external_ref"`
	Outcome         string     `json:"outcome"`
	Sequence        int64      `json:"sequence"`
	RawPayload      []byte     `json:"-"`
	ReceivedAt      time.Time  `json:"received_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ProcessNote     *string    `json:"process_note,omitempty"`
}
