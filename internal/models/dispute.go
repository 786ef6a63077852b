package models

import (
	"time"

	"github.com/google/uuid"
)

// Dispute resolutions
const (
	ResolutionRefundClient      = "refund_client"
	ResolutionReleaseSpecialist = "release_specialist"
	ResolutionSplit             = "split"
)

func IsValidResolution(r string) bool {
	return r == ResolutionRefundClient || r == ResolutionReleaseSpecialist || r == ResolutionSplit
}

// Dispute freezes its ledger entry's happy path until an arbiter resolves
// it. Resolutions are final.
type Dispute struct {
	ID            uuid.UUID  `json:"id"`
	LedgerID      uuid.UUID  `json:"ledger_id"`
	OrderID       uuid.UUID  `json:"order_id"`
	OpenerID      uuid.UUID  `json:"opener_id"`
	Reason        string     `json:"reason"`
	Resolution    *string    `json:"resolution,omitempty"`
	ArbiterID     *uuid.UUID `json:"arbiter_id,omitempty"`
	SplitNetMinor *int64     `json:"split_net_minor,omitempty"` // specialist leg when resolution = split
	OpenedAt      time.Time  `json:"opened_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}
