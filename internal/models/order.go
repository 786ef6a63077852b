package models

import (
	"time"

	"github.com/google/uuid"
)

// Order statuses (coarse view for listings; the ledger entry is the
// authoritative payment state)
const (
	OrderStatusPending    = "pending"
	OrderStatusInProgress = "in_progress"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
	OrderStatusDisputed   = "disputed"
)

type Order struct {
	ID           uuid.UUID  `json:"id"`
	ServiceID    *uuid.UUID `json:"service_id,omitempty"`
	ClientID     uuid.UUID  `json:"client_id"`
	SpecialistID uuid.UUID  `json:"specialist_id"`
	Title        string     `json:"title"`
	Description  *string    `json:"description,omitempty"`
	Address      *string    `json:"address,omitempty"`
	AmountMinor  int64      `json:"amount_minor"` // immutable once a payment is initiated
	Currency     string     `json:"currency"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// OrderWithNames embeds Order and adds party names to avoid N+1 queries.
type OrderWithNames struct {
	Order
	ClientName     *string `json:"client_name,omitempty"`
	SpecialistName *string `json:"specialist_name,omitempty"`
}
