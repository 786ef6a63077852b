package models

import (
	"time"

	"github.com/google/uuid"
)

type Review struct {
	ID           uuid.UUID `json:"id"`
	OrderID      uuid.UUID `json:"order_id"`
	ClientID     uuid.UUID `json:"client_id"`
	SpecialistID uuid.UUID `json:"specialist_id"`
	Rating       int       `json:"rating"` // 1..5
	Text         *string   `json:"text,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
