package models

import (
	"time"

	"github.com/google/uuid"
)

type Specialist struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Headline    string    `json:"headline"`
	Bio         *string   `json:"bio,omitempty"`
	Category    string    `json:"category"`
	City        *string   `json:"city,omitempty"`
	Rating      float64   `json:"rating"`
	ReviewCount int       `json:"review_count"`
	Verified    bool      `json:"verified"`
	CreatedAt   time.Time `json:"created_at"`
}

type Service struct {
	ID           uuid.UUID `json:"id"`
	SpecialistID uuid.UUID `json:"specialist_id"`
	Title        string    `json:"title"`
	Description  *string   `json:"description,omitempty"`
	PriceMinor   int64     `json:"price_minor"`
	Currency     string    `json:"currency"`
	Category     string    `json:"category"`
	CreatedAt    time.Time `json:"created_at"`
}
