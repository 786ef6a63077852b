package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles
const (
	RoleClient     = "client"
	RoleSpecialist = "specialist"
	RoleArbiter    = "arbiter"
)

func IsValidRole(r string) bool {
	return r == RoleClient || r == RoleSpecialist || r == RoleArbiter
}

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}
