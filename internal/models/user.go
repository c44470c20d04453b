package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID                    uuid.UUID  `json:"id"`
	Email                 string     `json:"email" example:"user@example.com"` // User email
	VirtualBalanceResetAt *time.Time `json:"virtual_balance_reset_at"`
	VirtualBalanceBlownAt *time.Time `json:"virtual_balance_blown_at"`
	CreatedAt             time.Time  `json:"created_at"`
}
