package auth

import (
	"time"

	"github.com/google/uuid"
)

// User represents an authenticated account owning businesses.
type User struct {
	ID           uuid.UUID
	Email        string
	DisplayName  string
	PasswordHash string
	IsActive     bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
