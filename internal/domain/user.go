package domain

import (
	"github.com/google/uuid"
)

// User is the subset of the users table the realtime core reads
type User struct {
	UserID   uuid.UUID `json:"user_id" db:"id"`
	Username string    `json:"username" db:"username"`
	Role     string    `json:"role" db:"role"`
	IsActive bool      `json:"is_active" db:"is_active"`
}
