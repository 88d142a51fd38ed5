package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription records a user's newsletter opt-in.
type Subscription struct {
	ID        int64     `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Zipcode   string    `json:"zipcode"`
	CreatedAt time.Time `json:"created_at"`
}
