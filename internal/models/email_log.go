package models

import (
	"time"

	"github.com/google/uuid"
)

// EmailType values.
const (
	EmailTypeInvitation = "invitation"
)

// EmailLogStatus for delivery.
const (
	EmailLogStatusPending = "pending"
	EmailLogStatusSent    = "sent"
	EmailLogStatusFailed  = "failed"
)

// EmailLog records an outgoing email and its delivery state.
type EmailLog struct {
	ID             uuid.UUID  `json:"id"`
	PollID         *int64     `json:"poll_id,omitempty"`
	InvitationID   *int64     `json:"invitation_id,omitempty"`
	EmailType      string     `json:"email_type"`
	RecipientEmail string     `json:"recipient_email"`
	Subject        string     `json:"subject,omitempty"`
	Status         string     `json:"status"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
