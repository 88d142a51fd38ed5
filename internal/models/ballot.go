package models

import (
	"time"

	"github.com/google/uuid"
)

// Ballot is one voter's set of approvals on a poll. Every approved choice belongs to the ballot's poll.
type Ballot struct {
	ID          int64      `json:"id"`
	PollID      int64      `json:"poll_id"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	Username    string     `json:"username,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
	Email       *string    `json:"email,omitempty"`
	PermitEmail bool       `json:"permit_email"`
	ChoiceIDs   []int64    `json:"choice_ids"`
}
