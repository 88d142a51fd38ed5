package models

import "time"

// InvitationKeyLength is the number of characters in a voting key.
const InvitationKeyLength = 64

// VoteInvitation grants one email address a ballot on an invitation-only poll.
type VoteInvitation struct {
	ID       int64      `json:"id"`
	PollID   int64      `json:"poll_id"`
	Email    string     `json:"email"`
	BallotID *int64     `json:"ballot_id,omitempty"`
	SentDate *time.Time `json:"sent_date,omitempty"`
	Key      string     `json:"-"`
}

// Voted reports whether the invitation has produced a ballot.
func (i *VoteInvitation) Voted() bool { return i.BallotID != nil }
