package models

import (
	"time"

	"github.com/google/uuid"
)

// VoteType controls who may cast a ballot on a poll.
type VoteType int

const (
	// VoteTypeOpen accepts any number of anonymous ballots.
	VoteTypeOpen VoteType = 1
	// VoteTypeAuthenticated allows one ballot per logged-in user.
	VoteTypeAuthenticated VoteType = 2
	// VoteTypeInvitation allows one ballot per emailed invitation key.
	VoteTypeInvitation VoteType = 3
)

// Valid reports whether v is a known vote type.
func (v VoteType) Valid() bool {
	return v >= VoteTypeOpen && v <= VoteTypeInvitation
}

// Poll is an approval-voting question with its display options.
type Poll struct {
	ID             int64      `json:"id"`
	Question       string     `json:"question"`
	PubDate        time.Time  `json:"pub_date"`
	UserID         uuid.UUID  `json:"user_id"`
	Owner          string     `json:"owner,omitempty"`
	VType          VoteType   `json:"vtype"`
	CloseDate      *time.Time `json:"close_date,omitempty"`
	ShowCloseDate  bool       `json:"show_close_date"`
	ShowCountdown  bool       `json:"show_countdown"`
	ShowWriteIn    bool       `json:"show_write_in"`
	ShowLeadColor  bool       `json:"show_lead_color"`
	ShowEmailOptIn bool       `json:"show_email_opt_in"`
	IsPrivate      bool       `json:"is_private"`
	IsSuspended    bool       `json:"is_suspended"`
	Closed         bool       `json:"closed"`
	TotalBallots   int        `json:"total_ballots"`
	Choices        []Choice   `json:"choices,omitempty"`
	Tags           []string   `json:"tags"`
}

// IsPublished reports whether the poll's publication date has passed.
func (p *Poll) IsPublished(now time.Time) bool {
	return !p.PubDate.After(now)
}

// IsClosed reports whether the poll has a close date in the past.
func (p *Poll) IsClosed(now time.Time) bool {
	return p.CloseDate != nil && now.After(*p.CloseDate)
}

// IsOwner reports whether userID created the poll.
func (p *Poll) IsOwner(userID uuid.UUID) bool {
	return userID != uuid.Nil && p.UserID == userID
}

// Choice is one option on a poll.
type Choice struct {
	ID     int64   `json:"id"`
	PollID int64   `json:"poll_id"`
	Text   string  `json:"choice_text"`
	Link   *string `json:"choice_link,omitempty"`
	Votes  int     `json:"votes"`
}
