// Package voting records approval ballots.
package voting

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/pkg/database"
	"github.com/approval-polls/backend/pkg/utils"
)

// Vote rejections.
var (
	ErrPollNotFound      = errors.New("poll not found")
	ErrPollClosed        = errors.New("poll is closed")
	ErrPollSuspended     = errors.New("poll is suspended")
	ErrLoginRequired     = errors.New("you must be logged in to vote on this poll")
	ErrInvitationInvalid = errors.New("invalid invitation key or email")
	ErrUnknownChoice     = errors.New("choice does not belong to this poll")
	ErrWriteInTooLong    = errors.New("write-in must be at most 200 characters")
	ErrInvalidEmail      = errors.New("invalid email address")
)

const maxWriteInLength = 200

// PollReader loads polls with their choices.
type PollReader interface {
	GetByID(ctx context.Context, id int64) (*models.Poll, error)
}

// Store persists ballots.
type Store interface {
	FindInvitation(ctx context.Context, pollID int64, key, email string) (*models.VoteInvitation, error)
	Cast(ctx context.Context, p CastParams) (int64, error)
}

// BallotListener is told after every stored ballot.
type BallotListener interface {
	BallotCast(ctx context.Context, pollID int64)
}

// Input is a ballot submission.
type Input struct {
	UserID          uuid.UUID
	ChoiceIDs       []int64
	WriteIn         string
	Email           string
	PermitEmail     bool
	InvitationKey   string
	InvitationEmail string
}

// Service validates and records ballots.
type Service struct {
	polls    PollReader
	store    Store
	listener BallotListener
	now      func() time.Time
	logger   *zap.Logger
}

// NewService creates a voting service. listener may be nil.
func NewService(polls PollReader, store Store, listener BallotListener, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{polls: polls, store: store, listener: listener, now: time.Now, logger: logger}
}

// Vote records in as a ballot on the poll and returns the ballot id.
func (s *Service) Vote(ctx context.Context, pollID int64, in Input) (int64, error) {
	p, err := s.polls.GetByID(ctx, pollID)
	if errors.Is(err, database.ErrNotFound) {
		return 0, ErrPollNotFound
	}
	if err != nil {
		return 0, err
	}
	now := s.now()
	switch {
	case !p.IsPublished(now):
		return 0, ErrPollNotFound
	case p.IsClosed(now):
		return 0, ErrPollClosed
	case p.IsSuspended:
		return 0, ErrPollSuspended
	}

	params := CastParams{PollID: p.ID, VType: p.VType}
	if params.ChoiceIDs, err = pollChoices(p, in.ChoiceIDs); err != nil {
		return 0, err
	}
	if p.ShowWriteIn {
		params.WriteIn = strings.TrimSpace(in.WriteIn)
		if utf8.RuneCountInString(params.WriteIn) > maxWriteInLength {
			return 0, ErrWriteInTooLong
		}
	}
	if p.ShowEmailOptIn && strings.TrimSpace(in.Email) != "" {
		email := utils.NormalizeEmail(in.Email)
		if !utils.ValidEmail(email) {
			return 0, ErrInvalidEmail
		}
		params.Email = &email
		params.PermitEmail = in.PermitEmail
	}

	switch p.VType {
	case models.VoteTypeAuthenticated:
		if in.UserID == uuid.Nil {
			return 0, ErrLoginRequired
		}
		params.UserID = in.UserID
	case models.VoteTypeInvitation:
		if in.InvitationKey == "" || in.InvitationEmail == "" {
			return 0, ErrInvitationInvalid
		}
		inv, err := s.store.FindInvitation(ctx, p.ID, in.InvitationKey, strings.TrimSpace(in.InvitationEmail))
		if errors.Is(err, database.ErrNotFound) {
			return 0, ErrInvitationInvalid
		}
		if err != nil {
			return 0, err
		}
		params.InvitationID = inv.ID
	}

	ballotID, err := s.store.Cast(ctx, params)
	if errors.Is(err, database.ErrNotFound) {
		return 0, ErrInvitationInvalid
	}
	if err != nil {
		return 0, err
	}
	s.logger.Info("ballot cast",
		zap.Int64("poll_id", p.ID),
		zap.Int64("ballot_id", ballotID),
		zap.Int("vtype", int(p.VType)),
		zap.Int("approvals", len(params.ChoiceIDs)),
	)
	if s.listener != nil {
		s.listener.BallotCast(ctx, p.ID)
	}
	return ballotID, nil
}

// pollChoices collapses duplicate ids and rejects ids of other polls.
func pollChoices(p *models.Poll, ids []int64) ([]int64, error) {
	valid := make(map[int64]bool, len(p.Choices))
	for _, c := range p.Choices {
		valid[c.ID] = true
	}
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !valid[id] {
			return nil, ErrUnknownChoice
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}
