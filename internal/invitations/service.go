package invitations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/pkg/queue"
	"github.com/approval-polls/backend/pkg/utils"
)

// ErrNotInvitationPoll is returned when inviting voters to a poll that is not invitation-only.
var ErrNotInvitationPoll = errors.New("poll does not use invitations")

// DeliveryFailure is an address whose invitation email could not be queued.
type DeliveryFailure struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// PartialDeliveryError is returned by Invite when some invitation emails could not be queued.
// The invitations themselves were all saved.
type PartialDeliveryError struct {
	Failures []DeliveryFailure
}

func (e *PartialDeliveryError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Email + ": " + f.Reason
	}
	return "queue invitation email: " + strings.Join(parts, "; ")
}

// Store persists invitations.
type Store interface {
	GetOrCreate(ctx context.Context, pollID int64, email, key string) (*models.VoteInvitation, bool, error)
	OwnerTimezone(ctx context.Context, userID uuid.UUID) (string, error)
}

// LogStore records outgoing email.
type LogStore interface {
	Create(ctx context.Context, el *models.EmailLog) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// Enqueuer hands email jobs to the worker.
type Enqueuer interface {
	EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error
}

// Service creates invitations and queues their email.
type Service struct {
	store   Store
	logs    LogStore
	queue   Enqueuer
	baseURL string
	logger  *zap.Logger
}

// NewService creates an invitation service. baseURL is the public origin used in voting links.
func NewService(store Store, logs LogStore, q Enqueuer, baseURL string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logs: logs, queue: q, baseURL: baseURL, logger: logger}
}

// Invite gets or creates an invitation per address and queues an invitation email for each.
// emails must already be normalized. A failed enqueue marks that log row failed; such addresses are
// reported together in a *PartialDeliveryError after the remaining addresses have been processed.
func (s *Service) Invite(ctx context.Context, p *models.Poll, emails []string) ([]models.VoteInvitation, error) {
	if p.VType != models.VoteTypeInvitation {
		return nil, ErrNotInvitationPoll
	}
	loc := s.ownerLocation(ctx, p.UserID)
	subject := Subject(p.Question)

	out := make([]models.VoteInvitation, 0, len(emails))
	var failed []DeliveryFailure
	for _, email := range emails {
		key, err := utils.RandomString(models.InvitationKeyLength)
		if err != nil {
			return out, fmt.Errorf("generate key: %w", err)
		}
		inv, created, err := s.store.GetOrCreate(ctx, p.ID, email, key)
		if err != nil {
			return out, err
		}
		out = append(out, *inv)

		body, err := Render(p, Link(s.baseURL, p.ID, inv.Key, inv.Email), loc)
		if err != nil {
			return out, err
		}
		pollID, invID := p.ID, inv.ID
		el := &models.EmailLog{
			PollID:         &pollID,
			InvitationID:   &invID,
			EmailType:      models.EmailTypeInvitation,
			RecipientEmail: inv.Email,
			Subject:        subject,
		}
		if err := s.logs.Create(ctx, el); err != nil {
			return out, err
		}
		err = s.queue.EnqueueEmail(ctx, queue.EmailPayload{
			EmailLogID:     el.ID,
			PollID:         p.ID,
			InvitationID:   &invID,
			RecipientEmail: inv.Email,
			Subject:        subject,
			BodyHTML:       body,
		})
		if err != nil {
			s.logger.Error("enqueue invitation email failed", zap.Error(err), zap.Int64("invitation_id", invID))
			if mErr := s.logs.MarkFailed(ctx, el.ID, err.Error()); mErr != nil {
				s.logger.Error("mark email log failed", zap.Error(mErr), zap.String("email_log_id", el.ID.String()))
			}
			failed = append(failed, DeliveryFailure{Email: inv.Email, Reason: err.Error()})
			continue
		}
		s.logger.Info("invitation queued",
			zap.Int64("poll_id", p.ID),
			zap.Int64("invitation_id", invID),
			zap.Bool("created", created),
		)
	}
	if len(failed) > 0 {
		return out, &PartialDeliveryError{Failures: failed}
	}
	return out, nil
}

func (s *Service) ownerLocation(ctx context.Context, userID uuid.UUID) *time.Location {
	tz, err := s.store.OwnerTimezone(ctx, userID)
	if err != nil {
		s.logger.Warn("load owner timezone failed", zap.Error(err), zap.String("user_id", userID.String()))
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
