package invitations

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/approval-polls/backend/internal/middleware"
	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/internal/polls"
	"github.com/approval-polls/backend/pkg/database"
	"github.com/approval-polls/backend/pkg/response"
)

// PollReader loads polls.
type PollReader interface {
	GetByID(ctx context.Context, id int64) (*models.Poll, error)
}

// Inviter creates invitations and queues their email.
type Inviter interface {
	Invite(ctx context.Context, p *models.Poll, emails []string) ([]models.VoteInvitation, error)
}

// Lister lists a poll's invitations.
type Lister interface {
	ListByPoll(ctx context.Context, pollID int64) ([]models.VoteInvitation, error)
}

// InviteRequest is the body for POST /polls/:id/invitations.
type InviteRequest struct {
	Emails []string `json:"emails" binding:"required"`
}

// InvitationView is an invitation as shown to the poll owner.
type InvitationView struct {
	models.VoteInvitation
	Voted bool `json:"voted"`
}

// InviteResponse lists the invitations sent and the addresses whose email could not be queued.
type InviteResponse struct {
	Invitations []InvitationView  `json:"invitations"`
	Failed      []DeliveryFailure `json:"failed,omitempty"`
}

// Handler handles invitation HTTP endpoints.
type Handler struct {
	polls   PollReader
	inviter Inviter
	list    Lister
	logger  *zap.Logger
}

// NewHandler creates an invitations handler.
func NewHandler(polls PollReader, inviter Inviter, list Lister, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{polls: polls, inviter: inviter, list: list, logger: logger}
}

// Invite handles POST /polls/:id/invitations (owner).
func (h *Handler) Invite(c *gin.Context) {
	p, ok := h.ownedPoll(c)
	if !ok {
		return
	}
	if p.VType != models.VoteTypeInvitation {
		response.BadRequest(c, "poll does not use invitations")
		return
	}
	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	errs := response.FieldErrors{}
	emails := polls.ValidateEmails(errs, "emails", req.Emails)
	if len(emails) == 0 && errs.Empty() {
		errs.Add("emails", polls.MsgRequired)
	}
	if !errs.Empty() {
		response.ValidationFailed(c, errs)
		return
	}

	invited, err := h.inviter.Invite(c.Request.Context(), p, emails)
	var partial *PartialDeliveryError
	switch {
	case errors.As(err, &partial):
		h.logger.Warn("some invitation emails not queued", zap.Int64("poll_id", p.ID), zap.Int("failed", len(partial.Failures)))
		response.Created(c, InviteResponse{Invitations: views(invited), Failed: partial.Failures})
	case err != nil:
		h.logger.Error("invite voters failed", zap.Error(err), zap.Int64("poll_id", p.ID))
		response.Internal(c, "failed to send invitations")
	default:
		response.Created(c, InviteResponse{Invitations: views(invited)})
	}
}

// List handles GET /polls/:id/invitations (owner).
func (h *Handler) List(c *gin.Context) {
	p, ok := h.ownedPoll(c)
	if !ok {
		return
	}
	list, err := h.list.ListByPoll(c.Request.Context(), p.ID)
	if err != nil {
		h.logger.Error("list invitations failed", zap.Error(err), zap.Int64("poll_id", p.ID))
		response.Internal(c, "failed to load invitations")
		return
	}
	response.OK(c, views(list))
}

func views(list []models.VoteInvitation) []InvitationView {
	out := make([]InvitationView, len(list))
	for i := range list {
		out[i] = InvitationView{VoteInvitation: list[i], Voted: list[i].Voted()}
	}
	return out
}

func (h *Handler) ownedPoll(c *gin.Context) (*models.Poll, bool) {
	pollID, ok := polls.ParseID(c)
	if !ok {
		return nil, false
	}
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return nil, false
	}
	p, err := h.polls.GetByID(c.Request.Context(), pollID)
	if errors.Is(err, database.ErrNotFound) {
		response.NotFound(c, "poll not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("load poll failed", zap.Error(err), zap.Int64("poll_id", pollID))
		response.Internal(c, "failed to load poll")
		return nil, false
	}
	if !p.IsOwner(userID) {
		response.Forbidden(c, "only the poll owner can manage invitations")
		return nil, false
	}
	return p, true
}
