package voting

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/approval-polls/backend/internal/middleware"
	"github.com/approval-polls/backend/internal/polls"
	"github.com/approval-polls/backend/pkg/response"
)

// Messages shown to voters.
const (
	MsgPollClosed    = "Sorry! This poll is closed."
	MsgPollSuspended = "This poll has been suspended."
)

// Voter records ballots.
type Voter interface {
	Vote(ctx context.Context, pollID int64, in Input) (int64, error)
}

// VoteRequest is the body for POST /polls/:id/vote.
type VoteRequest struct {
	Choices         []int64 `json:"choices"`
	WriteIn         string  `json:"write_in"`
	Email           string  `json:"email"`
	PermitEmail     bool    `json:"permit_email"`
	InvitationKey   string  `json:"invitation_key"`
	InvitationEmail string  `json:"invitation_email"`
}

// VoteResponse acknowledges a stored ballot.
type VoteResponse struct {
	BallotID   int64  `json:"ballot_id"`
	ResultsURL string `json:"results_url"`
}

// Handler handles the voting endpoint.
type Handler struct {
	voter   Voter
	baseURL string
	logger  *zap.Logger
}

// NewHandler creates a voting handler.
func NewHandler(voter Voter, baseURL string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{voter: voter, baseURL: baseURL, logger: logger}
}

// Vote handles POST /polls/:id/vote.
func (h *Handler) Vote(c *gin.Context) {
	pollID, ok := polls.ParseID(c)
	if !ok {
		return
	}
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID, _ := middleware.UserID(c)

	ballotID, err := h.voter.Vote(c.Request.Context(), pollID, Input{
		UserID:          userID,
		ChoiceIDs:       req.Choices,
		WriteIn:         req.WriteIn,
		Email:           req.Email,
		PermitEmail:     req.PermitEmail,
		InvitationKey:   req.InvitationKey,
		InvitationEmail: req.InvitationEmail,
	})
	switch {
	case err == nil:
		response.OK(c, VoteResponse{
			BallotID:   ballotID,
			ResultsURL: fmt.Sprintf("%s/polls/%d/results", h.baseURL, pollID),
		})
	case errors.Is(err, ErrPollNotFound):
		response.NotFound(c, "poll not found")
	case errors.Is(err, ErrPollClosed):
		response.Forbidden(c, MsgPollClosed)
	case errors.Is(err, ErrPollSuspended):
		response.Forbidden(c, MsgPollSuspended)
	case errors.Is(err, ErrLoginRequired):
		response.Unauthorized(c, err.Error())
	case errors.Is(err, ErrInvitationInvalid):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrUnknownChoice):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrWriteInTooLong):
		response.ValidationFailed(c, response.FieldErrors{"write_in": {polls.MsgTooLong200}})
	case errors.Is(err, ErrInvalidEmail):
		response.ValidationFailed(c, response.FieldErrors{"email": {polls.MsgEmailInvalid}})
	default:
		h.logger.Error("vote failed", zap.Error(err), zap.Int64("poll_id", pollID))
		response.Internal(c, "failed to record ballot")
	}
}
