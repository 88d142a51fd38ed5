package emaillogs

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/approval-polls/backend/internal/middleware"
	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/internal/polls"
	"github.com/approval-polls/backend/pkg/database"
	"github.com/approval-polls/backend/pkg/response"
)

// Lister lists a poll's email logs.
type Lister interface {
	ListByPoll(ctx context.Context, pollID int64) ([]models.EmailLog, error)
}

// OwnerLookup resolves who created a poll.
type OwnerLookup interface {
	OwnerOf(ctx context.Context, pollID int64) (uuid.UUID, error)
}

// Handler handles email log HTTP endpoints.
type Handler struct {
	logs   Lister
	owners OwnerLookup
	logger *zap.Logger
}

// NewHandler creates an email logs handler.
func NewHandler(logs Lister, owners OwnerLookup, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logs: logs, owners: owners, logger: logger}
}

// ListByPoll handles GET /polls/:id/emails (owner).
func (h *Handler) ListByPoll(c *gin.Context) {
	pollID, ok := polls.ParseID(c)
	if !ok {
		return
	}
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	ctx := c.Request.Context()
	owner, err := h.owners.OwnerOf(ctx, pollID)
	if errors.Is(err, database.ErrNotFound) {
		response.NotFound(c, "poll not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load poll")
		return
	}
	if owner != userID {
		response.Forbidden(c, "only the poll owner can view its email log")
		return
	}
	logs, err := h.logs.ListByPoll(ctx, pollID)
	if err != nil {
		h.logger.Error("list email logs failed", zap.Error(err), zap.Int64("poll_id", pollID))
		response.Internal(c, "failed to load email logs")
		return
	}
	response.OK(c, logs)
}
