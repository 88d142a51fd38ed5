package results

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/approval-polls/backend/internal/polls"
	"github.com/approval-polls/backend/pkg/response"
)

// Reader serves computed results.
type Reader interface {
	Results(ctx context.Context, pollID int64, seats int) (*Document, error)
	Raw(ctx context.Context, pollID int64) (*RawBallots, error)
}

// Handler handles result endpoints.
type Handler struct {
	reader Reader
	logger *zap.Logger
}

// NewHandler creates a results handler.
func NewHandler(reader Reader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{reader: reader, logger: logger}
}

// Results handles GET /polls/:id/results?seats=N.
func (h *Handler) Results(c *gin.Context) {
	pollID, ok := polls.ParseID(c)
	if !ok {
		return
	}
	seats, err := strconv.Atoi(c.Query("seats"))
	if err != nil {
		seats = DefaultSeats
	}
	doc, err := h.reader.Results(c.Request.Context(), pollID, seats)
	if !h.check(c, err, pollID) {
		return
	}
	response.OK(c, doc)
}

// Raw handles GET /polls/:id/raw.
func (h *Handler) Raw(c *gin.Context) {
	pollID, ok := polls.ParseID(c)
	if !ok {
		return
	}
	raw, err := h.reader.Raw(c.Request.Context(), pollID)
	if !h.check(c, err, pollID) {
		return
	}
	response.OK(c, raw)
}

func (h *Handler) check(c *gin.Context, err error, pollID int64) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrPollNotFound):
		response.NotFound(c, "poll not found")
	default:
		h.logger.Error("load results failed", zap.Error(err), zap.Int64("poll_id", pollID))
		response.Internal(c, "failed to load results")
	}
	return false
}
