package tags

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/approval-polls/backend/internal/middleware"
	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/pkg/database"
	"github.com/approval-polls/backend/pkg/pagination"
	"github.com/approval-polls/backend/pkg/response"
)

// Store is the tag persistence the handler needs.
type Store interface {
	Attach(ctx context.Context, pollID int64, tags []string) error
	Detach(ctx context.Context, pollID int64, tag string) (bool, error)
	ListForPoll(ctx context.Context, pollID int64) ([]string, error)
	ListAll(ctx context.Context) ([]models.Tag, error)
}

// PollSource resolves poll ownership and lists tagged polls.
type PollSource interface {
	OwnerOf(ctx context.Context, pollID int64) (uuid.UUID, error)
	PageTagged(ctx context.Context, tag, page string, size int) ([]models.Poll, pagination.Page, error)
}

// ResultsInvalidator drops cached results of a poll.
type ResultsInvalidator interface {
	Invalidate(ctx context.Context, pollID int64)
}

// TagsRequest is the body for POST /polls/:id/tags.
type TagsRequest struct {
	Tags []string `json:"tags" binding:"required"`
}

// TaggedPollsResponse is a page of polls carrying one tag.
type TaggedPollsResponse struct {
	Tag   string        `json:"tag"`
	Polls []models.Poll `json:"polls"`
	pagination.Page
}

// Handler handles tag HTTP endpoints.
type Handler struct {
	store    Store
	polls    PollSource
	results  ResultsInvalidator
	pageSize int
	logger   *zap.Logger
}

// NewHandler creates a tags handler. results may be nil.
func NewHandler(store Store, polls PollSource, results ResultsInvalidator, pageSize int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, polls: polls, results: results, pageSize: pageSize, logger: logger}
}

// Add handles POST /polls/:id/tags (owner).
func (h *Handler) Add(c *gin.Context) {
	pollID, ok := h.ownedPoll(c)
	if !ok {
		return
	}
	var req TagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	normalized, err := NormalizeAll(req.Tags)
	if err != nil {
		response.ValidationFailed(c, response.FieldErrors{"tags": {err.Error()}})
		return
	}
	ctx := c.Request.Context()
	if err := h.store.Attach(ctx, pollID, normalized); err != nil {
		h.logger.Error("attach tags failed", zap.Error(err), zap.Int64("poll_id", pollID))
		response.Internal(c, "failed to add tags")
		return
	}
	h.invalidateResults(ctx, pollID)
	current, err := h.store.ListForPoll(ctx, pollID)
	if err != nil {
		response.Internal(c, "failed to load tags")
		return
	}
	response.OK(c, gin.H{"tags": nonNil(current)})
}

// Remove handles DELETE /polls/:id/tags/:tag (owner).
func (h *Handler) Remove(c *gin.Context) {
	pollID, ok := h.ownedPoll(c)
	if !ok {
		return
	}
	tag, err := Normalize(c.Param("tag"))
	if err != nil || tag == "" {
		response.BadRequest(c, "invalid tag")
		return
	}
	removed, err := h.store.Detach(c.Request.Context(), pollID, tag)
	if err != nil {
		h.logger.Error("detach tag failed", zap.Error(err), zap.Int64("poll_id", pollID))
		response.Internal(c, "failed to remove tag")
		return
	}
	if !removed {
		response.NotFound(c, "tag not found on poll")
		return
	}
	h.invalidateResults(c.Request.Context(), pollID)
	response.NoContent(c)
}

// Polls handles GET /tags/:tag/polls.
func (h *Handler) Polls(c *gin.Context) {
	tag, err := Normalize(c.Param("tag"))
	if err != nil || tag == "" {
		response.BadRequest(c, "invalid tag")
		return
	}
	polls, page, err := h.polls.PageTagged(c.Request.Context(), tag, c.Query("page"), h.pageSize)
	if err != nil {
		h.logger.Error("list tagged polls failed", zap.Error(err), zap.String("tag", tag))
		response.Internal(c, "failed to list polls")
		return
	}
	if polls == nil {
		polls = []models.Poll{}
	}
	response.OK(c, TaggedPollsResponse{Tag: tag, Polls: polls, Page: page})
}

// List handles GET /tags.
func (h *Handler) List(c *gin.Context) {
	list, err := h.store.ListAll(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to list tags")
		return
	}
	if list == nil {
		list = []models.Tag{}
	}
	response.OK(c, list)
}

// Cloud handles GET /tags/cloud.
func (h *Handler) Cloud(c *gin.Context) {
	list, err := h.store.ListAll(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to build tag cloud")
		return
	}
	response.OK(c, Cloud(list))
}

func (h *Handler) invalidateResults(ctx context.Context, pollID int64) {
	if h.results != nil {
		h.results.Invalidate(ctx, pollID)
	}
}

func (h *Handler) ownedPoll(c *gin.Context) (int64, bool) {
	pollID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return 0, false
	}
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return 0, false
	}
	owner, err := h.polls.OwnerOf(c.Request.Context(), pollID)
	if errors.Is(err, database.ErrNotFound) {
		response.NotFound(c, "poll not found")
		return 0, false
	}
	if err != nil {
		response.Internal(c, "failed to load poll")
		return 0, false
	}
	if owner != userID {
		response.Forbidden(c, "only the poll owner can change its tags")
		return 0, false
	}
	return pollID, true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
