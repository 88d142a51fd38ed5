package admin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/internal/polls"
	"github.com/approval-polls/backend/pkg/database"
	"github.com/approval-polls/backend/pkg/pagination"
	"github.com/approval-polls/backend/pkg/response"
	"github.com/approval-polls/backend/pkg/storage"
)

// PollStore searches and loads polls.
type PollStore interface {
	Page(ctx context.Context, f polls.Filter, page string, size int) ([]models.Poll, pagination.Page, error)
	GetByID(ctx context.Context, id int64) (*models.Poll, error)
}

// Exporter reads export rows.
type Exporter interface {
	Polls(ctx context.Context) ([]PollRow, error)
	Ballots(ctx context.Context, pollID int64) ([]models.Ballot, error)
}

// ObjectStore uploads exports and signs download links. *storage.S3 implements it.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) error
	GeneratePresignedDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error)
	PresignExpire() time.Duration
}

// SearchResponse is one page of search results.
type SearchResponse struct {
	Query string        `json:"q"`
	Polls []models.Poll `json:"polls"`
	pagination.Page
}

// ExportResponse points at an uploaded export.
type ExportResponse struct {
	URL       string `json:"url"`
	Key       string `json:"key"`
	ExpiresIn int    `json:"expires_in"`
}

// Handler handles staff endpoints.
type Handler struct {
	polls    PollStore
	exporter Exporter
	objects  ObjectStore
	pageSize int
	now      func() time.Time
	logger   *zap.Logger
}

// NewHandler creates an admin handler. objects may be nil, in which case exports are streamed.
func NewHandler(polls PollStore, exporter Exporter, objects ObjectStore, pageSize int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{polls: polls, exporter: exporter, objects: objects, pageSize: pageSize, now: time.Now, logger: logger}
}

// Search handles GET /admin/polls?q=&page=.
func (h *Handler) Search(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	f := polls.Filter{Query: q, IncludePrivate: true, IncludeUnpublished: true}
	list, page, err := h.polls.Page(c.Request.Context(), f, c.Query("page"), h.pageSize)
	if err != nil {
		h.logger.Error("search polls failed", zap.Error(err))
		response.Internal(c, "failed to search polls")
		return
	}
	if list == nil {
		list = []models.Poll{}
	}
	response.OK(c, SearchResponse{Query: q, Polls: list, Page: page})
}

// ExportPolls handles GET /admin/export/polls.
func (h *Handler) ExportPolls(c *gin.Context) {
	rows, err := h.exporter.Polls(c.Request.Context())
	if err != nil {
		h.logger.Error("export polls failed", zap.Error(err))
		response.Internal(c, "failed to export polls")
		return
	}
	var buf bytes.Buffer
	if err := WritePollsCSV(&buf, rows); err != nil {
		response.Internal(c, "failed to export polls")
		return
	}
	h.deliver(c, fmt.Sprintf("polls-%s.csv", h.now().UTC().Format("20060102-150405")), &buf)
}

// ExportBallots handles GET /admin/export/polls/:id/ballots.
func (h *Handler) ExportBallots(c *gin.Context) {
	pollID, ok := polls.ParseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	p, err := h.polls.GetByID(ctx, pollID)
	if errors.Is(err, database.ErrNotFound) {
		response.NotFound(c, "poll not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load poll")
		return
	}
	ballots, err := h.exporter.Ballots(ctx, pollID)
	if err != nil {
		h.logger.Error("export ballots failed", zap.Error(err), zap.Int64("poll_id", pollID))
		response.Internal(c, "failed to export ballots")
		return
	}
	var buf bytes.Buffer
	if err := WriteBallotsCSV(&buf, p.Choices, ballots); err != nil {
		response.Internal(c, "failed to export ballots")
		return
	}
	h.deliver(c, fmt.Sprintf("poll-%d-ballots-%s.csv", pollID, h.now().UTC().Format("20060102-150405")), &buf)
}

// deliver uploads the export and returns a signed link, or streams it when no object store is configured.
func (h *Handler) deliver(c *gin.Context, name string, buf *bytes.Buffer) {
	if h.objects == nil {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		c.Data(http.StatusOK, storage.ContentTypeCSV, buf.Bytes())
		return
	}
	ctx := c.Request.Context()
	key := storage.ExportKey(h.now(), name)
	if err := h.objects.Upload(ctx, key, storage.ContentTypeCSV, buf); err != nil {
		h.logger.Error("upload export failed", zap.Error(err), zap.String("key", key))
		response.Internal(c, "failed to store export")
		return
	}
	expires := h.objects.PresignExpire()
	url, err := h.objects.GeneratePresignedDownloadURL(ctx, key, expires)
	if err != nil {
		h.logger.Error("presign export failed", zap.Error(err), zap.String("key", key))
		response.Internal(c, "failed to sign export link")
		return
	}
	response.OK(c, ExportResponse{URL: url, Key: key, ExpiresIn: int(expires.Seconds())})
}
