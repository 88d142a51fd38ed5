package polls

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/approval-polls/backend/internal/middleware"
	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/pkg/database"
	"github.com/approval-polls/backend/pkg/pagination"
	"github.com/approval-polls/backend/pkg/response"
)

// Store is the poll persistence the handler needs.
type Store interface {
	Page(ctx context.Context, f Filter, page string, size int) ([]models.Poll, pagination.Page, error)
	GetByID(ctx context.Context, id int64) (*models.Poll, error)
	Create(ctx context.Context, p *models.Poll, choices []NewChoice, tags []string) error
	Update(ctx context.Context, p *models.Poll, edits []ChoiceEdit, added []NewChoice) error
	Delete(ctx context.Context, id int64) error
	ToggleSuspended(ctx context.Context, id int64) (bool, error)
}

// ApprovalLookup finds the approvals a returning voter already cast.
type ApprovalLookup interface {
	UserApprovals(ctx context.Context, pollID int64, userID uuid.UUID) ([]int64, error)
	// InvitationApprovals reports whether key and email name an invitation to the poll,
	// and the approvals of its ballot if it has one.
	InvitationApprovals(ctx context.Context, pollID int64, key, email string) (bool, []int64, error)
}

// Inviter creates and sends voting invitations.
type Inviter interface {
	Invite(ctx context.Context, poll *models.Poll, emails []string) ([]models.VoteInvitation, error)
}

// ResultsInvalidator drops cached results once a poll's choices change.
type ResultsInvalidator interface {
	Invalidate(ctx context.Context, pollID int64)
}

// CreateRequest is the body for POST /polls.
type CreateRequest struct {
	Question         string        `json:"question"`
	Choices          []ChoiceInput `json:"choices"`
	VType            int           `json:"vtype"`
	CloseDate        *time.Time    `json:"close_date"`
	ShowCloseDate    bool          `json:"show_close_date"`
	ShowCountdown    bool          `json:"show_countdown"`
	ShowWriteIn      bool          `json:"show_write_in"`
	ShowLeadColor    bool          `json:"show_lead_color"`
	ShowEmailOptIn   bool          `json:"show_email_opt_in"`
	IsPrivate        bool          `json:"is_private"`
	Tags             []string      `json:"tags"`
	InvitationEmails []string      `json:"invitation_emails"`
}

// UpdateRequest is the body for PUT /polls/:id.
type UpdateRequest struct {
	Question       string        `json:"question"`
	CloseDate      *time.Time    `json:"close_date"`
	ShowCloseDate  bool          `json:"show_close_date"`
	ShowCountdown  bool          `json:"show_countdown"`
	ShowWriteIn    bool          `json:"show_write_in"`
	ShowLeadColor  bool          `json:"show_lead_color"`
	ShowEmailOptIn bool          `json:"show_email_opt_in"`
	IsPrivate      bool          `json:"is_private"`
	Choices        []ChoiceInput `json:"choices"`
	NewChoices     []ChoiceInput `json:"new_choices"`
}

// ListResponse is one page of polls.
type ListResponse struct {
	Polls []models.Poll `json:"polls"`
	pagination.Page
}

// DetailResponse is a poll as shown on its voting page.
type DetailResponse struct {
	*models.Poll
	CheckedChoices []int64 `json:"checked_choices"`
	CanVote        bool    `json:"can_vote"`
	LoginRequired  bool    `json:"login_required"`
}

// EmbedResponse carries the link and iframe snippet for embedding a poll.
type EmbedResponse struct {
	Link   string `json:"link"`
	IFrame string `json:"iframe"`
}

// CreateResponse is returned by POST /polls.
type CreateResponse struct {
	Poll        *models.Poll            `json:"poll"`
	Embed       EmbedResponse           `json:"embed"`
	Invitations []models.VoteInvitation `json:"invitations,omitempty"`
}

// Handler handles poll HTTP endpoints.
type Handler struct {
	store     Store
	approvals ApprovalLookup
	inviter   Inviter
	results   ResultsInvalidator
	baseURL   string
	pageSize  int
	now       func() time.Time
	logger    *zap.Logger
}

// NewHandler creates a polls handler. baseURL is the public origin used in poll links; results may be nil.
func NewHandler(store Store, approvals ApprovalLookup, inviter Inviter, results ResultsInvalidator, baseURL string, pageSize int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:     store,
		approvals: approvals,
		inviter:   inviter,
		results:   results,
		baseURL:   baseURL,
		pageSize:  pageSize,
		now:       time.Now,
		logger:    logger,
	}
}

// Index handles GET /polls: published public polls, newest first.
func (h *Handler) Index(c *gin.Context) {
	h.list(c, Filter{})
}

// Mine handles GET /polls/mine: the caller's polls including private ones.
func (h *Handler) Mine(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	h.list(c, Filter{OwnerID: userID, IncludePrivate: true})
}

func (h *Handler) list(c *gin.Context, f Filter) {
	polls, page, err := h.store.Page(c.Request.Context(), f, c.Query("page"), h.pageSize)
	if err != nil {
		h.logger.Error("list polls failed", zap.Error(err))
		response.Internal(c, "failed to list polls")
		return
	}
	now := h.now()
	for i := range polls {
		polls[i].Closed = polls[i].IsClosed(now)
	}
	if polls == nil {
		polls = []models.Poll{}
	}
	response.OK(c, ListResponse{Polls: polls, Page: page})
}

// Detail handles GET /polls/:id and GET /invitation/:id.
func (h *Handler) Detail(c *gin.Context) {
	p, ok := h.published(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	open := !p.Closed && !p.IsSuspended
	out := DetailResponse{Poll: p, CheckedChoices: []int64{}}

	switch p.VType {
	case models.VoteTypeOpen:
		out.CanVote = open
	case models.VoteTypeAuthenticated:
		userID, authed := middleware.UserID(c)
		out.LoginRequired = !authed
		out.CanVote = open && authed
		if authed {
			checked, err := h.approvals.UserApprovals(ctx, p.ID, userID)
			if err != nil {
				h.logger.Error("load approvals failed", zap.Error(err), zap.Int64("poll_id", p.ID))
				response.Internal(c, "failed to load poll")
				return
			}
			out.CheckedChoices = nonNil(checked)
		}
	case models.VoteTypeInvitation:
		key, email := c.Query("key"), c.Query("email")
		if key != "" && email != "" {
			valid, checked, err := h.approvals.InvitationApprovals(ctx, p.ID, key, email)
			if err != nil {
				h.logger.Error("load invitation failed", zap.Error(err), zap.Int64("poll_id", p.ID))
				response.Internal(c, "failed to load poll")
				return
			}
			out.CanVote = open && valid
			out.CheckedChoices = nonNil(checked)
		}
	}
	response.OK(c, out)
}

// Create handles POST /polls.
func (h *Handler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	errs := response.FieldErrors{}
	question := validateQuestion(errs, req.Question)
	choices := validateNewChoices(errs, "choices", req.Choices)
	if len(choices) == 0 {
		errs.Add("choices", MsgChoiceRequired)
	}
	vtype := validateVType(errs, req.VType)
	validateCloseDate(errs, req.CloseDate, h.now())
	tagList := validateTags(errs, req.Tags)
	var emails []string
	if vtype == models.VoteTypeInvitation {
		emails = ValidateEmails(errs, "invitation_emails", req.InvitationEmails)
	}
	if !errs.Empty() {
		response.ValidationFailed(c, errs)
		return
	}

	p := &models.Poll{
		Question:       question,
		UserID:         userID,
		VType:          vtype,
		CloseDate:      req.CloseDate,
		ShowCloseDate:  req.ShowCloseDate,
		ShowCountdown:  req.ShowCountdown,
		ShowWriteIn:    req.ShowWriteIn,
		ShowLeadColor:  req.ShowLeadColor,
		ShowEmailOptIn: req.ShowEmailOptIn,
		IsPrivate:      req.IsPrivate,
	}
	ctx := c.Request.Context()
	if err := h.store.Create(ctx, p, choices, tagList); err != nil {
		h.logger.Error("create poll failed", zap.Error(err))
		response.Internal(c, "failed to create poll")
		return
	}
	h.logger.Info("poll created", zap.Int64("poll_id", p.ID), zap.String("user_id", userID.String()), zap.Int("vtype", int(p.VType)))

	out := CreateResponse{Poll: p, Embed: h.embed(p.ID)}
	if len(emails) > 0 {
		invitations, err := h.inviter.Invite(ctx, p, emails)
		if err != nil {
			// The poll is kept; invitations can be re-sent from POST /polls/:id/invitations.
			h.logger.Error("invite voters failed", zap.Error(err), zap.Int64("poll_id", p.ID))
		}
		out.Invitations = invitations
	}
	response.Created(c, out)
}

// Embed handles GET /polls/:id/embed.
func (h *Handler) Embed(c *gin.Context) {
	p, ok := h.published(c)
	if !ok {
		return
	}
	response.OK(c, h.embed(p.ID))
}

func (h *Handler) embed(id int64) EmbedResponse {
	link := fmt.Sprintf("%s/polls/%d", h.baseURL, id)
	return EmbedResponse{
		Link:   link,
		IFrame: fmt.Sprintf(`<iframe src="%s" width="400px" height="600px" frameborder="0"></iframe>`, html.EscapeString(link)),
	}
}

// Update handles PUT /polls/:id (owner).
func (h *Handler) Update(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	errs := response.FieldErrors{}
	question := validateQuestion(errs, req.Question)
	edits := validateChoiceEdits(errs, "choices", req.Choices)
	added := validateNewChoices(errs, "new_choices", req.NewChoices)
	if !sameTime(p.CloseDate, req.CloseDate) {
		validateCloseDate(errs, req.CloseDate, h.now())
	}
	if !errs.Empty() {
		response.ValidationFailed(c, errs)
		return
	}

	p.Question = question
	p.CloseDate = req.CloseDate
	p.ShowCloseDate = req.ShowCloseDate
	p.ShowCountdown = req.ShowCountdown
	p.ShowWriteIn = req.ShowWriteIn
	p.ShowLeadColor = req.ShowLeadColor
	p.ShowEmailOptIn = req.ShowEmailOptIn
	p.IsPrivate = req.IsPrivate

	ctx := c.Request.Context()
	err := h.store.Update(ctx, p, edits, added)
	switch {
	case errors.Is(err, ErrChoiceNotInPoll):
		response.ValidationFailed(c, response.FieldErrors{"choices": {MsgChoiceUnknown}})
		return
	case errors.Is(err, database.ErrNotFound):
		response.NotFound(c, "poll not found")
		return
	case err != nil:
		h.logger.Error("update poll failed", zap.Error(err), zap.Int64("poll_id", p.ID))
		response.Internal(c, "failed to update poll")
		return
	}
	h.invalidateResults(ctx, p.ID)
	updated, err := h.store.GetByID(ctx, p.ID)
	if err != nil {
		response.Internal(c, "failed to load poll")
		return
	}
	updated.Closed = updated.IsClosed(h.now())
	response.OK(c, updated)
}

// Delete handles DELETE /polls/:id (owner).
func (h *Handler) Delete(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	if err := h.store.Delete(c.Request.Context(), p.ID); err != nil && !errors.Is(err, database.ErrNotFound) {
		h.logger.Error("delete poll failed", zap.Error(err), zap.Int64("poll_id", p.ID))
		response.Internal(c, "failed to delete poll")
		return
	}
	h.invalidateResults(c.Request.Context(), p.ID)
	h.logger.Info("poll deleted", zap.Int64("poll_id", p.ID))
	response.NoContent(c)
}

// Suspension handles POST /polls/:id/suspension (owner): toggles whether the poll accepts ballots.
func (h *Handler) Suspension(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	suspended, err := h.store.ToggleSuspended(c.Request.Context(), p.ID)
	if err != nil {
		h.logger.Error("toggle suspension failed", zap.Error(err), zap.Int64("poll_id", p.ID))
		response.Internal(c, "failed to change suspension")
		return
	}
	response.OK(c, gin.H{"id": p.ID, "is_suspended": suspended})
}

func (h *Handler) invalidateResults(ctx context.Context, pollID int64) {
	if h.results != nil {
		h.results.Invalidate(ctx, pollID)
	}
}

// ParseID reads the :id path parameter.
func ParseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid poll id")
		return 0, false
	}
	return id, true
}

func (h *Handler) load(c *gin.Context) (*models.Poll, bool) {
	id, ok := ParseID(c)
	if !ok {
		return nil, false
	}
	p, err := h.store.GetByID(c.Request.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		response.NotFound(c, "poll not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("load poll failed", zap.Error(err), zap.Int64("poll_id", id))
		response.Internal(c, "failed to load poll")
		return nil, false
	}
	p.Closed = p.IsClosed(h.now())
	return p, true
}

func (h *Handler) published(c *gin.Context) (*models.Poll, bool) {
	p, ok := h.load(c)
	if !ok {
		return nil, false
	}
	if !p.IsPublished(h.now()) {
		response.NotFound(c, "poll not found")
		return nil, false
	}
	return p, true
}

func (h *Handler) owned(c *gin.Context) (*models.Poll, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return nil, false
	}
	p, ok := h.load(c)
	if !ok {
		return nil, false
	}
	if !p.IsOwner(userID) {
		response.Forbidden(c, "only the poll owner can do that")
		return nil, false
	}
	return p, true
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
