package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/approval-polls/backend/internal/middleware"
	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/pkg/database"
	"github.com/approval-polls/backend/pkg/response"
	"github.com/approval-polls/backend/pkg/utils"
)

var (
	ErrUsernameTaken = errors.New("username taken")
	ErrEmailTaken    = errors.New("email taken")
)

// UserStore is the user persistence the handler needs.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByLogin(ctx context.Context, login string) (*models.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, p CreateUserParams) (*models.User, error)
	UpdateUsername(ctx context.Context, id uuid.UUID, username string) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	UpdateTimezone(ctx context.Context, id uuid.UUID, tz string) error
	TouchLastLogin(ctx context.Context, id uuid.UUID) error
}

// SubscriptionStore manages newsletter opt-ins.
type SubscriptionStore interface {
	GetByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	Upsert(ctx context.Context, userID uuid.UUID, zipcode string) (*models.Subscription, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}

// PollLister lists the polls a user created.
type PollLister interface {
	ListOwned(ctx context.Context, userID uuid.UUID) ([]models.Poll, error)
}

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	Newsletter      bool   `json:"newsletter"`
	Zipcode         string `json:"zipcode"`
}

// LoginRequest is the body for POST /auth/login. Login is a username or an email.
type LoginRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// GoogleRequest is the body for POST /auth/google.
type GoogleRequest struct {
	Credential string `json:"credential" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string            `json:"token"`
	User  models.UserPublic `json:"user"`
}

// Handler handles auth and account HTTP endpoints.
type Handler struct {
	users  UserStore
	subs   SubscriptionStore
	polls  PollLister
	google GoogleVerifier
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(users UserStore, subs SubscriptionStore, polls PollLister, google GoogleVerifier, jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{users: users, subs: subs, polls: polls, google: google, jwt: jwt, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	req.Username = strings.TrimSpace(req.Username)
	req.Email = utils.NormalizeEmail(req.Email)

	errs := response.FieldErrors{}
	ValidateUsername(errs, "username", req.Username)
	if req.Email == "" {
		errs.Add("email", MsgRequired)
	} else if !utils.ValidEmail(req.Email) {
		errs.Add("email", MsgEmailInvalid)
	}
	ValidateNewPassword(errs, "password", "password_confirm", req.Password, req.PasswordConfirm)
	if req.Newsletter {
		ValidateZipcode(errs, "zipcode", req.Zipcode)
	}
	if _, bad := errs["username"]; !bad {
		taken, err := h.users.UsernameExists(ctx, req.Username)
		if err != nil {
			h.logger.Error("check username failed", zap.Error(err))
			response.Internal(c, "failed to register")
			return
		}
		if taken {
			errs.Add("username", MsgUsernameTaken)
		}
	}
	if _, bad := errs["email"]; !bad {
		taken, err := h.users.EmailExists(ctx, req.Email)
		if err != nil {
			h.logger.Error("check email failed", zap.Error(err))
			response.Internal(c, "failed to register")
			return
		}
		if taken {
			errs.Add("email", MsgEmailTaken)
		}
	}
	if !errs.Empty() {
		response.ValidationFailed(c, errs)
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}
	user, err := h.users.Create(ctx, CreateUserParams{Username: req.Username, Email: req.Email, PasswordHash: hash})
	switch {
	case errors.Is(err, ErrUsernameTaken):
		response.ValidationFailed(c, response.FieldErrors{"username": {MsgUsernameTaken}})
		return
	case errors.Is(err, ErrEmailTaken):
		response.ValidationFailed(c, response.FieldErrors{"email": {MsgEmailTaken}})
		return
	case err != nil:
		h.logger.Error("create user failed", zap.Error(err))
		response.Internal(c, "failed to create user")
		return
	}

	if req.Newsletter {
		if _, err := h.subs.Upsert(ctx, user.ID, strings.TrimSpace(req.Zipcode)); err != nil {
			h.logger.Error("create subscription failed", zap.Error(err), zap.String("user_id", user.ID.String()))
		}
	}
	h.respondWithToken(c, user, true)
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	user, err := h.users.GetByLogin(c.Request.Context(), strings.TrimSpace(req.Login))
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			h.logger.Error("lookup user failed", zap.Error(err))
		}
		response.Unauthorized(c, "invalid username or password")
		return
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		response.Unauthorized(c, "invalid username or password")
		return
	}
	if err := h.users.TouchLastLogin(c.Request.Context(), user.ID); err != nil {
		h.logger.Warn("update last login failed", zap.Error(err))
	}
	h.respondWithToken(c, user, false)
}

// Google handles POST /auth/google: sign in (creating the account on first use) with a Google ID token.
func (h *Handler) Google(c *gin.Context) {
	var req GoogleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	identity, err := h.google.Verify(ctx, req.Credential)
	if errors.Is(err, ErrGoogleNotConfigured) {
		response.ServiceUnavailable(c, "google sign-in is not available")
		return
	}
	if err != nil {
		h.logger.Info("google token rejected", zap.Error(err))
		response.Unauthorized(c, "invalid google credential")
		return
	}

	email := utils.NormalizeEmail(identity.Email)
	user, err := h.users.GetByEmail(ctx, email)
	if errors.Is(err, database.ErrNotFound) {
		user, err = h.createGoogleUser(ctx, email)
	}
	if err != nil {
		h.logger.Error("google sign-in failed", zap.Error(err))
		response.Internal(c, "failed to sign in")
		return
	}
	if err := h.users.TouchLastLogin(ctx, user.ID); err != nil {
		h.logger.Warn("update last login failed", zap.Error(err))
	}
	h.respondWithToken(c, user, false)
}

func (h *Handler) createGoogleUser(ctx context.Context, email string) (*models.User, error) {
	base := UsernameFromEmail(email)
	for i := 0; i < 100; i++ {
		candidate := base
		if i > 0 {
			suffix := fmt.Sprintf("%d", i)
			if len(base)+len(suffix) > MaxUsernameLength {
				candidate = base[:MaxUsernameLength-len(suffix)]
			}
			candidate += suffix
		}
		taken, err := h.users.UsernameExists(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if taken {
			continue
		}
		user, err := h.users.Create(ctx, CreateUserParams{Username: candidate, Email: email})
		if errors.Is(err, ErrUsernameTaken) {
			continue
		}
		return user, err
	}
	return nil, fmt.Errorf("no free username for %s", base)
}

func (h *Handler) respondWithToken(c *gin.Context, user *models.User, created bool) {
	token, err := h.jwt.Generate(user)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	body := TokenResponse{Token: token, User: user.ToPublic()}
	if created {
		response.Created(c, body)
		return
	}
	response.OK(c, body)
}

// MeResponse is the account overview returned by GET /accounts/me.
type MeResponse struct {
	User         models.UserPublic    `json:"user"`
	Subscription *models.Subscription `json:"subscription"`
	PollCount    int                  `json:"poll_count"`
	Polls        []models.Poll        `json:"polls"`
}

// Me handles GET /accounts/me.
func (h *Handler) Me(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sub, err := h.subs.GetByUser(ctx, user.ID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		h.logger.Error("load subscription failed", zap.Error(err))
		response.Internal(c, "failed to load account")
		return
	}
	polls, err := h.polls.ListOwned(ctx, user.ID)
	if err != nil {
		h.logger.Error("list owned polls failed", zap.Error(err))
		response.Internal(c, "failed to load account")
		return
	}
	if polls == nil {
		polls = []models.Poll{}
	}
	response.OK(c, MeResponse{User: user.ToPublic(), Subscription: sub, PollCount: len(polls), Polls: polls})
}

// ChangeUsernameRequest is the body for PUT /accounts/username.
type ChangeUsernameRequest struct {
	NewUsername string `json:"new_username"`
}

// ChangeUsername handles PUT /accounts/username.
func (h *Handler) ChangeUsername(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req ChangeUsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	name := strings.TrimSpace(req.NewUsername)
	errs := response.FieldErrors{}
	ValidateUsername(errs, "new_username", name)
	if !errs.Empty() {
		response.ValidationFailed(c, errs)
		return
	}
	if name == user.Username {
		response.OK(c, gin.H{"username": name})
		return
	}
	taken, err := h.users.UsernameExists(c.Request.Context(), name)
	if err == nil && taken {
		err = ErrUsernameTaken
	}
	if err == nil {
		err = h.users.UpdateUsername(c.Request.Context(), user.ID, name)
	}
	switch {
	case errors.Is(err, ErrUsernameTaken):
		response.ValidationFailed(c, response.FieldErrors{"new_username": {MsgUsernameTaken}})
	case err != nil:
		h.logger.Error("change username failed", zap.Error(err))
		response.Internal(c, "failed to change username")
	default:
		response.OK(c, gin.H{"username": name})
	}
}

// ChangePasswordRequest is the body for PUT /accounts/password.
type ChangePasswordRequest struct {
	OldPassword  string `json:"old_password"`
	NewPassword1 string `json:"new_password1"`
	NewPassword2 string `json:"new_password2"`
}

// ChangePassword handles PUT /accounts/password.
func (h *Handler) ChangePassword(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	errs := response.FieldErrors{}
	if !utils.CheckPassword(req.OldPassword, user.Password) {
		errs.Add("old_password", MsgOldPassword)
	}
	ValidateNewPassword(errs, "new_password1", "new_password2", req.NewPassword1, req.NewPassword2)
	if !errs.Empty() {
		response.ValidationFailed(c, errs)
		return
	}
	hash, err := utils.HashPassword(req.NewPassword1)
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}
	if err := h.users.UpdatePassword(c.Request.Context(), user.ID, hash); err != nil {
		h.logger.Error("change password failed", zap.Error(err))
		response.Internal(c, "failed to change password")
		return
	}
	response.NoContent(c)
}

// TimezoneRequest is the body for POST /accounts/timezone.
type TimezoneRequest struct {
	Timezone string `json:"timezone"`
}

// SetTimezone handles POST /accounts/timezone.
func (h *Handler) SetTimezone(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	var req TimezoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	tz := strings.TrimSpace(req.Timezone)
	if !ValidTimezone(tz) {
		response.ValidationFailed(c, response.FieldErrors{"timezone": {MsgTimezone}})
		return
	}
	if err := h.users.UpdateTimezone(c.Request.Context(), userID, tz); err != nil {
		h.logger.Error("set timezone failed", zap.Error(err))
		response.Internal(c, "failed to set timezone")
		return
	}
	response.OK(c, gin.H{"timezone": tz})
}

// SubscriptionRequest is the body for PUT /accounts/subscription.
type SubscriptionRequest struct {
	Newsletter bool   `json:"newsletter"`
	Zipcode    string `json:"zipcode"`
}

// SubscriptionResponse reports the caller's newsletter state.
type SubscriptionResponse struct {
	Newsletter   bool                 `json:"newsletter"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
}

// GetSubscription handles GET /accounts/subscription.
func (h *Handler) GetSubscription(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	sub, err := h.subs.GetByUser(c.Request.Context(), userID)
	if errors.Is(err, database.ErrNotFound) {
		response.OK(c, SubscriptionResponse{})
		return
	}
	if err != nil {
		response.Internal(c, "failed to load subscription")
		return
	}
	response.OK(c, SubscriptionResponse{Newsletter: true, Subscription: sub})
}

// UpdateSubscription handles PUT /accounts/subscription.
func (h *Handler) UpdateSubscription(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	var req SubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	if !req.Newsletter {
		if err := h.subs.DeleteByUser(ctx, userID); err != nil {
			response.Internal(c, "failed to update subscription")
			return
		}
		response.OK(c, SubscriptionResponse{})
		return
	}
	errs := response.FieldErrors{}
	ValidateZipcode(errs, "zipcode", req.Zipcode)
	if !errs.Empty() {
		response.ValidationFailed(c, errs)
		return
	}
	sub, err := h.subs.Upsert(ctx, userID, strings.TrimSpace(req.Zipcode))
	if err != nil {
		h.logger.Error("upsert subscription failed", zap.Error(err))
		response.Internal(c, "failed to update subscription")
		return
	}
	response.OK(c, SubscriptionResponse{Newsletter: true, Subscription: sub})
}

func (h *Handler) currentUser(c *gin.Context) (*models.User, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return nil, false
	}
	user, err := h.users.GetByID(c.Request.Context(), userID)
	if errors.Is(err, database.ErrNotFound) {
		response.Unauthorized(c, "account no longer exists")
		return nil, false
	}
	if err != nil {
		response.Internal(c, "failed to load account")
		return nil, false
	}
	return user, true
}
