package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approval-polls/backend/internal/middleware"
	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/pkg/database"
	"github.com/approval-polls/backend/pkg/response"
	"github.com/approval-polls/backend/pkg/utils"
)

type fakeUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newFakeUsers() *fakeUsers { return &fakeUsers{users: map[uuid.UUID]*models.User{}} }

func (f *fakeUsers) find(match func(*models.User) bool) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return f.find(func(u *models.User) bool { return u.ID == id })
}
func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return f.find(func(u *models.User) bool { return u.Email == email })
}
func (f *fakeUsers) GetByLogin(_ context.Context, login string) (*models.User, error) {
	return f.find(func(u *models.User) bool { return u.Username == login || u.Email == login })
}
func (f *fakeUsers) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := f.find(func(u *models.User) bool { return u.Username == username })
	return err == nil, nil
}
func (f *fakeUsers) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := f.GetByEmail(ctx, email)
	return err == nil, nil
}
func (f *fakeUsers) Create(_ context.Context, p CreateUserParams) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &models.User{ID: uuid.New(), Username: p.Username, Email: p.Email, Password: p.PasswordHash, Timezone: "UTC", CreatedAt: time.Now()}
	f.users[u.ID] = u
	cp := *u
	return &cp, nil
}
func (f *fakeUsers) update(id uuid.UUID, fn func(*models.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return database.ErrNotFound
	}
	fn(u)
	return nil
}
func (f *fakeUsers) UpdateUsername(_ context.Context, id uuid.UUID, name string) error {
	return f.update(id, func(u *models.User) { u.Username = name })
}
func (f *fakeUsers) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	return f.update(id, func(u *models.User) { u.Password = hash })
}
func (f *fakeUsers) UpdateTimezone(_ context.Context, id uuid.UUID, tz string) error {
	return f.update(id, func(u *models.User) { u.Timezone = tz })
}
func (f *fakeUsers) TouchLastLogin(_ context.Context, id uuid.UUID) error {
	now := time.Now()
	return f.update(id, func(u *models.User) { u.LastLogin = &now })
}

type fakeSubs struct {
	subs map[uuid.UUID]*models.Subscription
}

func (f *fakeSubs) GetByUser(_ context.Context, id uuid.UUID) (*models.Subscription, error) {
	if s, ok := f.subs[id]; ok {
		return s, nil
	}
	return nil, database.ErrNotFound
}
func (f *fakeSubs) Upsert(_ context.Context, id uuid.UUID, zip string) (*models.Subscription, error) {
	s := &models.Subscription{UserID: id, Zipcode: zip}
	f.subs[id] = s
	return s, nil
}
func (f *fakeSubs) DeleteByUser(_ context.Context, id uuid.UUID) error {
	delete(f.subs, id)
	return nil
}

type fakePolls struct{ polls []models.Poll }

func (f fakePolls) ListOwned(context.Context, uuid.UUID) ([]models.Poll, error) { return f.polls, nil }

type fakeGoogle struct {
	email string
	err   error
}

func (f fakeGoogle) Verify(context.Context, string) (*GoogleIdentity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &GoogleIdentity{Email: f.email}, nil
}

type testEnv struct {
	router *gin.Engine
	users  *fakeUsers
	subs   *fakeSubs
	jwt    *JWTService
}

func newTestEnv(google GoogleVerifier) *testEnv {
	gin.SetMode(gin.TestMode)
	env := &testEnv{
		users: newFakeUsers(),
		subs:  &fakeSubs{subs: map[uuid.UUID]*models.Subscription{}},
		jwt:   NewJWTService("test-secret", 1),
	}
	h := NewHandler(env.users, env.subs, fakePolls{polls: []models.Poll{{ID: 1, Question: "Lunch?"}}}, google, env.jwt, nil)
	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/google", h.Google)
	acc := r.Group("/accounts", middleware.JWT(env.jwt))
	acc.GET("/me", h.Me)
	acc.PUT("/username", h.ChangeUsername)
	acc.PUT("/password", h.ChangePassword)
	acc.POST("/timezone", h.SetTimezone)
	acc.GET("/subscription", h.GetSubscription)
	acc.PUT("/subscription", h.UpdateSubscription)
	env.router = r
	return env
}

func (e *testEnv) do(method, path, token string, body interface{}) (*httptest.ResponseRecorder, response.Body) {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var out response.Body
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func (e *testEnv) seedUser(t *testing.T, username, password string) (*models.User, string) {
	t.Helper()
	hash, err := utils.HashPassword(password)
	require.NoError(t, err)
	u, err := e.users.Create(context.Background(), CreateUserParams{Username: username, Email: username + "@example.com", PasswordHash: hash})
	require.NoError(t, err)
	token, err := e.jwt.Generate(u)
	require.NoError(t, err)
	return u, token
}

func TestRegister(t *testing.T) {
	env := newTestEnv(fakeGoogle{})

	w, body := env.do(http.MethodPost, "/auth/register", "", RegisterRequest{
		Username: "alice", Email: "Alice@Example.com", Password: "secret1", PasswordConfirm: "secret1",
		Newsletter: true, Zipcode: "02139",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, body.Success)

	u, err := env.users.GetByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "02139", env.subs.subs[u.ID].Zipcode)
}

func TestRegisterFieldErrors(t *testing.T) {
	env := newTestEnv(fakeGoogle{})
	env.seedUser(t, "taken", "secret1")

	w, body := env.do(http.MethodPost, "/auth/register", "", RegisterRequest{
		Username: "taken", Email: "taken@example.com", Password: "abc", PasswordConfirm: "abd",
		Newsletter: true, Zipcode: "1234",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []string{MsgUsernameTaken}, body.Fields["username"])
	assert.Equal(t, []string{MsgEmailTaken}, body.Fields["email"])
	assert.Equal(t, []string{MsgPasswordShort}, body.Fields["password"])
	assert.Equal(t, []string{MsgPasswordMismatch}, body.Fields["password_confirm"])
	assert.Equal(t, []string{MsgZipcode}, body.Fields["zipcode"])

	w, body = env.do(http.MethodPost, "/auth/register", "", RegisterRequest{
		Username: "bad name", Email: "x@example.com", Password: "secret1", PasswordConfirm: "secret1", Newsletter: true,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []string{MsgUsernameChars}, body.Fields["username"])
	assert.Equal(t, []string{MsgRequired}, body.Fields["zipcode"])
}

func TestLogin(t *testing.T) {
	env := newTestEnv(fakeGoogle{})
	env.seedUser(t, "bob", "hunter22")

	w, _ := env.do(http.MethodPost, "/auth/login", "", LoginRequest{Login: "bob", Password: "hunter22"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(http.MethodPost, "/auth/login", "", LoginRequest{Login: "bob@example.com", Password: "hunter22"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(http.MethodPost, "/auth/login", "", LoginRequest{Login: "bob", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = env.do(http.MethodPost, "/auth/login", "", LoginRequest{Login: "nobody", Password: "hunter22"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGoogleSignIn(t *testing.T) {
	env := newTestEnv(fakeGoogle{email: "Carol@Gmail.com"})
	env.seedUser(t, "carol", "secret1")

	w, _ := env.do(http.MethodPost, "/auth/google", "", GoogleRequest{Credential: "token"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	u, err := env.users.GetByEmail(context.Background(), "carol@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, "carol1", u.Username)
	assert.Empty(t, u.Password)

	env = newTestEnv(fakeGoogle{err: errors.New("bad signature")})
	w, _ = env.do(http.MethodPost, "/auth/google", "", GoogleRequest{Credential: "token"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	env = newTestEnv(fakeGoogle{err: ErrGoogleNotConfigured})
	w, _ = env.do(http.MethodPost, "/auth/google", "", GoogleRequest{Credential: "token"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAccountEndpoints(t *testing.T) {
	env := newTestEnv(fakeGoogle{})
	u, token := env.seedUser(t, "dave", "secret1")
	env.seedUser(t, "erin", "secret1")

	w, _ := env.do(http.MethodGet, "/accounts/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body := env.do(http.MethodGet, "/accounts/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := body.Data.(map[string]interface{})
	assert.EqualValues(t, 1, data["poll_count"])

	w, body = env.do(http.MethodPut, "/accounts/username", token, ChangeUsernameRequest{NewUsername: "erin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []string{MsgUsernameTaken}, body.Fields["new_username"])

	w, _ = env.do(http.MethodPut, "/accounts/username", token, ChangeUsernameRequest{NewUsername: "david"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = env.do(http.MethodPut, "/accounts/password", token, ChangePasswordRequest{OldPassword: "wrong", NewPassword1: "newpass", NewPassword2: "newpass"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []string{MsgOldPassword}, body.Fields["old_password"])

	w, _ = env.do(http.MethodPut, "/accounts/password", token, ChangePasswordRequest{OldPassword: "secret1", NewPassword1: "newpass", NewPassword2: "newpass"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = env.do(http.MethodPost, "/accounts/timezone", token, TimezoneRequest{Timezone: "Europe/Berlin"})
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = env.do(http.MethodPost, "/accounts/timezone", token, TimezoneRequest{Timezone: "Nowhere/Land"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	stored, err := env.users.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "david", stored.Username)
	assert.Equal(t, "Europe/Berlin", stored.Timezone)
	assert.True(t, utils.CheckPassword("newpass", stored.Password))
}

func TestSubscriptionEndpoints(t *testing.T) {
	env := newTestEnv(fakeGoogle{})
	u, token := env.seedUser(t, "frank", "secret1")

	w, body := env.do(http.MethodPut, "/accounts/subscription", token, SubscriptionRequest{Newsletter: true, Zipcode: "9021"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []string{MsgZipcode}, body.Fields["zipcode"])

	w, _ = env.do(http.MethodPut, "/accounts/subscription", token, SubscriptionRequest{Newsletter: true, Zipcode: "90210"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "90210", env.subs.subs[u.ID].Zipcode)

	w, body = env.do(http.MethodGet, "/accounts/subscription", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body.Data.(map[string]interface{})["newsletter"])

	w, _ = env.do(http.MethodPut, "/accounts/subscription", token, SubscriptionRequest{Newsletter: false})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, env.subs.subs, u.ID)
}
