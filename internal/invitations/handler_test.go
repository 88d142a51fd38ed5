package invitations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approval-polls/backend/internal/middleware"
	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/pkg/database"
	"github.com/approval-polls/backend/pkg/response"
)

type fakePolls map[int64]*models.Poll

func (f fakePolls) GetByID(_ context.Context, id int64) (*models.Poll, error) {
	p, ok := f[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return p, nil
}

type recordingInviter struct {
	emails []string
	failOn string
	err    error
}

func (r *recordingInviter) Invite(_ context.Context, p *models.Poll, emails []string) ([]models.VoteInvitation, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.emails = append(r.emails, emails...)
	out := make([]models.VoteInvitation, len(emails))
	var failed []DeliveryFailure
	for i, e := range emails {
		out[i] = models.VoteInvitation{ID: int64(i + 1), PollID: p.ID, Email: e}
		if e == r.failOn {
			failed = append(failed, DeliveryFailure{Email: e, Reason: "redis down"})
		}
	}
	if len(failed) > 0 {
		return out, &PartialDeliveryError{Failures: failed}
	}
	return out, nil
}

type staticLister []models.VoteInvitation

func (s staticLister) ListByPoll(context.Context, int64) ([]models.VoteInvitation, error) { return s, nil }

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	owner, stranger := uuid.New(), uuid.New()
	ballot := int64(3)
	pollsByID := fakePolls{
		1: {ID: 1, UserID: owner, VType: models.VoteTypeInvitation},
		2: {ID: 2, UserID: owner, VType: models.VoteTypeOpen},
	}
	inviter := &recordingInviter{}
	list := staticLister{{ID: 1, PollID: 1, Email: "a@example.com", BallotID: &ballot}, {ID: 2, PollID: 1, Email: "b@example.com"}}
	h := NewHandler(pollsByID, inviter, list, nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			c.Set(middleware.ContextUserID, uuid.MustParse(id))
		}
		c.Next()
	})
	r.POST("/polls/:id/invitations", h.Invite)
	r.GET("/polls/:id/invitations", h.List)

	do := func(method, path string, body interface{}, user uuid.UUID) (*httptest.ResponseRecorder, response.Body) {
		var raw []byte
		if body != nil {
			raw, _ = json.Marshal(body)
		}
		req := httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-User", user.String())
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		var out response.Body
		_ = json.Unmarshal(w.Body.Bytes(), &out)
		return w, out
	}

	w, body := do(http.MethodPost, "/polls/1/invitations", InviteRequest{Emails: []string{" A@Example.com", "a@example.com", ""}}, owner)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, []string{"a@example.com"}, inviter.emails)
	created := body.Data.(map[string]interface{})
	assert.Len(t, created["invitations"], 1)
	assert.NotContains(t, created, "failed")

	w, body = do(http.MethodPost, "/polls/1/invitations", InviteRequest{Emails: []string{"not-an-email"}}, owner)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body.Fields, "emails")

	w, _ = do(http.MethodPost, "/polls/2/invitations", InviteRequest{Emails: []string{"a@example.com"}}, owner)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = do(http.MethodPost, "/polls/1/invitations", InviteRequest{Emails: []string{"a@example.com"}}, stranger)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = do(http.MethodGet, "/polls/5/invitations", nil, owner)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = do(http.MethodGet, "/polls/1/invitations", nil, owner)
	require.Equal(t, http.StatusOK, w.Code)
	items := body.Data.([]interface{})
	require.Len(t, items, 2)
	assert.Equal(t, true, items[0].(map[string]interface{})["voted"])
	assert.Equal(t, false, items[1].(map[string]interface{})["voted"])
	assert.NotContains(t, items[0].(map[string]interface{}), "key")
}

func TestInviteReportsUnqueuedAddresses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	owner := uuid.New()
	pollsByID := fakePolls{1: {ID: 1, UserID: owner, VType: models.VoteTypeInvitation}}
	inviter := &recordingInviter{failOn: "b@example.com"}
	h := NewHandler(pollsByID, inviter, staticLister{}, nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, owner)
		c.Next()
	})
	r.POST("/polls/:id/invitations", h.Invite)

	post := func() *httptest.ResponseRecorder {
		raw, _ := json.Marshal(InviteRequest{Emails: []string{"a@example.com", "b@example.com"}})
		req := httptest.NewRequest(http.MethodPost, "/polls/1/invitations", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := post()
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var body struct {
		Data InviteResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data.Invitations, 2)
	assert.Equal(t, "b@example.com", body.Data.Invitations[1].Email)
	assert.Equal(t, []DeliveryFailure{{Email: "b@example.com", Reason: "redis down"}}, body.Data.Failed)

	inviter.err = errors.New("database down")
	assert.Equal(t, http.StatusInternalServerError, post().Code)
}
