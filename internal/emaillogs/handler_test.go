package emaillogs

import (
	"context"
	"encoding/json"
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

type owners map[int64]uuid.UUID

func (o owners) OwnerOf(_ context.Context, pollID int64) (uuid.UUID, error) {
	id, ok := o[pollID]
	if !ok {
		return uuid.Nil, database.ErrNotFound
	}
	return id, nil
}

type staticLogs []models.EmailLog

func (s staticLogs) ListByPoll(context.Context, int64) ([]models.EmailLog, error) { return s, nil }

func TestListByPoll(t *testing.T) {
	gin.SetMode(gin.TestMode)
	owner := uuid.New()
	pollID := int64(1)
	logs := staticLogs{
		{ID: uuid.New(), PollID: &pollID, EmailType: models.EmailTypeInvitation, RecipientEmail: "a@example.com", Status: models.EmailLogStatusSent},
		{ID: uuid.New(), PollID: &pollID, EmailType: models.EmailTypeInvitation, RecipientEmail: "b@example.com", Status: models.EmailLogStatusFailed, ErrorMessage: "bounced"},
	}
	h := NewHandler(logs, owners{1: owner}, nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if u := c.GetHeader("X-Test-User"); u != "" {
			c.Set(middleware.ContextUserID, uuid.MustParse(u))
		}
		c.Next()
	})
	r.GET("/polls/:id/emails", h.ListByPoll)

	get := func(path string, user uuid.UUID) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if user != uuid.Nil {
			req.Header.Set("X-Test-User", user.String())
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := get("/polls/1/emails", owner)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body response.Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	rows, ok := body.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, rows, 2)
	assert.Equal(t, "bounced", rows[1].(map[string]interface{})["error_message"])

	assert.Equal(t, http.StatusForbidden, get("/polls/1/emails", uuid.New()).Code)
	assert.Equal(t, http.StatusUnauthorized, get("/polls/1/emails", uuid.Nil).Code)
	assert.Equal(t, http.StatusNotFound, get("/polls/9/emails", owner).Code)
	assert.Equal(t, http.StatusBadRequest, get("/polls/abc/emails", owner).Code)
}
