package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approval-polls/backend/internal/models"
)

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret", 1)
	u := &models.User{ID: uuid.New(), Username: "alice", Email: "alice@example.com", IsStaff: true}

	token, err := svc.Generate(u)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, string(models.RoleStaff), claims.Role)

	id, err := svc.Identify(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id.UserID)
	assert.Equal(t, "alice@example.com", id.Email)
}

func TestJWTRejectsForeignAndExpiredTokens(t *testing.T) {
	u := &models.User{ID: uuid.New(), Username: "bob"}

	other, err := NewJWTService("other-secret", 1).Generate(u)
	require.NoError(t, err)
	_, err = NewJWTService("test-secret", 1).Validate(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewJWTService("test-secret", -1).Generate(u)
	require.NoError(t, err)
	_, err = NewJWTService("test-secret", 1).Validate(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewJWTService("test-secret", 1).Identify("garbage")
	assert.Error(t, err)
}
