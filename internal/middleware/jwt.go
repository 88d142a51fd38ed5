package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/approval-polls/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
)

// Identity is what a valid bearer token says about the caller.
type Identity struct {
	UserID uuid.UUID
	Role   string
	Email  string
}

// TokenValidator turns a bearer token into an Identity.
type TokenValidator interface {
	Identify(token string) (Identity, error)
}

// JWT returns a middleware that validates JWT and sets user claims in context.
func JWT(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		token, ok := bearer(header)
		if !ok {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		id, err := v.Identify(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		setIdentity(c, id)
		c.Next()
	}
}

// OptionalJWT sets user claims when a valid bearer token is present and never aborts.
// Used on routes that behave differently for logged-in callers (poll detail, voting).
func OptionalJWT(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearer(c.GetHeader("Authorization")); ok {
			if id, err := v.Identify(token); err == nil {
				setIdentity(c, id)
			}
		}
		c.Next()
	}
}

// UserID returns the authenticated caller, if any.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

func bearer(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func setIdentity(c *gin.Context, id Identity) {
	c.Set(ContextUserID, id.UserID)
	c.Set(ContextUserRole, id.Role)
	c.Set(ContextUserEmail, id.Email)
}
