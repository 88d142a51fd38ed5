package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeValidator struct {
	token string
	id    Identity
}

func (f fakeValidator) Identify(token string) (Identity, error) {
	if token != f.token {
		return Identity{}, errors.New("bad token")
	}
	return f.id, nil
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/who", func(c *gin.Context) {
		id, ok := UserID(c)
		if !ok {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, id.String())
	})
	return r
}

func do(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWT(t *testing.T) {
	uid := uuid.New()
	v := fakeValidator{token: "good", id: Identity{UserID: uid, Role: "user"}}
	r := newRouter(JWT(v))

	assert.Equal(t, http.StatusUnauthorized, do(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "Token good").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "Bearer bad").Code)

	w := do(r, "Bearer good")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uid.String(), w.Body.String())
}

func TestOptionalJWT(t *testing.T) {
	uid := uuid.New()
	r := newRouter(OptionalJWT(fakeValidator{token: "good", id: Identity{UserID: uid}}))

	assert.Equal(t, "anonymous", do(r, "").Body.String())
	assert.Equal(t, "anonymous", do(r, "Bearer bad").Body.String())
	assert.Equal(t, uid.String(), do(r, "Bearer good").Body.String())
}

func TestRequireRole(t *testing.T) {
	staff := fakeValidator{token: "staff", id: Identity{UserID: uuid.New(), Role: "staff"}}
	r := newRouter(JWT(staff), RequireStaff())
	assert.Equal(t, http.StatusOK, do(r, "Bearer staff").Code)

	user := fakeValidator{token: "user", id: Identity{UserID: uuid.New(), Role: "user"}}
	r = newRouter(JWT(user), RequireRole("staff"))
	assert.Equal(t, http.StatusForbidden, do(r, "Bearer user").Code)

	r = newRouter(RequireRole("staff"))
	assert.Equal(t, http.StatusUnauthorized, do(r, "").Code)
}

func TestCORS(t *testing.T) {
	r := newRouter(CORS("https://a.example, https://b.example"))

	req := httptest.NewRequest(http.MethodOptions, "/who", nil)
	req.Header.Set("Origin", "https://b.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://b.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	r = newRouter(CORS("*"))
	w = do(r, "")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	l := NewIPRateLimiter(1, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	r := newRouter(RateLimit(l))

	assert.Equal(t, http.StatusOK, do(r, "").Code)
	assert.Equal(t, http.StatusOK, do(r, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, "").Code)

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, do(r, "").Code)
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	l := NewIPRateLimiter(1, 1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	now = now.Add(limiterIdleTTL + time.Second)
	assert.True(t, l.Allow("10.0.0.2"))
	assert.Len(t, l.visitors, 1)
}

func TestRateLimiterEvictsOncePerIdleTTL(t *testing.T) {
	l := NewIPRateLimiter(1, 1)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	now = start.Add(limiterIdleTTL / 2)
	assert.True(t, l.Allow("10.0.0.2"))
	now = start.Add(limiterIdleTTL + time.Second)
	assert.True(t, l.Allow("10.0.0.3"))
	assert.Len(t, l.visitors, 2, "first idle visitor dropped")
	assert.Equal(t, now, l.lastEvict)

	// 10.0.0.2 is idle past the TTL, but the last sweep was too recent.
	now = start.Add(limiterIdleTTL + limiterIdleTTL/2 + 2*time.Second)
	assert.True(t, l.Allow("10.0.0.4"))
	assert.Len(t, l.visitors, 3)

	now = start.Add(2*limiterIdleTTL + time.Second)
	assert.True(t, l.Allow("10.0.0.4"))
	assert.Len(t, l.visitors, 2)
	assert.NotContains(t, l.visitors, "10.0.0.2")
}

func TestLoggerPassesThrough(t *testing.T) {
	r := newRouter(Logger(zap.NewNop()))
	assert.Equal(t, http.StatusOK, do(r, "").Code)
}
