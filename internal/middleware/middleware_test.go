package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"retailpos/internal/apierror"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-test-secret"

func signToken(t *testing.T, role string, dur time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id": uuid.NewString(), "username": "ana", "role": role,
		"branch_id": uuid.NewString(), "station_id": uuid.NewString(),
		"exp": time.Now().Add(dur).Unix(), "iat": time.Now().Unix(),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func ginTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(JWTAuth(testSecret))
	r.GET("/protected", func(c *gin.Context) {
		claims := GetClaims(c)
		c.JSON(http.StatusOK, gin.H{"station_id": claims.StationID, "role": claims.Role})
	})
	r.GET("/admin", RequireRole("admin"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w
}

// ── JWT ───────────────────────────────────────────────────────────────────────

func TestJWTAuth(t *testing.T) {
	r := ginTestRouter()

	assert.Equal(t, http.StatusUnauthorized, get(r, "/protected", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/protected", signToken(t, "salesperson", -time.Second)).Code)
	assert.Equal(t, http.StatusOK, get(r, "/protected", signToken(t, "salesperson", time.Hour)).Code)
}

func TestJWTAuth_TokenWithoutStation(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": uuid.NewString(), "role": "admin", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, get(ginTestRouter(), "/protected", tok).Code)
}

func TestRequireRole(t *testing.T) {
	r := ginTestRouter()
	assert.Equal(t, http.StatusForbidden, get(r, "/admin", signToken(t, "salesperson", time.Hour)).Code)
	assert.Equal(t, http.StatusOK, get(r, "/admin", signToken(t, "admin", time.Hour)).Code)
}

// ── Errors ────────────────────────────────────────────────────────────────────

func errorRouter(err error) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), ErrorHandler())
	r.GET("/fail", func(c *gin.Context) { _ = c.Error(err) })
	return r
}

func TestErrorHandler_ClassifiedErrorKeepsStatus(t *testing.T) {
	w := get(errorRouter(apierror.Stock("not enough stock")), "/fail", "")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"detail":"not enough stock","kind":"stock"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestErrorHandler_MasksInternalErrors(t *testing.T) {
	w := get(errorRouter(errors.New("pq: relation does not exist")), "/fail", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "pq:")
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery())
	r.GET("/panic", func(*gin.Context) { panic("boom") })

	assert.Equal(t, http.StatusInternalServerError, get(r, "/panic", "").Code)
}

func TestRequestID_KeepsCallerID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(RequestIDKey)) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Body.String())
}

// ── Rate limiting & CORS ──────────────────────────────────────────────────────

func TestLimiter_WindowResets(t *testing.T) {
	l := NewLimiter(2, time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	ok, _ := l.Allow("a")
	assert.True(t, ok)
	ok, _ = l.Allow("a")
	assert.True(t, ok)
	ok, _ = l.Allow("a")
	assert.False(t, ok)
	ok, _ = l.Allow("b")
	assert.True(t, ok, "keys are independent")

	now = now.Add(2 * time.Minute)
	ok, _ = l.Allow("a")
	assert.True(t, ok)
}

func TestLimiter_PurgesExpiredKeys(t *testing.T) {
	l := NewLimiter(1, time.Second)
	now := time.Now()
	l.now = func() time.Time { return now }
	l.Allow("a")
	l.Allow("b")

	now = now.Add(purgeInterval + time.Second)
	l.Allow("c")
	assert.Len(t, l.entries, 1)
}

func TestRateLimiterMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimiter(1, time.Minute))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, get(r, "/", "").Code)
	w := get(r, "/", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("https://pos.example.com"))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://pos.example.com")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://pos.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
