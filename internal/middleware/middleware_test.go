package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emphealth-backend/internal/database"
	"emphealth-backend/internal/domain"
	"emphealth-backend/pkg/jwt"
	"emphealth-backend/pkg/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestAuthMiddleware(t *testing.T) {
	manager := jwt.NewJWTManager("secret", time.Minute)
	userID := uuid.New()
	token, err := manager.GenerateAccessToken(userID, "Dr. Lee", "doctor")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", AuthMiddleware(manager), func(c *gin.Context) {
		id, role, ok := CurrentUser(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"id": id, "role": role, "name": c.GetString(ContextName)})
	})

	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"missing header", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"garbage token", "Bearer abc", http.StatusUnauthorized, "INVALID_TOKEN"},
		{"valid token", "Bearer " + token, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			w := perform(r, http.MethodGet, "/me", headers)
			assert.Equal(t, tt.status, w.Code)
			if tt.code != "" {
				assert.Equal(t, tt.code, errorCode(t, w))
			}
		})
	}

	w := perform(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer " + token})
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, userID.String(), body["id"])
	assert.Equal(t, "doctor", body["role"])
	assert.Equal(t, "Dr. Lee", body["name"])
}

func TestRequireRole(t *testing.T) {
	r := gin.New()
	r.GET("/admin", func(c *gin.Context) {
		c.Set(ContextUserID, uuid.New())
		c.Set(ContextRole, domain.Role(c.Query("role")))
	}, RequireRole(domain.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	assert.Equal(t, http.StatusNoContent, perform(r, http.MethodGet, "/admin?role=admin", nil).Code)

	w := perform(r, http.MethodGet, "/admin?role=doctor", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, w))

	anon := gin.New()
	anon.GET("/admin", RequireRole(domain.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	w = perform(anon, http.MethodGet, "/admin", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))
}

func TestBearerToken(t *testing.T) {
	token, ok := BearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", token)

	for _, h := range []string{"", "Bearer", "Bearer ", "bearer abc", "Bearer a b"} {
		_, ok := BearerToken(h)
		assert.False(t, ok, h)
	}
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"https://app.example.com"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.OPTIONS("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := perform(r, http.MethodGet, "/x", map[string]string{"Origin": "https://app.example.com"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = perform(r, http.MethodGet, "/x", map[string]string{"Origin": "https://evil.example.com"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = perform(r, http.MethodOptions, "/x", map[string]string{"Origin": "https://app.example.com"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = perform(r, http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, OriginAllowed(nil, "https://anything"))
	assert.True(t, OriginAllowed([]string{"https://a"}, ""))
	assert.True(t, OriginAllowed([]string{"https://a"}, "https://a"))
	assert.False(t, OriginAllowed([]string{"https://a"}, "https://b"))
}

func TestRequestLogger_PropagatesRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("request_id"))
	})

	w := perform(r, http.MethodGet, "/x", map[string]string{RequestIDHeader: "req-42"})
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-42", w.Body.String())

	w = perform(r, http.MethodGet, "/x", nil)
	generated := w.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(generated)
	assert.NoError(t, err)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := perform(r, http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(t, w))
}

func TestHealthCheck(t *testing.T) {
	failing := false
	r := gin.New()
	r.Use(HealthCheck("call-service", HealthProbe{
		Name: "redis",
		Check: func(ctx context.Context) error {
			if failing {
				return errors.New("connection refused")
			}
			return nil
		},
	}))
	r.GET("/other", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	var body struct {
		Status     string            `json:"status"`
		Service    string            `json:"service"`
		Components map[string]string `json:"components"`
	}

	w := perform(r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "call-service", body.Service)
	assert.Equal(t, "ok", body.Components["redis"])

	failing = true
	w = perform(r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "connection refused", body.Components["redis"])

	assert.Equal(t, http.StatusTeapot, perform(r, http.MethodGet, "/other", nil).Code)
}

func TestSecurityHeaders(t *testing.T) {
	for _, production := range []bool{false, true} {
		r := gin.New()
		r.Use(SecurityHeaders(production))
		r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := perform(r, http.MethodGet, "/x", nil)
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, production, w.Header().Get("Strict-Transport-Security") != "")
	}
}

func TestPrometheusMiddleware_RecordsRequests(t *testing.T) {
	m := metrics.NewMetrics("test")
	r := gin.New()
	r.Use(NewPrometheusMiddleware(m).Handler())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", MetricsHandler(m))

	perform(r, http.MethodGet, "/x", nil)
	perform(r, http.MethodGet, "/missing", nil)

	count, err := testutil.GatherAndCount(m.GetRegistry(), "http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	w := perform(r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestMetricsHandler_NilMetrics(t *testing.T) {
	r := gin.New()
	r.GET("/metrics", MetricsHandler(nil))

	w := perform(r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "metrics_not_initialized")
}

func degradedRedis() *database.RedisClient {
	r := database.NewRedisClient(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	}), nil)
	r.SetDegraded(true)
	return r
}

func TestRateLimiter_FallsBackToMemoryWhenRedisDegraded(t *testing.T) {
	redisClient := degradedRedis()
	defer redisClient.Close()

	m := metrics.NewMetrics("test")
	limiter := NewRateLimiter(redisClient, m, 2, time.Minute)
	fixed := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return fixed }

	r := gin.New()
	r.Use(limiter.Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/x", nil).Code)
	w := perform(r, http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = perform(r, http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errorCode(t, w))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	count, err := testutil.GatherAndCount(m.GetRegistry(), "rate_limit_blocked_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// next window starts fresh
	limiter.now = func() time.Time { return fixed.Add(time.Minute) }
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/x", nil).Code)
}

func TestInMemoryRateLimiter_Cleanup(t *testing.T) {
	im := NewInMemoryRateLimiter()
	assert.Equal(t, 1, im.Incr("a", 100))
	assert.Equal(t, 2, im.Incr("a", 100))
	assert.Equal(t, 1, im.Incr("b", 200))

	im.Cleanup(150)
	assert.Equal(t, 1, im.Incr("a", 100))
	assert.Equal(t, 2, im.Incr("b", 200))
}

func TestTimeoutMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(NewTimeoutMiddleware(20 * time.Millisecond).Middleware())
	r.GET("/slow", func(c *gin.Context) {
		<-c.Request.Context().Done()
	})
	r.GET("/fast", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := perform(r, http.MethodGet, "/slow", nil)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, "REQUEST_TIMEOUT", errorCode(t, w))

	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/fast", nil).Code)
}
