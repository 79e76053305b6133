package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "emphealth-backend/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func render(fn func(c *gin.Context)) (*httptest.ResponseRecorder, Response) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Set("request_id", "req-1")
	fn(c)

	var body Response
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestSuccess(t *testing.T) {
	w, body := render(func(c *gin.Context) { Success(c, http.StatusOK, gin.H{"ok": true}) })

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, body.Success)
	assert.Nil(t, body.Error)
	assert.Equal(t, "req-1", body.Meta.RequestID)
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", apperrors.CallNotFoundError(), http.StatusNotFound, "CALL_NOT_FOUND"},
		{"wrapped", errors.Join(errors.New("ctx"), apperrors.ServiceUnavailableError("down")), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"plain", errors.New("pq: secret detail"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := render(func(c *gin.Context) { FromError(c, tt.err) })

			assert.Equal(t, tt.status, w.Code)
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.NotContains(t, body.Error.Message, "secret")
		})
	}
}

func TestFromErrorRendersDetails(t *testing.T) {
	err := apperrors.ValidationError("Invalid request body").WithDetails(map[string]string{"platform": "oneof"})

	w, body := render(func(c *gin.Context) { FromError(c, err) })

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	assert.Equal(t, map[string]any{"platform": "oneof"}, body.Error.Details)
}

func TestBindingError(t *testing.T) {
	type request struct {
		Token    string `json:"token" binding:"required"`
		Platform string `json:"platform" binding:"required,oneof=ios android web"`
	}

	w, body := render(func(c *gin.Context) {
		c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"platform":"pager"}`))
		c.Request.Header.Set("Content-Type", "application/json")
		var req request
		BindingError(c, c.ShouldBindJSON(&req))
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	assert.Equal(t, map[string]any{"token": "required", "platform": "oneof"}, body.Error.Details)

	w, body = render(func(c *gin.Context) { BindingError(c, errors.New("unexpected EOF")) })
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, body.Error)
	assert.Nil(t, body.Error.Details)
}
