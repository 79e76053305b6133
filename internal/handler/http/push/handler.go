package push

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"emphealth-backend/internal/database"
	"emphealth-backend/internal/middleware"
	"emphealth-backend/pkg/logger"
	"emphealth-backend/pkg/push"
	"emphealth-backend/pkg/response"
)

// TokenService stores device tokens for missed-call notifications
type TokenService interface {
	RegisterToken(ctx context.Context, token *push.Token) error
	UnregisterToken(ctx context.Context, userID uuid.UUID, token string) error
}

// Handler handles push notification HTTP requests
type Handler struct {
	pushService TokenService
}

// NewHandler creates a new push notification handler
func NewHandler(pushService TokenService) *Handler {
	return &Handler{
		pushService: pushService,
	}
}

// RegisterRoutes mounts the handler on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	tokens := rg.Group("/push/tokens")
	tokens.POST("", h.RegisterToken)
	tokens.DELETE("/:token", h.UnregisterToken)
}

// RegisterTokenRequest represents request to register a push token
type RegisterTokenRequest struct {
	Token    string        `json:"token" binding:"required"`
	Platform push.Platform `json:"platform" binding:"required,oneof=ios android web"`
	DeviceID string        `json:"device_id"`
}

// RegisterToken registers a push notification token for the authenticated user
// POST /v1/push/tokens
func (h *Handler) RegisterToken(c *gin.Context) {
	userID, _, ok := middleware.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindingError(c, err)
		return
	}

	token := &push.Token{
		UserID:   userID,
		Token:    req.Token,
		Platform: req.Platform,
		DeviceID: req.DeviceID,
	}
	if err := h.pushService.RegisterToken(c.Request.Context(), token); err != nil {
		h.fail(c, err)
		return
	}

	logger.Info("Push token registered",
		zap.String("user_id", userID.String()),
		zap.String("platform", string(req.Platform)))

	response.Success(c, http.StatusCreated, gin.H{
		"platform":   token.Platform,
		"created_at": token.CreatedAt,
	})
}

// UnregisterToken removes a push notification token of the authenticated user
// DELETE /v1/push/tokens/:token
func (h *Handler) UnregisterToken(c *gin.Context) {
	userID, _, ok := middleware.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	token := c.Param("token")
	if token == "" {
		response.ValidationError(c, "Token is required")
		return
	}

	if err := h.pushService.UnregisterToken(c.Request.Context(), userID, token); err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, database.ErrRedisDegraded) {
		response.Error(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Push token storage is unavailable")
		return
	}
	response.FromError(c, err)
}
