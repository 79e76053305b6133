package call

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"emphealth-backend/internal/domain"
	"emphealth-backend/internal/middleware"
	"emphealth-backend/internal/service/callrecord"
	"emphealth-backend/internal/service/signaling"
	"emphealth-backend/pkg/pagination"
	"emphealth-backend/pkg/response"
)

// HistoryService answers call history queries
type HistoryService interface {
	History(ctx context.Context, who callrecord.Requester, limit, offset int) ([]*domain.CallRecord, int64, error)
	Timeline(ctx context.Context, who callrecord.Requester, callID uuid.UUID) ([]domain.CallEvent, error)
}

// LiveState exposes the in-process signaling state
type LiveState interface {
	ActiveCalls(ctx context.Context) ([]signaling.CallSnapshot, error)
	Presence(ctx context.Context) (signaling.PresenceSummary, error)
}

// OnlineCounter counts users online across every process
type OnlineCounter interface {
	OnlineCount(ctx context.Context) (int64, bool)
}

// Handler handles call HTTP requests
type Handler struct {
	history HistoryService
	live    LiveState
	online  OnlineCounter
}

// NewHandler creates a new call handler. online may be nil.
func NewHandler(history HistoryService, live LiveState, online OnlineCounter) *Handler {
	return &Handler{
		history: history,
		live:    live,
		online:  online,
	}
}

// RegisterRoutes mounts the handler on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	calls := rg.Group("/calls")
	calls.GET("", h.ListCalls)
	calls.GET("/active", middleware.RequireRole(domain.RoleAdmin), h.ActiveCalls)
	calls.GET("/:id/events", h.CallEvents)

	rg.GET("/presence", h.Presence)
}

func requester(c *gin.Context) (callrecord.Requester, bool) {
	userID, role, ok := middleware.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return callrecord.Requester{}, false
	}
	return callrecord.Requester{UserID: userID, Role: role}, true
}

// ListCalls returns the caller's call history, newest first
// GET /v1/calls?page=1&limit=20
func (h *Handler) ListCalls(c *gin.Context) {
	who, ok := requester(c)
	if !ok {
		return
	}

	params, err := pagination.ParsePaginationParams(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	calls, total, err := h.history.History(c.Request.Context(), who, params.Limit, params.Offset)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if calls == nil {
		calls = []*domain.CallRecord{}
	}

	response.Success(c, http.StatusOK, pagination.BuildPaginationResponse(params, total, calls))
}

// CallEvents returns the journaled transitions of one call
// GET /v1/calls/:id/events
func (h *Handler) CallEvents(c *gin.Context) {
	who, ok := requester(c)
	if !ok {
		return
	}

	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	events, err := h.history.Timeline(c.Request.Context(), who, callID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"call_id": callID,
		"events":  events,
	})
}

// ActiveCalls returns every live call of this process (admin only)
// GET /v1/calls/active
func (h *Handler) ActiveCalls(c *gin.Context) {
	calls, err := h.live.ActiveCalls(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Signaling is not running")
		return
	}
	if calls == nil {
		calls = []signaling.CallSnapshot{}
	}

	response.Success(c, http.StatusOK, gin.H{
		"calls": calls,
		"total": len(calls),
	})
}

// Presence summarizes who is connected
// GET /v1/presence
func (h *Handler) Presence(c *gin.Context) {
	summary, err := h.live.Presence(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Signaling is not running")
		return
	}

	body := gin.H{
		"participants": summary.Participants,
		"active_calls": summary.ActiveCalls,
	}
	if h.online != nil {
		if count, ok := h.online.OnlineCount(c.Request.Context()); ok {
			body["online_users"] = count
		}
	}

	response.Success(c, http.StatusOK, body)
}
