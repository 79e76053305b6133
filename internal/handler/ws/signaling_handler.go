package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"emphealth-backend/internal/domain"
	"emphealth-backend/internal/middleware"
	"emphealth-backend/internal/service/signaling"
	"emphealth-backend/pkg/constants"
	apperrors "emphealth-backend/pkg/errors"
	"emphealth-backend/pkg/jwt"
	"emphealth-backend/pkg/logger"
	"emphealth-backend/pkg/metrics"
	"emphealth-backend/pkg/response"
)

// Dispatcher is the part of the signaling controller the hub feeds
type Dispatcher interface {
	Dispatch(ctx context.Context, conn domain.ConnID, ev signaling.Inbound) error
	Disconnect(conn domain.ConnID)
	SendError(conn domain.ConnID, callID *uuid.UUID, err error)
}

// HubConfig holds transport limits
type HubConfig struct {
	MaxConnections  int
	EventsPerSecond float64
	EventBurst      int
	AllowedOrigins  []string
}

// SignalingHub owns the WebSocket connections of the signaling endpoint.
// It implements signaling.Sender.
type SignalingHub struct {
	clients map[domain.ConnID]*SignalingClient
	mu      sync.RWMutex

	dispatcher Dispatcher
	resolver   *signaling.IdentityResolver
	jwtManager *jwt.JWTManager
	metrics    *metrics.Metrics

	cfg      HubConfig
	upgrader websocket.Upgrader

	// Semaphore for limiting concurrent connections
	semaphore chan struct{}
}

// SignalingClient represents a WebSocket client for signaling
type SignalingClient struct {
	hub     *SignalingHub
	id      domain.ConnID
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	subject *uuid.UUID

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewSignalingHub creates a hub. jwtManager may be nil, in which case
// connections are anonymous until they announce themselves.
func NewSignalingHub(cfg HubConfig, resolver *signaling.IdentityResolver, jwtManager *jwt.JWTManager, m *metrics.Metrics) *SignalingHub {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1000
	}
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = 20
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = 40
	}

	h := &SignalingHub{
		clients:    make(map[domain.ConnID]*SignalingClient),
		resolver:   resolver,
		jwtManager: jwtManager,
		metrics:    m,
		cfg:        cfg,
		semaphore:  make(chan struct{}, cfg.MaxConnections),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.OriginAllowed(h.cfg.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
	return h
}

// Attach sets the controller events are dispatched to. It must be called
// before the hub serves connections.
func (h *SignalingHub) Attach(d Dispatcher) {
	h.dispatcher = d
}

// Send queues msg for conn without blocking. A client whose queue is full
// is disconnected.
func (h *SignalingHub) Send(conn domain.ConnID, msg signaling.Outbound) {
	h.mu.RLock()
	client, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	frame, err := msg.Encode()
	if err != nil {
		logger.Error("Failed to encode signaling frame",
			zap.String("event", msg.Event),
			zap.String("conn_id", conn.String()),
			zap.Error(err))
		return
	}

	select {
	case client.send <- frame:
		h.metrics.RecordWebSocketMessage("outbound")
	default:
		logger.Warn("Signaling client too slow, closing connection",
			zap.String("conn_id", conn.String()))
		h.metrics.RecordWebSocketError("slow_consumer")
		client.close()
	}
}

// Close shuts down conn after its queued frames are written
func (h *SignalingHub) Close(conn domain.ConnID) {
	h.mu.RLock()
	client, ok := h.clients[conn]
	h.mu.RUnlock()
	if ok {
		client.close()
	}
}

// ConnectionCount returns the number of live connections
func (h *SignalingHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection and waits until each has been handed
// back to the dispatcher or ctx is done
func (h *SignalingHub) Shutdown(ctx context.Context) {
	h.mu.RLock()
	clients := make([]*SignalingClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for h.ConnectionCount() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *SignalingHub) register(c *SignalingClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetWebSocketConnections(count)
}

func (h *SignalingHub) unregister(c *SignalingClient) {
	h.mu.Lock()
	delete(h.clients, c.id)
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetWebSocketConnections(count)
}

// authenticate returns the token subject, or nil when auth is disabled
func (h *SignalingHub) authenticate(c *gin.Context) (*uuid.UUID, error) {
	if h.jwtManager == nil {
		return nil, nil
	}

	token := c.Query("token")
	if header := c.GetHeader("Authorization"); header != "" {
		bearer, ok := middleware.BearerToken(header)
		if !ok {
			return nil, apperrors.UnauthorizedError("Invalid authorization header format")
		}
		token = bearer
	}
	if token == "" {
		return nil, apperrors.UnauthorizedError("Token required")
	}

	claims, err := h.jwtManager.ValidateToken(token)
	if err != nil {
		logger.Debug("WebSocket token rejected", zap.Error(err))
		return nil, apperrors.InvalidTokenError("Invalid or expired token")
	}
	subject := claims.UserID
	return &subject, nil
}

// ServeWS handles WebSocket requests for signaling
func (h *SignalingHub) ServeWS(c *gin.Context) {
	if h.dispatcher == nil {
		response.Error(c, http.StatusServiceUnavailable, string(apperrors.ErrCodeServiceUnavail), "Signaling is not ready")
		return
	}

	subject, err := h.authenticate(c)
	if err != nil {
		response.FromError(c, err)
		return
	}

	// Acquire semaphore to limit concurrent connections
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.cfg.MaxConnections))
		h.metrics.RecordWebSocketError("capacity")
		response.Error(c, http.StatusServiceUnavailable, string(apperrors.ErrCodeServiceUnavail), "Server at capacity, please try again later")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		h.metrics.RecordWebSocketError("upgrade")
		logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(constants.MaxSignalingMessageSize)

	ctx, cancel := context.WithCancel(context.Background())
	client := &SignalingClient{
		hub:     h,
		id:      domain.NewConnID(),
		conn:    conn,
		send:    make(chan []byte, constants.ClientSendBuffer),
		limiter: rate.NewLimiter(rate.Limit(h.cfg.EventsPerSecond), h.cfg.EventBurst),
		subject: subject,
		ctx:     ctx,
		cancel:  cancel,
	}
	h.register(client)

	logger.Debug("Signaling connection opened",
		zap.String("conn_id", client.id.String()),
		zap.String("remote_addr", c.ClientIP()))

	go client.writePump()
	go client.readPump()
}

// close stops the client; the write pump flushes and closes the socket
func (c *SignalingClient) close() {
	c.closeOnce.Do(c.cancel)
}

// readPump reads messages from WebSocket
func (c *SignalingClient) readPump() {
	defer func() {
		c.close()
		c.hub.unregister(c)
		c.hub.dispatcher.Disconnect(c.id)
		<-c.hub.semaphore
		logger.Debug("Signaling connection closed", zap.String("conn_id", c.id.String()))
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket connection closed unexpectedly",
					zap.String("conn_id", c.id.String()),
					zap.Error(err))
			}
			return
		}
		c.hub.metrics.RecordWebSocketMessage("inbound")

		if !c.limiter.Allow() {
			c.hub.metrics.RecordRateLimitBlocked("websocket")
			c.hub.dispatcher.SendError(c.id, nil, apperrors.RateLimitExceededError())
			continue
		}

		ev, err := signaling.DecodeInbound(message)
		if err != nil {
			c.hub.dispatcher.SendError(c.id, nil, err)
			continue
		}

		if joined, ok := ev.(signaling.UserJoined); ok {
			joined, err = c.hub.resolver.Resolve(c.ctx, c.subject, joined)
			if err != nil {
				c.hub.dispatcher.SendError(c.id, nil, err)
				continue
			}
			ev = joined
		}

		if err := c.hub.dispatcher.Dispatch(c.ctx, c.id, ev); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Warn("Failed to dispatch signaling event",
					zap.String("conn_id", c.id.String()),
					zap.Error(err))
			}
			return
		}
	}
}

// writePump writes messages to WebSocket
func (c *SignalingClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.ctx.Done():
			c.flush()
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes frames already queued when the client was closed
func (c *SignalingClient) flush() {
	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *SignalingClient) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
	return c.conn.WriteMessage(messageType, data)
}
