package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emphealth-backend/internal/service/signaling"
	"emphealth-backend/pkg/jwt"
	"emphealth-backend/pkg/metrics"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type testServer struct {
	hub *SignalingHub
	url string
}

func newTestServer(t *testing.T, cfg HubConfig, jwtManager *jwt.JWTManager) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewSignalingHub(cfg, signaling.NewIdentityResolver(nil), jwtManager, metrics.NewMetrics("test"))
	ctrl := signaling.NewController(signaling.Config{}, signaling.Deps{Sender: hub})
	hub.Attach(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		ctrl.Run(ctx)
		close(stopped)
	}()

	r := gin.New()
	r.GET("/v1/calls/ws", hub.ServeWS)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		hub.Shutdown(shutdownCtx)
		srv.Close()
		cancel()
		<-stopped
		ctrl.Wait()
	})
	return &testServer{hub: hub, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/calls/ws"}
}

func (s *testServer) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(s.url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	payload := map[string]any{"event": event}
	if data != nil {
		payload["data"] = data
	}
	require.NoError(t, conn.WriteJSON(payload))
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// readUntil skips frames until one named event arrives
func readUntil(t *testing.T, conn *websocket.Conn, event string) frame {
	t.Helper()
	for {
		f := readFrame(t, conn)
		if f.Event == event {
			return f
		}
	}
}

func errorCodeOf(t *testing.T, f frame) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &body))
	return body.Code
}

func TestSignalingHub_JoinReturnsOwnInfo(t *testing.T) {
	s := newTestServer(t, HubConfig{}, nil)
	conn := s.dial(t, nil)
	userID := uuid.New()

	writeEvent(t, conn, signaling.EventUserJoined, map[string]any{
		"id": userID, "name": "Dana", "role": "employee",
	})

	f := readFrame(t, conn)
	require.Equal(t, signaling.EventYourInfo, f.Event)
	var info struct {
		ID       uuid.UUID `json:"id"`
		Name     string    `json:"name"`
		SocketID string    `json:"socketId"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &info))
	assert.Equal(t, userID, info.ID)
	assert.Equal(t, "Dana", info.Name)
	assert.NotEmpty(t, info.SocketID)

	assert.Equal(t, signaling.EventAvailableUsers, readFrame(t, conn).Event)
	assert.Equal(t, 1, s.hub.ConnectionCount())
}

func TestSignalingHub_CallBetweenTwoConnections(t *testing.T) {
	s := newTestServer(t, HubConfig{}, nil)
	employee := s.dial(t, nil)
	doctor := s.dial(t, nil)
	employeeID, doctorID := uuid.New(), uuid.New()

	writeEvent(t, employee, signaling.EventUserJoined, map[string]any{"id": employeeID, "name": "Dana", "role": "employee"})
	readUntil(t, employee, signaling.EventYourInfo)
	writeEvent(t, doctor, signaling.EventUserJoined, map[string]any{"id": doctorID, "name": "Dr. Lee", "role": "doctor"})
	readUntil(t, doctor, signaling.EventYourInfo)

	writeEvent(t, employee, signaling.EventInitiateCall, map[string]any{"calleeId": doctorID})

	incoming := readUntil(t, doctor, signaling.EventIncomingCall)
	var call struct {
		CallID uuid.UUID `json:"callId"`
	}
	require.NoError(t, json.Unmarshal(incoming.Data, &call))
	require.NotEqual(t, uuid.Nil, call.CallID)

	writeEvent(t, doctor, signaling.EventAcceptCall, map[string]any{"callId": call.CallID})
	readUntil(t, employee, signaling.EventCallAccepted)

	writeEvent(t, employee, signaling.EventOffer, map[string]any{"callId": call.CallID, "offer": map[string]string{"sdp": "v=0"}})
	offer := readUntil(t, doctor, signaling.EventOffer)
	assert.Contains(t, string(offer.Data), "v=0")

	// dropping the caller ends the call for the callee
	require.NoError(t, employee.Close())
	ended := readUntil(t, doctor, signaling.EventCallEnded)
	assert.Contains(t, string(ended.Data), "disconnect")
}

func TestSignalingHub_MalformedFrame(t *testing.T) {
	s := newTestServer(t, HubConfig{}, nil)
	conn := s.dial(t, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f := readFrame(t, conn)
	assert.Equal(t, signaling.EventCallError, f.Event)
	assert.Equal(t, "INVALID_EVENT", errorCodeOf(t, f))
}

func TestSignalingHub_RateLimitsInboundFrames(t *testing.T) {
	s := newTestServer(t, HubConfig{EventsPerSecond: 0.001, EventBurst: 1}, nil)
	conn := s.dial(t, nil)

	writeEvent(t, conn, signaling.EventGetAvailableUsers, nil)
	writeEvent(t, conn, signaling.EventGetAvailableUsers, nil)

	codes := []string{errorCodeOf(t, readFrame(t, conn)), errorCodeOf(t, readFrame(t, conn))}
	assert.ElementsMatch(t, []string{"NOT_AUTHORIZED", "RATE_LIMIT_EXCEEDED"}, codes)
}

func TestSignalingHub_RejectsWhenAtCapacity(t *testing.T) {
	s := newTestServer(t, HubConfig{MaxConnections: 1}, nil)
	s.dial(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSignalingHub_DuplicateJoinEvictsOlderConnection(t *testing.T) {
	s := newTestServer(t, HubConfig{}, nil)
	first := s.dial(t, nil)
	second := s.dial(t, nil)
	userID := uuid.New()
	joined := map[string]any{"id": userID, "name": "Dana", "role": "employee"}

	writeEvent(t, first, signaling.EventUserJoined, joined)
	readUntil(t, first, signaling.EventYourInfo)
	writeEvent(t, second, signaling.EventUserJoined, joined)
	readUntil(t, second, signaling.EventYourInfo)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := first.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
	}
	assert.Eventually(t, func() bool { return s.hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestSignalingHub_ShutdownClosesConnections(t *testing.T) {
	s := newTestServer(t, HubConfig{}, nil)
	conn := s.dial(t, nil)
	require.Eventually(t, func() bool { return s.hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.hub.Shutdown(ctx)

	assert.Zero(t, s.hub.ConnectionCount())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestSignalingHub_TokenRequiredWhenAuthEnabled(t *testing.T) {
	manager := jwt.NewJWTManager("test-secret-test-secret-test-secret", time.Minute)
	s := newTestServer(t, HubConfig{}, manager)

	_, resp, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	userID := uuid.New()
	token, err := manager.GenerateAccessToken(userID, "Dana", "employee")
	require.NoError(t, err)

	conn := s.dial(t, http.Header{"Authorization": []string{"Bearer " + token}})

	// announcing someone else is refused
	writeEvent(t, conn, signaling.EventUserJoined, map[string]any{"id": uuid.New(), "name": "Eve", "role": "employee"})
	f := readFrame(t, conn)
	assert.Equal(t, signaling.EventCallError, f.Event)
	assert.Equal(t, "NOT_AUTHORIZED", errorCodeOf(t, f))

	writeEvent(t, conn, signaling.EventUserJoined, map[string]any{"id": userID, "name": "Dana", "role": "employee"})
	assert.Equal(t, signaling.EventYourInfo, readFrame(t, conn).Event)
}

func TestSignalingHub_TokenFromQuery(t *testing.T) {
	manager := jwt.NewJWTManager("test-secret-test-secret-test-secret", time.Minute)
	s := newTestServer(t, HubConfig{}, manager)

	token, err := manager.GenerateAccessToken(uuid.New(), "Dana", "employee")
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(s.url+"?token="+token, nil)
	require.NoError(t, err)
	resp.Body.Close()
	conn.Close()
}

func TestSignalingHub_RejectedTokenUsesErrorEnvelope(t *testing.T) {
	manager := jwt.NewJWTManager("test-secret-test-secret-test-secret", time.Minute)
	s := newTestServer(t, HubConfig{}, manager)

	tests := []struct {
		name   string
		header http.Header
		code   string
	}{
		{"missing token", nil, "UNAUTHORIZED"},
		{"wrong scheme", http.Header{"Authorization": []string{"Basic abc"}}, "UNAUTHORIZED"},
		{"garbage token", http.Header{"Authorization": []string{"Bearer not-a-jwt"}}, "INVALID_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(s.url, tt.header)
			require.Error(t, err)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			var body struct {
				Success bool `json:"success"`
				Error   struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}
