package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/healthpulse/pulse/internal/interfaces"
	"github.com/healthpulse/pulse/internal/models"
	"github.com/healthpulse/pulse/internal/services/auth"
	"github.com/healthpulse/pulse/internal/services/events"
)

// fakeAuthStorage maps tokens to tenants in memory.
type fakeAuthStorage struct {
	tokens map[string]int // token -> tenant
}

func (s *fakeAuthStorage) LookupToken(ctx context.Context, token string) (int, string, error) {
	tenantID, ok := s.tokens[token]
	if !ok {
		return 0, "", models.Errorf(models.ErrKindAuth, "unknown or revoked credential")
	}
	return tenantID, "subject-" + token, nil
}

func (s *fakeAuthStorage) RevokeSubject(ctx context.Context, subject string) error {
	token := strings.TrimPrefix(subject, "subject-")
	delete(s.tokens, token)
	return nil
}

type wsHarness struct {
	server  *httptest.Server
	events  interfaces.EventService
	auth    *auth.Service
	handler *WebSocketHandler
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()

	logger := arbor.NewLogger()
	storage := &fakeAuthStorage{tokens: map[string]int{"tenant-one-token": 1, "tenant-two-token": 2}}
	authService := auth.NewService(storage, logger)
	eventService := events.NewService(logger)
	handler := NewWebSocketHandler(authService, eventService, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.HandleWebSocket)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &wsHarness{server: server, events: eventService, auth: authService, handler: handler}
}

func (h *wsHarness) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSubscriberReceivesTenantEvents(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "tenant-one-token")

	// Give the server a beat to register the subscriber.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, h.events.PublishSync(context.Background(), interfaces.Event{
		Type:      interfaces.EventJobStarted,
		TenantID:  1,
		JobName:   "nightly-sync",
		Timestamp: time.Now(),
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, string(interfaces.EventJobStarted), msg.Type)
}

func TestEventsAreFilteredByTenant(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "tenant-two-token")

	time.Sleep(100 * time.Millisecond)

	// An event for tenant 1 must not reach a tenant-2 subscriber.
	require.NoError(t, h.events.PublishSync(context.Background(), interfaces.Event{
		Type:      interfaces.EventJobFinished,
		TenantID:  1,
		JobName:   "nightly-sync",
		Timestamp: time.Now(),
	}))

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "tenant-2 subscriber must not receive tenant-1 events")
}

func TestInvalidCredentialClosesSession(t *testing.T) {
	h := newWSHarness(t)

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?token=bogus"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}

func TestRevokeDisconnectsSubjectSessions(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "tenant-one-token")

	time.Sleep(100 * time.Millisecond)

	require.NoError(t, h.auth.Revoke(context.Background(), "subject-tenant-one-token"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}
