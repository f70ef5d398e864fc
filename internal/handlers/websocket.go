package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/healthpulse/pulse/internal/interfaces"
	"github.com/healthpulse/pulse/internal/services/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage is the envelope every broadcast frame uses.
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// client is one authenticated subscriber session. Subscribers exist only
// after the presenting credential validated; there is no startup-time
// registration.
type client struct {
	conn     *websocket.Conn
	mu       sync.Mutex
	tenantID int
	subject  string
	jobName  string // optional filter; empty subscribes to all of the tenant's jobs
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WebSocketHandler fans job and step progress events out to authenticated
// subscribers, filtered by tenant.
type WebSocketHandler struct {
	authService  *auth.Service
	eventService interfaces.EventService
	logger       arbor.ILogger

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewWebSocketHandler creates the handler and wires its event subscriptions.
func NewWebSocketHandler(authService *auth.Service, eventService interfaces.EventService, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		authService:  authService,
		eventService: eventService,
		logger:       logger,
		clients:      make(map[*client]bool),
	}

	for _, eventType := range []interfaces.EventType{
		interfaces.EventJobStarted,
		interfaces.EventStepStatusChanged,
		interfaces.EventJobFinished,
		interfaces.EventJobResetScheduled,
		interfaces.EventJobResetCompleted,
		interfaces.EventJobFailed,
	} {
		if err := eventService.Subscribe(eventType, h.broadcastEvent); err != nil {
			logger.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to subscribe websocket handler")
		}
	}

	authService.OnRevoke(h.DisconnectSubject)

	return h
}

// HandleWebSocket authenticates the handshake and registers the subscriber.
// Invalid credentials close the session with a policy-violation reason.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	bearer := r.Header.Get("Authorization")
	if bearer == "" {
		bearer = r.URL.Query().Get("token")
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	session, err := h.authService.Authenticate(r.Context(), bearer)
	if err != nil {
		closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid credential")
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		conn.Close()
		return
	}

	c := &client{
		conn:     conn,
		tenantID: session.TenantID,
		subject:  session.Subject,
		jobName:  r.URL.Query().Get("job_name"),
	}

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().
		Int("tenant_id", c.tenantID).
		Str("subject", c.subject).
		Int("total", count).
		Msg("WebSocket subscriber connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Info().
			Int("tenant_id", c.tenantID).
			Int("remaining", remaining).
			Msg("WebSocket subscriber disconnected")
	}()

	// Keep the connection alive; subscribers are receive-only.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// broadcastEvent fans one progress event out to matching subscribers.
func (h *WebSocketHandler) broadcastEvent(ctx context.Context, event interfaces.Event) error {
	msg := WSMessage{Type: string(event.Type), Payload: event}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal event")
		return err
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.tenantID != event.TenantID {
			continue
		}
		if c.jobName != "" && c.jobName != event.JobName {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(data); err != nil {
			h.logger.Warn().
				Err(err).
				Int("tenant_id", c.tenantID).
				Msg("Failed to send event to subscriber")
		}
	}
	return nil
}

// DisconnectSubject closes every session held by a subject. Wired to logout
// and credential rotation.
func (h *WebSocketHandler) DisconnectSubject(subject string) {
	h.mu.RLock()
	targets := make([]*client, 0)
	for c := range h.clients {
		if c.subject == subject {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "credential revoked")
		_ = c.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		c.conn.Close()
	}

	if len(targets) > 0 {
		h.logger.Info().
			Str("subject", subject).
			Int("sessions", len(targets)).
			Msg("Subject sessions disconnected")
	}
}

// CloseAll disconnects every subscriber during shutdown.
func (h *WebSocketHandler) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
}
