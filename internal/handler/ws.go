package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/avinashrudhra/robotics/internal/auth"
	"github.com/avinashrudhra/robotics/internal/chat"
	"github.com/avinashrudhra/robotics/internal/metrics"
	"github.com/avinashrudhra/robotics/internal/models"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	inactivityTick    = 10 * time.Second
	maxCommandsPerSec = 20

	inactivityReason = "Logged out due to inactivity"
)

type WSHandler struct {
	Room   *chat.Room
	Tokens *auth.TokenManager

	allowedOrigins    []string
	inactivityTimeout time.Duration
	maxMessageBytes   int64
	upgrader          websocket.Upgrader
}

// NewWSHandler wires the event channel endpoint. inactivityTimeout of
// zero disables the idle auto-logout policy. maxMessageBytes bounds a
// single inbound frame and must cover the largest allowed media payload.
func NewWSHandler(room *chat.Room, tokens *auth.TokenManager, allowedOrigins []string, inactivityTimeout time.Duration, maxMessageBytes int64) *WSHandler {
	h := &WSHandler{
		Room:              room,
		Tokens:            tokens,
		allowedOrigins:    allowedOrigins,
		inactivityTimeout: inactivityTimeout,
		maxMessageBytes:   maxMessageBytes,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(h.allowedOrigins) == 0 || origin == "" {
		return false
	}

	normalizedOrigin, ok := normalizeHTTPSOrigin(origin)
	if !ok {
		return false
	}

	for _, allowed := range h.allowedOrigins {
		if strings.EqualFold(strings.TrimSpace(allowed), normalizedOrigin) {
			return true
		}
	}
	return false
}

func normalizeHTTPSOrigin(origin string) (string, bool) {
	originURL, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || originURL.Scheme == "" || originURL.Host == "" {
		return "", false
	}
	if !strings.EqualFold(originURL.Scheme, "https") {
		return "", false
	}
	if (originURL.Path != "" && originURL.Path != "/") || originURL.RawQuery != "" || originURL.Fragment != "" || originURL.User != nil {
		return "", false
	}
	return "https://" + strings.ToLower(originURL.Host), true
}

// WSClient is one live connection. It implements chat.Connection: Deliver
// serializes under the room lock and hands bytes to the write pump
// without ever blocking.
type WSClient struct {
	connID   string
	identity string
	conn     *websocket.Conn
	send     chan []byte

	closeOnce    sync.Once
	lastActivity atomic.Int64

	commandCount int
	lastReset    time.Time
}

func (c *WSClient) ID() string { return c.connID }

func (c *WSClient) Deliver(ev models.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("Failed to marshal event", "type", ev.Type, "error", err)
		return
	}
	select {
	case c.send <- b:
	default:
		// Slow consumer; drop rather than stall the room.
	}
}

func (c *WSClient) Close(reason string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(writeWait)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
		_ = c.conn.Close()
	})
}

func (c *WSClient) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *WSClient) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	identity, err := h.Tokens.Validate(token)
	if err != nil {
		slog.Warn("WebSocket token validation failed", "error", err)
		http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade error", "error", err)
		return
	}

	client := &WSClient{
		connID:    uuid.New().String(),
		identity:  identity,
		conn:      conn,
		send:      make(chan []byte, 256),
		lastReset: time.Now(),
	}
	client.touch()

	metrics.ActiveConnections.Inc()
	slog.Info("WebSocket connected", "conn_id", client.connID, "identity", identity)

	go h.writePump(client)
	h.readPump(client)
}

func (h *WSHandler) readPump(client *WSClient) {
	defer func() {
		h.Room.Disconnect(client)
		close(client.send)
		client.conn.Close()
		metrics.ActiveConnections.Dec()
		slog.Info("WebSocket disconnected", "conn_id", client.connID, "identity", client.identity)
	}()

	client.conn.SetReadLimit(h.maxMessageBytes)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			break
		}

		if time.Since(client.lastReset) > time.Second {
			client.commandCount = 0
			client.lastReset = time.Now()
		}
		client.commandCount++
		if client.commandCount > maxCommandsPerSec {
			slog.Warn("WebSocket command rate exceeded", "identity", client.identity)
			return
		}

		var cmd models.Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			continue
		}
		client.touch()

		if !h.dispatch(client, &cmd) {
			return
		}
	}
}

// dispatch runs one command; a false return severs the connection.
func (h *WSHandler) dispatch(client *WSClient, cmd *models.Command) bool {
	switch cmd.Type {
	case models.CmdJoin:
		if _, err := h.Room.Join(client.identity, client); err != nil {
			client.Deliver(models.Event{Type: models.EvError, Data: models.ErrorData{Message: joinErrorMessage(err)}})
			client.Close(joinErrorMessage(err))
			slog.Warn("Join rejected", "identity", client.identity, "conn_id", client.connID, "error", err)
			return false
		}

	case models.CmdSendText:
		h.Room.AppendText(client.identity, client.connID, cmd.Text, cmd.Disappear, cmd.ReplyTo)

	case models.CmdSendImage:
		h.Room.AppendImage(client.identity, client.connID, cmd.Data, cmd.Name, cmd.Disappear)

	case models.CmdSendVoice:
		h.Room.AppendVoice(client.identity, client.connID, cmd.Data, cmd.Duration, cmd.Disappear)

	case models.CmdTypingStart:
		h.Room.Typing(client.identity, client.connID, true)

	case models.CmdTypingStop:
		h.Room.Typing(client.identity, client.connID, false)

	case models.CmdMarkRead:
		h.Room.MarkRead(client.identity, client.connID, cmd.IDs)

	case models.CmdEdit:
		// Forbidden/NotFound/AlreadyDeleted are silent no-ops at the
		// protocol level; the client never offered the affordance.
		if err := h.Room.Edit(client.identity, client.connID, cmd.ID, cmd.Text); err != nil {
			slog.Debug("Edit ignored", "id", cmd.ID, "identity", client.identity, "error", err)
		}

	case models.CmdDelete:
		if err := h.Room.SoftDelete(client.identity, client.connID, cmd.ID); err != nil {
			slog.Debug("Delete ignored", "id", cmd.ID, "identity", client.identity, "error", err)
		}

	case models.CmdClearAll:
		h.Room.Clear(client.identity, client.connID)

	case models.CmdUpdateDefaults:
		enabled := cmd.Enabled != nil && *cmd.Enabled
		h.Room.UpdateDefaults(client.identity, client.connID, enabled, cmd.Disappear)
	}
	return true
}

func joinErrorMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrRoomFull):
		return "Chat room is full. Maximum 2 users allowed."
	default:
		return "Invalid user"
	}
}

func (h *WSHandler) writePump(client *WSClient) {
	ticker := time.NewTicker(pingPeriod)
	idleTicker := time.NewTicker(inactivityTick)
	defer func() {
		ticker.Stop()
		idleTicker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := client.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-idleTicker.C:
			if h.inactivityTimeout <= 0 || client.idleFor() < h.inactivityTimeout {
				continue
			}
			slog.Info("Closing idle connection", "conn_id", client.connID, "identity", client.identity)
			// Write the notice directly: this goroutine owns the data
			// frames, so the event lands before the close frame.
			if b, err := json.Marshal(models.Event{Type: models.EvForcedLogout, Data: models.ForcedLogoutData{Reason: inactivityReason}}); err == nil {
				client.conn.SetWriteDeadline(time.Now().Add(writeWait))
				client.conn.WriteMessage(websocket.TextMessage, b)
			}
			client.Close(inactivityReason)
			return
		}
	}
}
