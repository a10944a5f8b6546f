package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ragpal/ragpal/internal/generate"
	"github.com/ragpal/ragpal/internal/session"
)

const (
	wsReadTimeout  = 30 * time.Second
	wsWriteTimeout = 10 * time.Second

	// wsCloseReason mirrors the end-of-stream close reason browser clients
	// already expect.
	wsCloseReason = "End of Message"
)

// wsMessage is the single JSON frame shape of the WebSocket channel.
type wsMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	HTML    string `json:"html,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *chatHandler) newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(originSet) == 0 {
				return true
			}
			_, ok := originSet[r.Header.Get("Origin")]
			return ok
		},
	}
}

// websocketHandler returns the GET /api/v1/chat/ws handler. One generation
// per connection: the client sends a single request frame, receives a
// start sentinel, chunk frames, and a done frame, then the server closes
// the connection normally.
func (h *chatHandler) websocketHandler(allowedOrigins []string) http.HandlerFunc {
	upgrader := h.newUpgrader(allowedOrigins)

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Debug("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close() //nolint:errcheck

		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			h.wsError(conn, errors.New("invalid request frame"))
			return
		}

		// Session comes from the ?session query parameter; the request
		// frame may carry it instead.
		sessionID := r.URL.Query().Get("session")
		if sessionID == "" {
			sessionID = req.SessionID
		}
		sess, err := h.sessions.Get(sessionID)
		if err != nil {
			h.wsError(conn, err)
			return
		}

		// Abort the generation when the client goes away. The read loop
		// fails as soon as the peer closes or drops the connection.
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			_ = conn.SetReadDeadline(time.Time{})
			for {
				if _, _, err := conn.NextReader(); err != nil {
					cancel()
					return
				}
			}
		}()

		transport := &wsTransport{conn: conn}
		err = h.coordinator.StreamWith(ctx, sess, req.Query, transport, req.options())
		switch {
		case err == nil:
			h.closeNormal(conn, sess.ID)
		case errors.Is(err, context.Canceled):
			h.logger.Info("websocket client disconnected", "session_id", sess.ID)
		case errors.Is(err, session.ErrBusy), errors.Is(err, generate.ErrEmptyQuery):
			h.wsError(conn, err)
		default:
			h.logger.Warn("websocket stream ended with error", "session_id", sess.ID, "error", err)
		}
	}
}

func (h *chatHandler) closeNormal(conn *websocket.Conn, sessionID string) {
	deadline := time.Now().Add(wsWriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, wsCloseReason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		h.logger.Debug("websocket close failed", "session_id", sessionID, "error", err)
	}
}

// wsError sends an error frame and closes the connection.
func (h *chatHandler) wsError(conn *websocket.Conn, err error) {
	_, code := classify(err)
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteJSON(wsMessage{Type: eventError, Code: code, Message: err.Error()})
	deadline := time.Now().Add(wsWriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
}

// wsTransport delivers generation output as JSON frames. The coordinator
// calls it from a single goroutine, matching gorilla's one-writer rule.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Start(context.Context) error {
	return t.write(wsMessage{Type: "start"})
}

func (t *wsTransport) Fragment(_ context.Context, text string) error {
	return t.write(wsMessage{Type: eventChunk, Text: text})
}

func (t *wsTransport) Done(_ context.Context, final generate.Final) error {
	return t.write(wsMessage{Type: eventDone, Text: final.Text, HTML: final.HTML})
}

func (t *wsTransport) Fail(_ context.Context, err error) {
	_, code := classify(err)
	_ = t.write(wsMessage{Type: eventError, Code: code, Message: err.Error()})
}

func (t *wsTransport) write(msg wsMessage) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return t.conn.WriteJSON(msg)
}
