package ginserver

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"campusmarket/internal/app/dto"
	chatapp "campusmarket/internal/app/handlers/chat"
	"campusmarket/internal/app/queries"
	"campusmarket/internal/infra/realtime"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS already allows every origin; bearer tokens guard the stream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RealtimeHandler streams change events over a websocket. Without parameters it follows the
// caller's user topic; with ?conversation_id= it follows that conversation.
type RealtimeHandler struct {
	Hub     *realtime.Hub
	Queries queries.Bus
	Logger  *slog.Logger
}

func (h RealtimeHandler) Stream(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	if h.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime unavailable"})
		return
	}
	topic := realtime.UserTopic(principal.ID)
	if conversationID := strings.TrimSpace(c.Query("conversation_id")); conversationID != "" {
		_, err := queries.Ask[chatapp.GetConversationQuery, dto.Conversation](c.Request.Context(), h.Queries,
			chatapp.GetConversationQuery{UserID: principal.ID, ConversationID: conversationID})
		if err != nil {
			respondError(c, h.Logger, err, "realtime subscribe", "conversation_id", conversationID)
			return
		}
		topic = realtime.ConversationTopic(conversationID)
	}

	sub, err := h.Hub.Subscribe(topic)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime unavailable"})
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Debug("websocket upgrade failed", "error", err)
		}
		return
	}
	defer conn.Close()
	if h.Logger != nil {
		h.Logger.Debug("realtime stream opened", "topic", topic, "user_id", principal.ID)
	}

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, sub, done)
}

// readPump drains client frames so control messages are processed, and signals when the
// peer goes away.
func (h RealtimeHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h RealtimeHandler) writePump(conn *websocket.Conn, sub *realtime.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ RealtimeHTTP = (*RealtimeHandler)(nil)
