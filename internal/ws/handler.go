package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"go-signal/internal/fanout"
	"go-signal/internal/middleware"
	"go-signal/internal/presence"
	"go-signal/internal/registry"
	"go-signal/internal/signal"
	"go-signal/internal/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// envelope is the inbound client frame. One shape for everything; the
// type field selects which other fields matter.
type envelope struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	RecipientID    string `json:"recipient_id,omitempty"`
}

// outbound is the server frame for chat and typing events fanned out
// to conversation viewers.
type outbound struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	Content        string    `json:"content,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// Handler upgrades authenticated requests to websocket connections and
// routes inbound frames to the subsystems that own them.
type Handler struct {
	reg      registry.Registry
	table    *transport.Table
	presence *presence.Tracker
	fan      *fanout.Engine
	calls    *signal.Controller
	log      *slog.Logger
}

func NewHandler(reg registry.Registry, table *transport.Table, tracker *presence.Tracker, fan *fanout.Engine, calls *signal.Controller, log *slog.Logger) *Handler {
	return &Handler{
		reg:      reg,
		table:    table,
		presence: tracker,
		fan:      fan,
		calls:    calls,
		log:      log,
	}
}

// ServeWS handles GET /ws. Identity comes from the auth middleware;
// the connection id is minted here and lives until the read pump dies.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("ws: upgrade failed", "err", err)
		return
	}

	connID := uuid.NewString()
	if err := h.reg.Register(r.Context(), connID, userID); err != nil {
		h.log.Error("ws: register failed", "connection_id", connID, "err", err)
		conn.Close()
		return
	}

	client := &Client{
		ConnID:      connID,
		UserID:      userID,
		DisplayName: middleware.DisplayName(r.Context()),
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		closed:      make(chan struct{}),
		handler:     h,
		log:         h.log,
	}
	h.table.Attach(connID, client)

	h.log.Info("ws: connected", "connection_id", connID, "user_id", userID)

	go client.writePump()
	go client.readPump()
}

// route dispatches one inbound frame. Frames arrive after the HTTP
// request is long gone, so each unit of work gets its own deadline.
func (h *Handler) route(c *Client, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.log.Debug("ws: malformed frame", "connection_id", c.ConnID, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch env.Type {
	case "viewing":
		if err := h.reg.UpdateVisibleConversation(ctx, c.ConnID, env.ConversationID); err != nil {
			h.log.Warn("ws: update visible conversation", "connection_id", c.ConnID, "err", err)
		}

	case "message", "typing":
		if env.ConversationID == "" {
			return
		}
		payload, err := json.Marshal(outbound{
			Type:           env.Type,
			ConversationID: env.ConversationID,
			SenderID:       c.UserID,
			SenderName:     c.DisplayName,
			Content:        env.Content,
			SentAt:         time.Now().UTC(),
		})
		if err != nil {
			h.log.Error("ws: marshal outbound", "err", err)
			return
		}
		h.fan.Deliver(ctx, fanout.ToConversation(env.ConversationID), payload, fanout.Options{
			ExcludeUser: c.UserID,
		})

	case "accept":
		if err := h.calls.Accept(ctx, c.UserID, env.RecipientID, env.SessionID, c.DisplayName); err != nil {
			h.log.Warn("ws: accept", "session_id", env.SessionID, "err", err)
		}

	case "decline":
		if err := h.calls.Decline(ctx, c.UserID, env.RecipientID, env.SessionID); err != nil {
			h.log.Warn("ws: decline", "session_id", env.SessionID, "err", err)
		}

	case "end":
		if err := h.calls.End(ctx, c.UserID, env.RecipientID, env.SessionID); err != nil {
			h.log.Warn("ws: end", "session_id", env.SessionID, "err", err)
		}

	default:
		h.log.Debug("ws: unknown frame type", "type", env.Type, "connection_id", c.ConnID)
	}
}

// handleDisconnect runs exactly once per connection, after the read
// pump exits.
func (h *Handler) handleDisconnect(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h.table.Detach(c.ConnID)
	if err := h.presence.HandleDisconnect(ctx, c.ConnID); err != nil {
		h.log.Warn("ws: disconnect handling failed", "connection_id", c.ConnID, "err", err)
	}
	h.log.Info("ws: disconnected", "connection_id", c.ConnID, "user_id", c.UserID)
}
