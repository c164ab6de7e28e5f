package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// TokenCookie is the cookie carrying the access token.
	TokenCookie = "accessToken"

	requestTimeout = 5 * time.Second
)

// TokenValidator resolves a bearer credential to a user.
type TokenValidator interface {
	ValidateToken(tokenString string) (int, string, error)
}

// Broadcaster fans an event out to every process.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev Event) error
}

// MembershipChecker answers whether a user participates in a chat.
type MembershipChecker interface {
	IsParticipant(ctx context.Context, chatID string, userID int) (bool, error)
}

type Options struct {
	VerifyJoin       bool
	HandshakeTimeout time.Duration
	SendBuffer       int
	AllowedOrigins   []string
}

type Handler struct {
	hub         *Hub
	validator   TokenValidator
	broadcaster Broadcaster
	members     MembershipChecker
	opts        Options
	upgrader    websocket.Upgrader
	log         *slog.Logger
}

// NewHandler builds the websocket endpoint. A nil broadcaster keeps
// presence events inside this process.
func NewHandler(hub *Hub, validator TokenValidator, broadcaster Broadcaster, members MembershipChecker, opts Options, log *slog.Logger) *Handler {
	if broadcaster == nil {
		broadcaster = localBroadcaster{hub: hub}
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}

	h := &Handler{
		hub:         hub,
		validator:   validator,
		broadcaster: broadcaster,
		members:     members,
		opts:        opts,
		log:         log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.opts.AllowedOrigins, r.Header.Get("Origin"))
}

// ServeWs upgrades the request and runs the handshake. Authentication
// failures are reported with a socketError frame before the close.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	// Covers the auth frame too, which arrives before readPump starts.
	conn.SetReadLimit(maxMessageSize)

	token := TokenFromRequest(r)
	if token == "" {
		token = h.awaitAuthFrame(conn)
	}
	if token == "" {
		h.reject(conn, "unauthorized handshake: token is missing")
		return
	}

	userID, username, err := h.validator.ValidateToken(token)
	if err != nil {
		h.reject(conn, "unauthorized handshake: "+err.Error())
		return
	}

	client := NewClient(conn, userID, username, h.opts.SendBuffer)
	// Queued before registration so it precedes any room event.
	connected, _ := encodeFrame(EventConnected, nil)
	client.send <- connected

	if err := h.hub.Register(client); err != nil {
		h.reject(conn, "server is shutting down")
		return
	}
	h.log.Info("user connected", "user_id", userID, "conn_id", client.ID)

	go client.writePump()
	go h.readPump(client)
}

// TokenFromRequest looks for the credential in the cookie, the
// Authorization header and the token query parameter, in that order.
func TokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(TokenCookie); err == nil {
		if token := strings.TrimSpace(cookie.Value); token != "" {
			return token
		}
	}
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

type authPayload struct {
	Token string `json:"token"`
}

// awaitAuthFrame reads the explicit handshake payload when the upgrade
// request carried no credential.
func (h *Handler) awaitAuthFrame(conn *websocket.Conn) string {
	conn.SetReadDeadline(time.Now().Add(h.opts.HandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return ""
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Event != EventAuth {
		return ""
	}
	var auth authPayload
	if err := json.Unmarshal(frame.Data, &auth); err != nil {
		return ""
	}
	return strings.TrimSpace(auth.Token)
}

func (h *Handler) reject(conn *websocket.Conn, reason string) {
	h.log.Info("handshake rejected", "remote", conn.RemoteAddr().String(), "reason", reason)

	deadline := time.Now().Add(writeWait)
	conn.SetWriteDeadline(deadline)
	conn.WriteMessage(websocket.TextMessage, errorFrame(reason))
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"), deadline)
	conn.Close()
}

// readPump dispatches client frames one at a time until the connection dies.
func (h *Handler) readPump(c *Client) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
		h.log.Info("user disconnected", "user_id", c.UserID, "conn_id", c.ID)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read failed", "conn_id", c.ID, "error", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			h.hub.sendTo(c, errorFrame("invalid frame payload"))
			continue
		}
		h.dispatch(c, frame)
	}
}

func (h *Handler) dispatch(c *Client, frame Frame) {
	switch frame.Event {
	case EventJoinChat:
		h.joinChat(c, frame.Data)
	case EventLeaveChat:
		if chatID, ok := decodeChatID(frame.Data); ok {
			h.hub.Leave(c, ChatRoom(chatID))
		}
	case EventTyping, EventStopTyping:
		h.relayPresence(c, frame.Event, frame.Data)
	default:
		h.hub.sendTo(c, errorFrame("unknown event "+frame.Event))
	}
}

func (h *Handler) joinChat(c *Client, data json.RawMessage) {
	chatID, ok := decodeChatID(data)
	if !ok {
		h.hub.sendTo(c, errorFrame("joinChat requires a chat id"))
		return
	}

	if h.opts.VerifyJoin && h.members != nil {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		member, err := h.members.IsParticipant(ctx, chatID, c.UserID)
		cancel()
		if err != nil {
			h.hub.sendTo(c, errorFrame("could not join chat: "+err.Error()))
			return
		}
		if !member {
			h.hub.sendTo(c, errorFrame("not a participant of this chat"))
			return
		}
	}
	h.hub.Join(c, ChatRoom(chatID))
}

// relayPresence forwards typing indicators to the rest of the room.
func (h *Handler) relayPresence(c *Client, event string, data json.RawMessage) {
	chatID, ok := decodeChatID(data)
	if !ok {
		return
	}
	room := ChatRoom(chatID)
	if !h.hub.InRoom(c, room) {
		return
	}

	ev, err := NewEvent(room, event, chatID)
	if err != nil {
		return
	}
	ev.ExceptConn = c.ID

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := h.broadcaster.Broadcast(ctx, ev); err != nil {
		h.log.Warn("presence broadcast failed", "event", event, "chat_id", chatID, "error", err)
	}
}

func decodeChatID(data json.RawMessage) (string, bool) {
	var chatID string
	if err := json.Unmarshal(data, &chatID); err != nil {
		return "", false
	}
	chatID = strings.TrimSpace(chatID)
	return chatID, chatID != ""
}

type localBroadcaster struct {
	hub *Hub
}

func (b localBroadcaster) Broadcast(_ context.Context, ev Event) error {
	b.hub.Deliver(ev)
	return nil
}
