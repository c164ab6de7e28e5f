package gateway

import (
	"errors"
	"log/slog"
	"sync"
)

var ErrHubClosed = errors.New("gateway: hub closed")

// Hub is the per-process room registry. It owns every connected client and
// the room -> clients index used for fanout.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[*Client]struct{}
	closed  bool
	log     *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[*Client]struct{}),
		log:     log,
	}
}

// Register adds an authenticated client and joins it to its personal room.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	h.clients[c.ID] = c
	h.joinLocked(c, UserRoom(c.UserID))
	return nil
}

// Unregister removes the client from every room and closes its send queue.
// Nothing in the hub references the client once it returns.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID]; !ok {
		return false
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	delete(h.clients, c.ID)
	c.closeSendLocked()
	return true
}

func (h *Hub) Join(c *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID]; !ok {
		return false
	}
	h.joinLocked(c, room)
	return true
}

func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) joinLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// EmitToRoom is the fire-and-forget room multicast. It returns how many local
// sockets the event was queued for.
func (h *Hub) EmitToRoom(room, name string, payload any) (int, error) {
	ev, err := NewEvent(room, name, payload)
	if err != nil {
		return 0, err
	}
	return h.Deliver(ev), nil
}

// Deliver queues ev on every local socket of ev.Room except the excluded
// ones. Clients whose queue is full are disconnected.
func (h *Hub) Deliver(ev Event) int {
	data, err := ev.frame()
	if err != nil {
		h.log.Error("encode frame", "event", ev.Name, "error", err)
		return 0
	}

	var (
		delivered int
		slow      []*Client
	)

	h.mu.RLock()
	for c := range h.rooms[ev.Room] {
		if ev.ExceptUser != 0 && c.UserID == ev.ExceptUser {
			continue
		}
		if ev.ExceptConn != "" && c.ID == ev.ExceptConn {
			continue
		}
		select {
		case c.send <- data:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("dropping slow client", "conn_id", c.ID, "user_id", c.UserID)
		if h.Unregister(c) && c.conn != nil {
			_ = c.conn.Close()
		}
	}
	return delivered
}

// sendTo queues a frame for a single client.
func (h *Hub) sendTo(c *Client, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if c.sendClosed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Rooms lists the rooms a client is in.
func (h *Hub) Rooms(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Close disconnects every client and refuses new registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, c := range h.clients {
		for room := range c.rooms {
			h.leaveLocked(c, room)
		}
		c.closeSendLocked()
	}
	h.clients = make(map[string]*Client)
	h.log.Info("hub closed")
}
