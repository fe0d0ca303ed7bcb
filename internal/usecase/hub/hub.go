// Package hub keeps the set of live client connections and their room
// memberships, and fans events out to the rooms they target.
package hub

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"remotedev/internal/domain"
)

// EventConnected is the first message every connection receives.
const EventConnected = "connected"

// DefaultQueueSize is the per-connection outbound queue capacity.
const DefaultQueueSize = 256

// Message is one outbound event for a connection.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnectedPayload is the acknowledgement sent on connect.
type ConnectedPayload struct {
	Message   string    `json:"message"`
	ClientID  string    `json:"clientId"`
	Timestamp time.Time `json:"timestamp"`
}

// Conn is a live connection owned by the Hub. The transport drains
// Outbound and writes each message to the client in order.
type Conn struct {
	id       string
	remote   string
	rooms    map[string]struct{} // guarded by Hub.mu
	out      chan Message
	done     chan struct{}
	dropped  atomic.Uint64
	joinedAt time.Time
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Outbound returns the ordered queue of messages for this connection. It is
// closed when the connection is unregistered.
func (c *Conn) Outbound() <-chan Message { return c.out }

// Done is closed when the connection is unregistered.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Dropped returns how many messages were discarded because the queue was full.
func (c *Conn) Dropped() uint64 { return c.dropped.Load() }

// Config holds configuration for the Hub.
type Config struct {
	QueueSize int // per-connection outbound capacity (default: 256)
}

// Hub owns every Connection for its connected lifetime. Broadcasts are
// serialised under mu, so members of a room receive its events in call
// order.
type Hub struct {
	mu     sync.Mutex
	conns  map[string]*Conn
	rooms  map[string]map[string]*Conn
	config Config
	logger *slog.Logger
}

// New creates a Hub.
func New(cfg Config, logger *slog.Logger) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Hub{
		conns:  make(map[string]*Conn),
		rooms:  make(map[string]map[string]*Conn),
		config: cfg,
		logger: logger.With(slog.String("component", "hub")),
	}
}

// Register adds a connection and queues the connected acknowledgement as
// its first message.
func (h *Hub) Register(remote string) *Conn {
	c := &Conn{
		id:       uuid.NewString(),
		remote:   remote,
		rooms:    make(map[string]struct{}),
		out:      make(chan Message, h.config.QueueSize),
		done:     make(chan struct{}),
		joinedAt: time.Now(),
	}
	ack, _ := json.Marshal(ConnectedPayload{
		Message:   "Connected to remote development server",
		ClientID:  c.id,
		Timestamp: c.joinedAt,
	})

	h.mu.Lock()
	h.conns[c.id] = c
	c.out <- Message{Event: EventConnected, Payload: ack}
	h.mu.Unlock()

	h.logger.Info("client connected", "conn_id", c.id, "remote", remote)
	return c
}

// Unregister removes the connection and every room membership it held.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		for room := range c.rooms {
			h.removeMemberLocked(room, id)
		}
		c.rooms = nil
		delete(h.conns, id)
		close(c.done)
		close(c.out)
	}
	h.mu.Unlock()

	if ok {
		h.logger.Info("client disconnected", "conn_id", id, "dropped", c.Dropped())
	}
}

// Join adds the connection to room. Joining twice is not an error.
func (h *Hub) Join(id, room string) error {
	if room == "" {
		return domain.NewSubSystemError("hub", "Hub.Join", domain.ErrInvalidInput, "empty room")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[id]
	if !ok {
		return domain.NewSubSystemError("hub", "Hub.Join", domain.ErrNotFound, id)
	}
	c.rooms[room] = struct{}{}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		h.rooms[room] = members
	}
	members[id] = c
	return nil
}

// Leave removes the connection from room. Leaving a room never joined is
// not an error.
func (h *Hub) Leave(id, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[id]
	if !ok {
		return domain.NewSubSystemError("hub", "Hub.Leave", domain.ErrNotFound, id)
	}
	delete(c.rooms, room)
	h.removeMemberLocked(room, id)
	return nil
}

// Broadcast sends event to every current member of room and returns the
// number of connections it was queued for.
func (h *Hub) Broadcast(room, event string, payload any) int {
	return h.BroadcastRooms([]string{room}, event, payload)
}

// BroadcastRooms sends event once to every connection that is a member of
// at least one of rooms.
func (h *Hub) BroadcastRooms(rooms []string, event string, payload any) int {
	msg, ok := h.message(event, payload)
	if !ok {
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sent := make(map[string]struct{})
	for _, room := range rooms {
		for id, c := range h.rooms[room] {
			if _, dup := sent[id]; dup {
				continue
			}
			sent[id] = struct{}{}
			h.enqueueLocked(c, msg)
		}
	}
	return len(sent)
}

// BroadcastAll sends event to every connection.
func (h *Hub) BroadcastAll(event string, payload any) int {
	msg, ok := h.message(event, payload)
	if !ok {
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.conns {
		h.enqueueLocked(c, msg)
	}
	return len(h.conns)
}

// SendTo queues event for a single connection.
func (h *Hub) SendTo(id, event string, payload any) error {
	msg, ok := h.message(event, payload)
	if !ok {
		return domain.NewSubSystemError("hub", "Hub.SendTo", domain.ErrInvalidInput, "payload not serialisable")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	c, found := h.conns[id]
	if !found {
		return domain.NewSubSystemError("hub", "Hub.SendTo", domain.ErrNotFound, id)
	}
	h.enqueueLocked(c, msg)
	return nil
}

// Clients returns the ids of all live connections.
func (h *Hub) Clients() []string {
	h.mu.Lock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// IsConnected reports whether id is a live connection.
func (h *Hub) IsConnected(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[id]
	return ok
}

// Rooms returns the rooms id is a member of.
func (h *Hub) Rooms(id string) []string {
	h.mu.Lock()
	c, ok := h.conns[id]
	var rooms []string
	if ok {
		rooms = make([]string, 0, len(c.rooms))
		for r := range c.rooms {
			rooms = append(rooms, r)
		}
	}
	h.mu.Unlock()
	slices.Sort(rooms)
	return rooms
}

// Close unregisters every connection.
func (h *Hub) Close() {
	for _, id := range h.Clients() {
		h.Unregister(id)
	}
}

// --- internal ---

func (h *Hub) message(event string, payload any) (Message, bool) {
	if raw, ok := payload.(json.RawMessage); ok {
		return Message{Event: event, Payload: raw}, true
	}
	if payload == nil {
		return Message{Event: event}, true
	}
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal broadcast payload", "event", event, "error", err)
		return Message{}, false
	}
	return Message{Event: event, Payload: data}, true
}

func (h *Hub) enqueueLocked(c *Conn, msg Message) {
	select {
	case c.out <- msg:
	default:
		c.dropped.Add(1)
		h.logger.Warn("dropped event for slow client", "conn_id", c.id, "event", msg.Event)
	}
}

func (h *Hub) removeMemberLocked(room, id string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}
