// Package hub tracks which connections are watching which polls and fans
// live updates out to them. Rooms are process-local: a restart starts from
// empty membership, which is fine because the viewer count is a live-only
// signal.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"pollroom/internal/metrics"
)

// DefaultSettleDelay is how long a disconnect recount is deferred so that
// in-flight membership changes settle before the room is counted. The delay
// affects latency of the count, never its final value: the recount reads
// live membership when it fires.
const DefaultSettleDelay = 100 * time.Millisecond

// Message is the wire envelope for both directions. Inbound messages carry
// Event and ShareID; outbound messages carry Event and Data.
type Message struct {
	Event   string `json:"event"`
	ShareID string `json:"shareId,omitempty"`
	Data    any    `json:"data,omitempty"`
}

const (
	EventJoin         = "poll:join"
	EventLeave        = "poll:leave"
	EventViewersCount = "viewers:count"
	EventVoteUpdate   = "vote:update"
)

type viewersPayload struct {
	Count int `json:"count"`
}

type Hub struct {
	mu          sync.RWMutex
	rooms       map[string]map[*Client]bool
	clientRooms map[*Client]map[string]bool
	settleDelay time.Duration
	log         *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		rooms:       make(map[string]map[*Client]bool),
		clientRooms: make(map[*Client]map[string]bool),
		settleDelay: DefaultSettleDelay,
		log:         log,
	}
}

// Join adds the client to the poll's room and broadcasts the new viewer
// count to everyone in it, the joiner included.
func (h *Hub) Join(c *Client, shareID string) {
	h.mu.Lock()
	if h.rooms[shareID] == nil {
		h.rooms[shareID] = make(map[*Client]bool)
	}
	h.rooms[shareID][c] = true
	if h.clientRooms[c] == nil {
		h.clientRooms[c] = make(map[string]bool)
	}
	h.clientRooms[c][shareID] = true
	members, count := h.roomSnapshot(shareID)
	h.mu.Unlock()

	h.log.Debug("watcher joined", "poll", shareID, "viewers", count)
	h.sendViewersCount(members, count)
}

// Leave removes the client from the poll's room and re-broadcasts the count
// to the remaining watchers.
func (h *Hub) Leave(c *Client, shareID string) {
	h.mu.Lock()
	h.removeFromRoom(c, shareID)
	members, count := h.roomSnapshot(shareID)
	h.mu.Unlock()

	h.log.Debug("watcher left", "poll", shareID, "viewers", count)
	h.sendViewersCount(members, count)
}

// Disconnect removes the client from every room it joined. The recount for
// each affected room is deferred briefly so that racing joins and leaves
// settle before the room is counted.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	affected := make([]string, 0, len(h.clientRooms[c]))
	for shareID := range h.clientRooms[c] {
		affected = append(affected, shareID)
		h.removeFromRoom(c, shareID)
	}
	delete(h.clientRooms, c)
	h.mu.Unlock()

	for _, shareID := range affected {
		shareID := shareID
		time.AfterFunc(h.settleDelay, func() {
			h.mu.RLock()
			members, count := h.roomSnapshot(shareID)
			h.mu.RUnlock()
			h.sendViewersCount(members, count)
		})
	}
}

// BroadcastVote pushes a vote:update payload to every current watcher of the
// poll. Delivery is fire-and-forget: a slow or gone watcher misses the event
// and reconciles on its next full fetch.
func (h *Hub) BroadcastVote(shareID string, payload any) {
	h.mu.RLock()
	members, _ := h.roomSnapshot(shareID)
	h.mu.RUnlock()

	h.broadcast(members, &Message{Event: EventVoteUpdate, Data: payload})
}

// ViewerCount reports current room membership.
func (h *Hub) ViewerCount(shareID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[shareID])
}

// removeFromRoom must be called with h.mu held.
func (h *Hub) removeFromRoom(c *Client, shareID string) {
	if room, ok := h.rooms[shareID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, shareID)
		}
	}
	if rooms, ok := h.clientRooms[c]; ok {
		delete(rooms, shareID)
	}
}

// roomSnapshot must be called with h.mu held.
func (h *Hub) roomSnapshot(shareID string) ([]*Client, int) {
	room := h.rooms[shareID]
	members := make([]*Client, 0, len(room))
	for c := range room {
		members = append(members, c)
	}
	return members, len(room)
}

func (h *Hub) sendViewersCount(members []*Client, count int) {
	h.broadcast(members, &Message{Event: EventViewersCount, Data: viewersPayload{Count: count}})
}

func (h *Hub) broadcast(members []*Client, msg *Message) {
	if len(members) == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("marshal broadcast", "event", msg.Event, "err", err)
		return
	}
	for _, c := range members {
		if !c.Send(data) {
			metrics.IncBroadcastError()
		}
	}
}
