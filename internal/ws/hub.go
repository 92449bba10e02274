package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"collab-service/internal/models"
	"collab-service/internal/observability"
	"collab-service/internal/realtime"
)

// roomConn is the part of *websocket.Conn the hub writes through.
type roomConn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// peer owns one connection's outbound queue. Only its writer goroutine
// writes data frames; pings go through WriteControl.
type peer struct {
	conn roomConn
	info ConnInfo
	send chan []byte
	done chan struct{}
	stop sync.Once
}

func (p *peer) enqueue(payload []byte) bool {
	select {
	case <-p.done:
		return true
	default:
	}
	select {
	case p.send <- payload:
		return true
	default:
		return false
	}
}

// close reports whether this call was the one that stopped the peer.
func (p *peer) close() bool {
	stopped := false
	p.stop.Do(func() {
		close(p.done)
		stopped = true
	})
	return stopped
}

// Hub maintains the connections attached to each session channel on this instance
// and relays room envelopes between the bus and those connections.
type Hub struct {
	rooms     map[string]map[string]*peer
	mu        sync.RWMutex
	bus       realtime.Bus
	presence  realtime.PresenceStore
	writeWait time.Duration
	queueSize int
}

const (
	defaultWriteWait = 10 * time.Second
	peerQueueSize    = 256
)

// NewHub creates an empty hub.
func NewHub(bus realtime.Bus, presence realtime.PresenceStore, writeWait time.Duration) *Hub {
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}
	return &Hub{
		rooms:     make(map[string]map[string]*peer),
		bus:       bus,
		presence:  presence,
		writeWait: writeWait,
		queueSize: peerQueueSize,
	}
}

// Start subscribes to the bus and delivers envelopes to local connections until ctx ends.
func (h *Hub) Start(ctx context.Context) error {
	envelopes, err := h.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	go h.run(ctx, envelopes)
	return nil
}

func (h *Hub) run(ctx context.Context, envelopes <-chan realtime.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-envelopes:
			if !ok {
				return
			}
			h.deliver(env)
		}
	}
}

// AddClient registers a websocket connection to a session channel and starts its writer.
func (h *Hub) AddClient(roomID string, conn roomConn, info ConnInfo) {
	p := &peer{conn: conn, info: info, send: make(chan []byte, h.queueSize), done: make(chan struct{})}
	h.mu.Lock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*peer)
	}
	h.rooms[roomID][info.ConnID] = p
	h.mu.Unlock()
	go h.writePump(roomID, p)
}

// RemoveClient detaches a connection and drops any presence it tracked.
func (h *Hub) RemoveClient(ctx context.Context, roomID, connID string) {
	h.mu.Lock()
	if conns, ok := h.rooms[roomID]; ok {
		if p, ok := conns[connID]; ok {
			p.close()
			delete(conns, connID)
		}
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()

	if err := h.Untrack(ctx, roomID, connID); err != nil {
		observability.L().Warn().Err(err).Str(observability.FieldSessionID, roomID).Str(observability.FieldConnID, connID).Msg("presence cleanup failed")
	}
}

// ClientCount returns the number of local connections attached to a room.
func (h *Hub) ClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// PublishChange mirrors a committed row change to every connection on the room.
func (h *Hub) PublishChange(ctx context.Context, roomID string, ev models.ChangeEvent) error {
	observability.IncChangeEvent(ev.Table, ev.Op)
	return h.bus.Publish(ctx, realtime.Envelope{
		RoomID: roomID,
		Frame:  models.ServerFrame{Family: models.FamilyChange, Change: &ev},
	})
}

// Broadcast relays an ephemeral event to every connection except the sender.
func (h *Hub) Broadcast(ctx context.Context, roomID, originConnID string, ev models.BroadcastEvent) error {
	observability.IncBroadcastEvent(ev.Event)
	return h.bus.Publish(ctx, realtime.Envelope{
		RoomID:       roomID,
		OriginConnID: originConnID,
		Frame:        models.ServerFrame{Family: models.FamilyBroadcast, Broadcast: &ev},
	})
}

// Track records the connection's presence meta and syncs the room.
func (h *Hub) Track(ctx context.Context, roomID, connID string, meta models.PresenceMeta) error {
	if err := h.presence.Track(ctx, roomID, connID, meta); err != nil {
		return err
	}
	return h.syncPresence(ctx, roomID)
}

// Untrack drops the connection's presence meta and syncs the room.
func (h *Hub) Untrack(ctx context.Context, roomID, connID string) error {
	if err := h.presence.Untrack(ctx, roomID, connID); err != nil {
		return err
	}
	return h.syncPresence(ctx, roomID)
}

func (h *Hub) syncPresence(ctx context.Context, roomID string) error {
	state, err := h.presence.State(ctx, roomID)
	if err != nil {
		return err
	}
	observability.ObservePresenceSync(len(state))
	return h.bus.Publish(ctx, realtime.Envelope{
		RoomID: roomID,
		Frame:  models.ServerFrame{Family: models.FamilyPresence, Presence: &models.PresenceSync{State: state}},
	})
}

func (h *Hub) deliver(env realtime.Envelope) {
	h.mu.RLock()
	targets := make([]*peer, 0, len(h.rooms[env.RoomID]))
	for connID, p := range h.rooms[env.RoomID] {
		if env.OriginConnID != "" && connID == env.OriginConnID {
			continue
		}
		targets = append(targets, p)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	payload, err := json.Marshal(env.Frame)
	if err != nil {
		observability.L().Error().Err(err).Str(observability.FieldSessionID, env.RoomID).Msg("failed to encode room frame")
		return
	}
	for _, p := range targets {
		if !p.enqueue(payload) {
			h.evict(env.RoomID, p, "send queue full")
		}
	}
}

// writePump drains the peer's queue until the peer is removed or a write fails.
func (h *Hub) writePump(roomID string, p *peer) {
	for {
		select {
		case <-p.done:
			return
		case payload := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				observability.L().Warn().Err(err).Str(observability.FieldConnID, p.info.ConnID).Msg("websocket write error")
				h.evict(roomID, p, err.Error())
				return
			}
		}
	}
}

// evict stops a peer and closes its socket. The connection's read loop then
// detaches it from the room and withdraws its presence.
func (h *Hub) evict(roomID string, p *peer, reason string) {
	if !p.close() {
		return
	}
	observability.IncEvictedPeer()
	observability.L().Warn().
		Str(observability.FieldSessionID, roomID).
		Str(observability.FieldConnID, p.info.ConnID).
		Str("reason", reason).
		Msg("evicting room connection")
	_ = p.conn.Close()
	publishWSEvent(context.Background(), roomID, p.info, "ws_evicted", reason)
}

func (h *Hub) ping(roomID, connID string) error {
	h.mu.RLock()
	p, ok := h.rooms[roomID][connID]
	h.mu.RUnlock()
	if !ok {
		return websocket.ErrCloseSent
	}
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeWait))
}
