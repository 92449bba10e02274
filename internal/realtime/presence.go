package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"collab-service/internal/models"
)

// PresenceStore keeps the tracked presence metas of every attached connection.
type PresenceStore interface {
	Track(ctx context.Context, roomID, connID string, meta models.PresenceMeta) error
	Untrack(ctx context.Context, roomID, connID string) error
	State(ctx context.Context, roomID string) (map[string][]models.PresenceMeta, error)
}

// MemoryPresence is a process-local PresenceStore.
type MemoryPresence struct {
	mu    sync.RWMutex
	rooms map[string]map[string]models.PresenceMeta
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{rooms: make(map[string]map[string]models.PresenceMeta)}
}

func (p *MemoryPresence) Track(_ context.Context, roomID, connID string, meta models.PresenceMeta) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	conns, ok := p.rooms[roomID]
	if !ok {
		conns = make(map[string]models.PresenceMeta)
		p.rooms[roomID] = conns
	}
	conns[connID] = meta
	return nil
}

func (p *MemoryPresence) Untrack(_ context.Context, roomID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conns, ok := p.rooms[roomID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(p.rooms, roomID)
		}
	}
	return nil
}

func (p *MemoryPresence) State(_ context.Context, roomID string) (map[string][]models.PresenceMeta, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	state := make(map[string][]models.PresenceMeta)
	for _, meta := range p.rooms[roomID] {
		state[meta.UserID] = append(state[meta.UserID], meta)
	}
	return state, nil
}

// Redis key pattern:
// collab:presence:{room_id}   HASH<conn_id, meta json>

func presenceKey(roomID string) string {
	return fmt.Sprintf("collab:presence:%s", roomID)
}

// RedisPresence shares presence across instances through one hash per room.
type RedisPresence struct {
	client *redis.Client
}

func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{client: client}
}

func (p *RedisPresence) Track(ctx context.Context, roomID, connID string, meta models.PresenceMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return p.client.HSet(ctx, presenceKey(roomID), connID, data).Err()
}

func (p *RedisPresence) Untrack(ctx context.Context, roomID, connID string) error {
	return p.client.HDel(ctx, presenceKey(roomID), connID).Err()
}

func (p *RedisPresence) State(ctx context.Context, roomID string) (map[string][]models.PresenceMeta, error) {
	fields, err := p.client.HGetAll(ctx, presenceKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	state := make(map[string][]models.PresenceMeta)
	for _, raw := range fields {
		var meta models.PresenceMeta
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			continue
		}
		state[meta.UserID] = append(state[meta.UserID], meta)
	}
	return state, nil
}
