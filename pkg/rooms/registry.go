package rooms

import (
	"fmt"
	"sync"

	"agentbus/pkg/logger"
	"agentbus/pkg/models"
	"agentbus/pkg/telemetry"
	"agentbus/pkg/utils"
)

// Registry creates and looks up rooms. It is an explicit object built
// once at startup, never a process-wide singleton.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	limits  Limits
	persist Persister
}

// NewRegistry returns a Registry applying limits to every room it
// creates. persist may be nil.
func NewRegistry(limits Limits, persist Persister) *Registry {
	if limits.FileCapacity <= 0 {
		limits.FileCapacity = 100 * 1024 * 1024
	}
	if limits.MaxFileSize <= 0 {
		limits.MaxFileSize = 10 * 1024 * 1024
	}
	if limits.ChannelBacklog <= 0 {
		limits.ChannelBacklog = 5000
	}
	return &Registry{rooms: map[string]*Room{}, limits: limits, persist: persist}
}

// CreateRoom creates an active room with a "main" channel and returns it.
func (g *Registry) CreateRoom(topic string) *Room {
	r := &Room{
		meta: models.Room{
			ID:        utils.GenUUID("room"),
			Topic:     topic,
			CreatedAt: now(),
			Active:    true,
		},
		members:   map[string]*models.Member{},
		channels:  map[string]*channelState{},
		msgIndex:  map[string]*models.RoomMessage{},
		decisions: map[string]*models.Decision{},
		debates:   map[string][]models.DebateArgument{},
		limits:    g.limits,
		persist:   g.persist,
	}
	main := models.Channel{
		ID:        utils.GenUUID("chan"),
		Name:      MainChannel,
		Topic:     topic,
		CreatedAt: r.meta.CreatedAt,
	}
	r.channels[MainChannel] = &channelState{meta: main}

	g.mu.Lock()
	g.rooms[r.meta.ID] = r
	open := len(g.rooms)
	g.mu.Unlock()
	telemetry.OpenRooms.Set(float64(open))

	if g.persist != nil {
		if err := g.persist.SaveRoom(r.meta); err != nil {
			logger.Warn("room_persist_failed", "room", r.meta.ID, "error", err)
		}
		if err := g.persist.SaveChannel(r.meta.ID, main); err != nil {
			logger.Warn("channel_persist_failed", "room", r.meta.ID, "error", err)
		}
	}
	logger.Info("room_created", "room", r.meta.ID, "topic", topic)
	return r
}

// Get returns the room or a not-found error.
func (g *Registry) Get(roomID string) (*Room, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: room %s", models.ErrNotFound, roomID)
	}
	return r, nil
}

// List snapshots the durable shape of every room.
func (g *Registry) List() []models.Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r.Meta())
	}
	return out
}

// Deactivate marks a room inactive. History is preserved; there is no
// deletion path.
func (g *Registry) Deactivate(roomID string) error {
	r, err := g.Get(roomID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.meta.Active = false
	meta := r.meta
	r.mu.Unlock()
	if g.persist != nil {
		if err := g.persist.SaveRoom(meta); err != nil {
			logger.Warn("room_persist_failed", "room", roomID, "error", err)
		}
	}
	logger.Info("room_deactivated", "room", roomID)
	return nil
}

// Adopt inserts a room rebuilt from the durable schema, replacing any
// in-memory room with the same id.
func (g *Registry) Adopt(r *Room) {
	r.limits = g.limits
	r.persist = g.persist
	g.mu.Lock()
	g.rooms[r.meta.ID] = r
	open := len(g.rooms)
	g.mu.Unlock()
	telemetry.OpenRooms.Set(float64(open))
}
