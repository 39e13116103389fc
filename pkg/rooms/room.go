package rooms

import (
	"sync"
	"time"

	"agentbus/pkg/models"
)

// MainChannel is the channel every room owns from creation; joining a
// room auto-subscribes the member to it.
const MainChannel = "main"

// SystemAuthor is the author recorded on engine-emitted audit messages
// (joins, leaves, evictions, task expiries).
const SystemAuthor = "system"

// Limits bound per-room resources.
type Limits struct {
	FileCapacity   int64
	MaxFileSize    int64
	ChannelBacklog int
}

type channelState struct {
	meta     models.Channel
	messages []models.RoomMessage
}

// Room is one collaboration room. All mutation goes through its mutex;
// operations on different rooms proceed fully in parallel.
type Room struct {
	mu sync.Mutex

	meta     models.Room
	members  map[string]*models.Member
	channels map[string]*channelState
	// msgIndex spans all channels: reply-to may reference a message in any
	// channel of the room.
	msgIndex  map[string]*models.RoomMessage
	decisions map[string]*models.Decision
	critiques []models.Critique
	debates   map[string][]models.DebateArgument

	files     []models.SharedFile
	totalSize int64

	limits  Limits
	persist Persister
}

// Persister receives write-behind copies of room state. Implementations
// must tolerate being called under the room lock; a nil Persister
// disables durability.
type Persister interface {
	SaveRoom(models.Room) error
	SaveMember(roomID string, m models.Member) error
	SaveChannel(roomID string, c models.Channel) error
	SaveMessage(roomID string, m models.RoomMessage) error
	SaveDecision(roomID string, d models.Decision) error
	SaveVote(roomID, decisionID, voter, kind string) error
	SaveFile(roomID string, f models.SharedFile) error
	DeleteFile(roomID, fileID string) error
}

// ID returns the room id.
func (r *Room) ID() string { return r.meta.ID }

// Meta returns a copy of the room's durable shape.
func (r *Room) Meta() models.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta
}

// activeMembers returns the currently active members. Caller holds r.mu.
func (r *Room) activeMembers() []*models.Member {
	var out []*models.Member
	for _, m := range r.members {
		if m.Active {
			out = append(out, m)
		}
	}
	return out
}

// isActiveMember reports membership with Active set. Caller holds r.mu.
func (r *Room) isActiveMember(clientID string) bool {
	m, ok := r.members[clientID]
	return ok && m.Active
}

// Summary is a point-in-time snapshot of a room used by get_summary and
// the REST listing.
type Summary struct {
	Room       models.Room       `json:"room"`
	Members    []models.Member   `json:"members"`
	Channels   []models.Channel  `json:"channels"`
	Messages   int               `json:"message_count"`
	Decisions  []models.Decision `json:"decisions"`
	Critiques  []models.Critique `json:"critiques"`
	Files      []models.SharedFile `json:"files"`
	TotalBytes int64             `json:"file_bytes"`
}

// Summary snapshots the room under its lock.
func (r *Room) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Summary{Room: r.meta, TotalBytes: r.totalSize}
	for _, m := range r.members {
		s.Members = append(s.Members, *m)
	}
	for _, ch := range r.channels {
		s.Channels = append(s.Channels, ch.meta)
		s.Messages += len(ch.messages)
	}
	for _, d := range r.decisions {
		s.Decisions = append(s.Decisions, snapshotDecision(d))
	}
	s.Critiques = append(s.Critiques, r.critiques...)
	s.Files = append(s.Files, r.files...)
	return s
}

// Messages returns up to limit messages from a channel in append order.
func (r *Room) Messages(channel string, limit int) ([]models.RoomMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[channel]
	if !ok {
		return nil, errUnknownChannel(channel)
	}
	msgs := ch.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.RoomMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// snapshotDecision copies a decision including its vote sets so callers
// can read it lock-free.
func snapshotDecision(d *models.Decision) models.Decision {
	out := *d
	out.ApprovedBy = copySet(d.ApprovedBy)
	out.VetoedBy = copySet(d.VetoedBy)
	out.Abstained = copySet(d.Abstained)
	out.Alternatives = append([]string(nil), d.Alternatives...)
	out.Amendments = append([]models.Amendment(nil), d.Amendments...)
	return out
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

func now() time.Time { return time.Now().UTC() }
