package models

import "time"

// Room is the durable shape of a collaboration room. The live engine in
// pkg/rooms owns richer bookkeeping; this is the wire/persisted view.
type Room struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
}

// Member is one client's standing inside a room. Leaving flips Active to
// false but preserves history.
type Member struct {
	ClientID      string     `json:"client_id"`
	Role          MemberRole `json:"role"`
	VoteWeight    float64    `json:"vote_weight"`
	Active        bool       `json:"active"`
	JoinedAt      time.Time  `json:"joined_at"`
	Contributions int        `json:"contribution_count"`
}

// Channel is a named sub-stream of room messages. Every room carries a
// "main" channel from creation.
type Channel struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Topic     string    `json:"topic,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomMessage is one entry in a channel. ReplyTo links messages into a
// forest over ids within the room; a message never replies to itself or
// to a descendant.
type RoomMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Channel   string    `json:"channel"`
	ReplyTo   string    `json:"reply_to,omitempty"`
	Type      string    `json:"type,omitempty"`
	Mentions  []string  `json:"mentions,omitempty"`
}

// Critique references an existing RoomMessage; creation fails when the
// target is unknown.
type Critique struct {
	ID        string   `json:"id"`
	TargetID  string   `json:"target_message_id"`
	From      string   `json:"from"`
	Text      string   `json:"text"`
	Severity  Severity `json:"severity"`
	Resolved  bool     `json:"resolved"`
}

// SharedFile is one upload held against a room's bounded capacity. The id
// is a content-hash prefix, so identical bytes map to the same id. Data
// is kept out of JSON listings; retrieval returns it base64-encoded.
type SharedFile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	UploadedBy  string    `json:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	Channel     string    `json:"channel"`
	Data        []byte    `json:"-"`
}

// Task is one queued work item bridged through a room. Expired tasks are
// force-completed with status "timeout" by the background sweep.
type Task struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"room_id"`
	From        string    `json:"from"`
	Text        string    `json:"text"`
	Status      string    `json:"status"`
	ClaimedBy   string    `json:"claimed_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Deadline    time.Time `json:"deadline"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Task status values.
const (
	TaskQueued    = "queued"
	TaskClaimed   = "claimed"
	TaskDone      = "done"
	TaskTimeout   = "timeout"
)
