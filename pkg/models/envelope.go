package models

import "time"

// Broadcast is the sentinel recipient that addresses every client.
const Broadcast = "all"

// Envelope is one addressed message unit on the bus. Envelopes are
// immutable once stored; corrections are new envelopes.
type Envelope struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Addressed reports whether the envelope targets the given client,
// counting broadcast envelopes as addressed to everyone.
func (e Envelope) Addressed(clientID string) bool {
	return e.To == clientID || e.To == Broadcast
}

// PendingAck tracks one confirmed send through the delivery state machine.
// An entry occupies exactly one state at a time; transitions are one-way
// except sent returning to pending on retry.
type PendingAck struct {
	MessageID string              `json:"message_id"`
	State     AckState            `json:"state"`
	SentTo    map[string]struct{} `json:"-"`
	AckedBy   map[string]struct{} `json:"-"`
	Retries   int                 `json:"retries"`
	CreatedAt time.Time           `json:"created_at"`
	Timeout   time.Duration       `json:"-"`
}
