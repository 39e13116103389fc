package models

import "time"

// Decision is one proposal under a vote policy. Approved is recomputed
// deterministically from the vote sets after every vote event; once
// Vetoed is set it can never become approved again.
type Decision struct {
	ID            string              `json:"id"`
	Text          string              `json:"text"`
	ProposedBy    string              `json:"proposed_by"`
	ProposedAt    time.Time           `json:"proposed_at"`
	VoteType      VoteType            `json:"vote_type"`
	RequiredVotes int                 `json:"required_votes,omitempty"`
	ApprovedBy    map[string]struct{} `json:"-"`
	VetoedBy      map[string]struct{} `json:"-"`
	Abstained     map[string]struct{} `json:"-"`
	Approved      bool                `json:"approved"`
	Vetoed        bool                `json:"vetoed"`
	Alternatives  []string            `json:"alternatives,omitempty"`
	Amendments    []Amendment         `json:"amendments,omitempty"`
}

// Amendment is a proposed text replacement applied only once accepted.
// Acceptance overwrites the decision text without resetting prior votes;
// that is deliberate source behavior, asserted by tests rather than fixed.
type Amendment struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	Text     string `json:"text"`
	Accepted bool   `json:"accepted"`
}

// DebateArgument is one pro/con entry attached to a decision. Any active
// member may add any number of them.
type DebateArgument struct {
	ID         string   `json:"id"`
	DecisionID string   `json:"decision_id"`
	From       string   `json:"from"`
	Position   Position `json:"position"`
	Text       string   `json:"text"`
	Evidence   []string `json:"evidence,omitempty"`
}
