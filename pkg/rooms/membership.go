package rooms

import (
	"fmt"

	"agentbus/pkg/logger"
	"agentbus/pkg/models"
)

// Join adds a client to the room. Joining twice is idempotent and returns
// false; rejoining after a leave reactivates the member. Every join emits
// a system message on the main channel for audit.
func (r *Room) Join(clientID string, role models.MemberRole, voteWeight float64) (bool, error) {
	if clientID == "" {
		return false, fmt.Errorf("%w: empty client id", models.ErrValidation)
	}
	if voteWeight < 0 {
		return false, fmt.Errorf("%w: vote weight must be >= 0", models.ErrValidation)
	}
	if voteWeight == 0 {
		voteWeight = 1.0
	}

	r.mu.Lock()
	if m, ok := r.members[clientID]; ok {
		if m.Active {
			r.mu.Unlock()
			return false, nil
		}
		m.Active = true
		m.Role = role
		m.VoteWeight = voteWeight
		mm := *m
		r.mu.Unlock()
		r.persistMember(mm)
		r.appendSystemMessage(fmt.Sprintf("%s rejoined as %s", clientID, role))
		return true, nil
	}
	m := &models.Member{
		ClientID:   clientID,
		Role:       role,
		VoteWeight: voteWeight,
		Active:     true,
		JoinedAt:   now(),
	}
	r.members[clientID] = m
	mm := *m
	r.mu.Unlock()

	r.persistMember(mm)
	r.appendSystemMessage(fmt.Sprintf("%s joined as %s (weight %.1f)", clientID, role, voteWeight))
	return true, nil
}

// Leave marks the member inactive, preserving history and prior votes.
func (r *Room) Leave(clientID string) error {
	r.mu.Lock()
	m, ok := r.members[clientID]
	if !ok || !m.Active {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s is not an active member", models.ErrNotFound, clientID)
	}
	m.Active = false
	mm := *m
	r.mu.Unlock()

	r.persistMember(mm)
	r.appendSystemMessage(fmt.Sprintf("%s left the room", clientID))
	return nil
}

// Members returns a snapshot of all members, active and inactive.
func (r *Room) Members() []models.Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, *m)
	}
	return out
}

func (r *Room) persistMember(m models.Member) {
	if r.persist == nil {
		return
	}
	if err := r.persist.SaveMember(r.meta.ID, m); err != nil {
		logger.Warn("member_persist_failed", "room", r.meta.ID, "client", m.ClientID, "error", err)
	}
}
