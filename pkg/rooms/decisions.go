package rooms

import (
	"fmt"

	"agentbus/pkg/logger"
	"agentbus/pkg/models"
	"agentbus/pkg/utils"
)

func errUnknownDecision(id string) error {
	return fmt.Errorf("%w: decision %s", models.ErrNotFound, id)
}

// ProposeDecision opens a proposal for voting. requiredVotes only applies
// to the quorum policy; zero selects the default max(3, active/2)
// computed at proposal time.
func (r *Room) ProposeDecision(from, text string, voteType models.VoteType, requiredVotes int) (models.Decision, error) {
	r.mu.Lock()
	if !r.isActiveMember(from) {
		r.mu.Unlock()
		return models.Decision{}, fmt.Errorf("%w: %s is not an active member", models.ErrNotFound, from)
	}
	if voteType == models.VoteQuorum && requiredVotes <= 0 {
		requiredVotes = len(r.activeMembers()) / 2
		if requiredVotes < 3 {
			requiredVotes = 3
		}
	}
	d := &models.Decision{
		ID:            utils.GenUUID("dec"),
		Text:          text,
		ProposedBy:    from,
		ProposedAt:    now(),
		VoteType:      voteType,
		RequiredVotes: requiredVotes,
		ApprovedBy:    map[string]struct{}{},
		VetoedBy:      map[string]struct{}{},
		Abstained:     map[string]struct{}{},
	}
	r.decisions[d.ID] = d
	snap := snapshotDecision(d)
	r.mu.Unlock()

	r.persistDecision(snap)
	r.appendSystemMessage(fmt.Sprintf("%s proposed decision %s (%s): %s", from, snap.ID, voteType, text))
	return snap, nil
}

// Vote records a vote event and re-tallies the decision. approve=false
// without veto is an abstention: recorded, never counted toward approval.
// Voting on a vetoed decision is rejected at the boundary.
func (r *Room) Vote(decisionID, from string, approve, veto bool) (models.Decision, error) {
	r.mu.Lock()
	if !r.isActiveMember(from) {
		r.mu.Unlock()
		return models.Decision{}, fmt.Errorf("%w: %s is not an active member", models.ErrNotFound, from)
	}
	d, ok := r.decisions[decisionID]
	if !ok {
		r.mu.Unlock()
		return models.Decision{}, errUnknownDecision(decisionID)
	}
	if d.Vetoed {
		r.mu.Unlock()
		return models.Decision{}, fmt.Errorf("%w: decision %s is vetoed", models.ErrValidation, decisionID)
	}

	kind := "abstain"
	switch {
	case veto:
		kind = "veto"
		d.VetoedBy[from] = struct{}{}
		d.Vetoed = true
		delete(d.Abstained, from)
	case approve:
		kind = "approve"
		d.ApprovedBy[from] = struct{}{}
		delete(d.Abstained, from)
	default:
		d.Abstained[from] = struct{}{}
		delete(d.ApprovedBy, from)
	}
	r.tallyLocked(d)
	snap := snapshotDecision(d)
	r.mu.Unlock()

	r.persistVote(decisionID, from, kind)
	r.persistDecision(snap)
	if snap.Vetoed {
		r.appendSystemMessage(fmt.Sprintf("%s vetoed decision %s", from, decisionID))
	} else if snap.Approved {
		r.appendSystemMessage(fmt.Sprintf("decision %s approved (%s)", decisionID, snap.VoteType))
	}
	return snap, nil
}

// tallyLocked recomputes Approved from the current vote sets. It never
// caches: every vote event re-evaluates the policy against the members
// active right now. A veto short-circuits permanently. Caller holds r.mu.
func (r *Room) tallyLocked(d *models.Decision) {
	if d.Vetoed {
		d.Approved = false
		return
	}
	active := r.activeMembers()
	switch d.VoteType {
	case models.VoteConsensus:
		if len(active) == 0 {
			d.Approved = false
			return
		}
		for _, m := range active {
			if _, ok := d.ApprovedBy[m.ClientID]; !ok {
				d.Approved = false
				return
			}
		}
		d.Approved = true
	case models.VoteQuorum:
		d.Approved = len(d.ApprovedBy) >= d.RequiredVotes
	case models.VoteWeighted:
		var total, got float64
		for _, m := range active {
			total += m.VoteWeight
			if _, ok := d.ApprovedBy[m.ClientID]; ok {
				got += m.VoteWeight
			}
		}
		d.Approved = got > total/2
	default: // simple majority, strict: a tie does not pass
		d.Approved = 2*len(d.ApprovedBy) > len(active)
	}
}

// Decision returns a snapshot of one decision.
func (r *Room) Decision(decisionID string) (models.Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.decisions[decisionID]
	if !ok {
		return models.Decision{}, errUnknownDecision(decisionID)
	}
	return snapshotDecision(d), nil
}

// ProposeAmendment appends an unaccepted amendment to a decision.
func (r *Room) ProposeAmendment(decisionID, from, text string) (models.Amendment, error) {
	r.mu.Lock()
	if !r.isActiveMember(from) {
		r.mu.Unlock()
		return models.Amendment{}, fmt.Errorf("%w: %s is not an active member", models.ErrNotFound, from)
	}
	d, ok := r.decisions[decisionID]
	if !ok {
		r.mu.Unlock()
		return models.Amendment{}, errUnknownDecision(decisionID)
	}
	a := models.Amendment{ID: utils.GenUUID("amd"), From: from, Text: text}
	d.Amendments = append(d.Amendments, a)
	snap := snapshotDecision(d)
	r.mu.Unlock()

	r.persistDecision(snap)
	return a, nil
}

// AcceptAmendment overwrites the decision text with the amendment text
// and marks it accepted. Prior votes are kept: votes cast against the
// pre-amendment text remain counted toward the amended text's tally,
// which is recomputed immediately since the active-member set may have
// shifted since the last vote event.
func (r *Room) AcceptAmendment(decisionID, amendmentID string) (models.Decision, error) {
	r.mu.Lock()
	d, ok := r.decisions[decisionID]
	if !ok {
		r.mu.Unlock()
		return models.Decision{}, errUnknownDecision(decisionID)
	}
	found := false
	for i := range d.Amendments {
		if d.Amendments[i].ID == amendmentID {
			d.Amendments[i].Accepted = true
			d.Text = d.Amendments[i].Text
			found = true
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return models.Decision{}, fmt.Errorf("%w: amendment %s", models.ErrNotFound, amendmentID)
	}
	wasApproved := d.Approved
	r.tallyLocked(d)
	snap := snapshotDecision(d)
	r.mu.Unlock()

	r.persistDecision(snap)
	r.appendSystemMessage(fmt.Sprintf("decision %s amended: %s", decisionID, snap.Text))
	if snap.Approved && !wasApproved {
		r.appendSystemMessage(fmt.Sprintf("decision %s approved (%s)", decisionID, snap.VoteType))
	}
	return snap, nil
}

// ProposeAlternative creates a sibling decision voted on independently,
// inheriting the original's vote type and quorum unless overridden, and
// records the link on the original.
func (r *Room) ProposeAlternative(originalID, from, text string, voteType models.VoteType) (models.Decision, error) {
	r.mu.Lock()
	orig, ok := r.decisions[originalID]
	if !ok {
		r.mu.Unlock()
		return models.Decision{}, errUnknownDecision(originalID)
	}
	if !r.isActiveMember(from) {
		r.mu.Unlock()
		return models.Decision{}, fmt.Errorf("%w: %s is not an active member", models.ErrNotFound, from)
	}
	if voteType == "" {
		voteType = orig.VoteType
	}
	alt := &models.Decision{
		ID:            utils.GenUUID("dec"),
		Text:          text,
		ProposedBy:    from,
		ProposedAt:    now(),
		VoteType:      voteType,
		RequiredVotes: orig.RequiredVotes,
		ApprovedBy:    map[string]struct{}{},
		VetoedBy:      map[string]struct{}{},
		Abstained:     map[string]struct{}{},
	}
	r.decisions[alt.ID] = alt
	orig.Alternatives = append(orig.Alternatives, alt.ID)
	altSnap := snapshotDecision(alt)
	origSnap := snapshotDecision(orig)
	r.mu.Unlock()

	r.persistDecision(altSnap)
	r.persistDecision(origSnap)
	r.appendSystemMessage(fmt.Sprintf("%s proposed alternative %s to %s: %s", from, altSnap.ID, originalID, text))
	return altSnap, nil
}

// AddDebateArgument attaches a pro/con entry to a decision. The debate is
// unconstrained: any active member may add any number of arguments.
func (r *Room) AddDebateArgument(decisionID, from string, position models.Position, text string, evidence []string) (models.DebateArgument, error) {
	r.mu.Lock()
	if !r.isActiveMember(from) {
		r.mu.Unlock()
		return models.DebateArgument{}, fmt.Errorf("%w: %s is not an active member", models.ErrNotFound, from)
	}
	if _, ok := r.decisions[decisionID]; !ok {
		r.mu.Unlock()
		return models.DebateArgument{}, errUnknownDecision(decisionID)
	}
	arg := models.DebateArgument{
		ID:         utils.GenUUID("arg"),
		DecisionID: decisionID,
		From:       from,
		Position:   position,
		Text:       text,
		Evidence:   append([]string(nil), evidence...),
	}
	r.debates[decisionID] = append(r.debates[decisionID], arg)
	r.mu.Unlock()
	return arg, nil
}

// DebateSummary partitions a decision's arguments by position.
func (r *Room) DebateSummary(decisionID string) (pro, con []models.DebateArgument, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.decisions[decisionID]; !ok {
		return nil, nil, errUnknownDecision(decisionID)
	}
	for _, a := range r.debates[decisionID] {
		if a.Position == models.PositionPro {
			pro = append(pro, a)
		} else {
			con = append(con, a)
		}
	}
	return pro, con, nil
}

// SendCritique attaches a critique to an existing room message. An
// unknown target fails with not-found and leaves the critique list
// unchanged. The store records blocking critiques but does not gate
// voting on them; that policy belongs to the caller.
func (r *Room) SendCritique(from, targetMessageID, text string, severity models.Severity) (models.Critique, error) {
	r.mu.Lock()
	if !r.isActiveMember(from) {
		r.mu.Unlock()
		return models.Critique{}, fmt.Errorf("%w: %s is not an active member", models.ErrNotFound, from)
	}
	if _, ok := r.msgIndex[targetMessageID]; !ok {
		r.mu.Unlock()
		return models.Critique{}, fmt.Errorf("%w: message %s", models.ErrNotFound, targetMessageID)
	}
	c := models.Critique{
		ID:       utils.GenUUID("crit"),
		TargetID: targetMessageID,
		From:     from,
		Text:     text,
		Severity: severity,
	}
	r.critiques = append(r.critiques, c)
	r.mu.Unlock()
	return c, nil
}

// ResolveCritique marks a critique resolved.
func (r *Room) ResolveCritique(critiqueID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.critiques {
		if r.critiques[i].ID == critiqueID {
			r.critiques[i].Resolved = true
			return nil
		}
	}
	return fmt.Errorf("%w: critique %s", models.ErrNotFound, critiqueID)
}

// Critiques snapshots the room's critiques.
func (r *Room) Critiques() []models.Critique {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Critique(nil), r.critiques...)
}

func (r *Room) persistDecision(d models.Decision) {
	if r.persist == nil {
		return
	}
	if err := r.persist.SaveDecision(r.meta.ID, d); err != nil {
		logger.Warn("decision_persist_failed", "room", r.meta.ID, "decision", d.ID, "error", err)
	}
}

func (r *Room) persistVote(decisionID, voter, kind string) {
	if r.persist == nil {
		return
	}
	if err := r.persist.SaveVote(r.meta.ID, decisionID, voter, kind); err != nil {
		logger.Warn("vote_persist_failed", "room", r.meta.ID, "decision", decisionID, "error", err)
	}
}
