package rooms

import "agentbus/pkg/models"

// VoteRecord is one persisted vote event, replayed in insertion order
// during rehydration.
type VoteRecord struct {
	DecisionID string
	Voter      string
	Kind       string // approve | veto | abstain
}

// State carries everything needed to rebuild a room from the durable
// schema.
type State struct {
	Room      models.Room
	Members   []models.Member
	Channels  []models.Channel
	Messages  []models.RoomMessage
	Decisions []models.Decision
	Votes     []VoteRecord
	Files     []models.SharedFile
}

// Rehydrate rebuilds a live room from persisted state. Vote sets are
// replayed from the vote log and the tally recomputed, so a reloaded
// decision reproduces the approved/vetoed state it was saved with.
func Rehydrate(st State) *Room {
	r := &Room{
		meta:      st.Room,
		members:   map[string]*models.Member{},
		channels:  map[string]*channelState{},
		msgIndex:  map[string]*models.RoomMessage{},
		decisions: map[string]*models.Decision{},
		debates:   map[string][]models.DebateArgument{},
	}
	for i := range st.Members {
		m := st.Members[i]
		r.members[m.ClientID] = &m
	}
	for _, c := range st.Channels {
		r.channels[c.Name] = &channelState{meta: c}
	}
	if _, ok := r.channels[MainChannel]; !ok {
		r.channels[MainChannel] = &channelState{meta: models.Channel{
			Name:      MainChannel,
			CreatedAt: st.Room.CreatedAt,
		}}
	}
	for _, msg := range st.Messages {
		ch, ok := r.channels[msg.Channel]
		if !ok {
			ch = r.channels[MainChannel]
		}
		ch.messages = append(ch.messages, msg)
		r.msgIndex[msg.ID] = &ch.messages[len(ch.messages)-1]
	}
	for i := range st.Decisions {
		d := st.Decisions[i]
		d.ApprovedBy = map[string]struct{}{}
		d.VetoedBy = map[string]struct{}{}
		d.Abstained = map[string]struct{}{}
		r.decisions[d.ID] = &d
	}
	for _, v := range st.Votes {
		d, ok := r.decisions[v.DecisionID]
		if !ok {
			continue
		}
		switch v.Kind {
		case "veto":
			d.VetoedBy[v.Voter] = struct{}{}
			d.Vetoed = true
		case "approve":
			d.ApprovedBy[v.Voter] = struct{}{}
			delete(d.Abstained, v.Voter)
		default:
			d.Abstained[v.Voter] = struct{}{}
			delete(d.ApprovedBy, v.Voter)
		}
	}
	for _, d := range r.decisions {
		r.tallyLocked(d)
	}
	for _, f := range st.Files {
		r.files = append(r.files, f)
		r.totalSize += f.Size
	}
	return r
}
