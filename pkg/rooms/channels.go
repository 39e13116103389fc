package rooms

import (
	"fmt"

	"agentbus/pkg/logger"
	"agentbus/pkg/models"
	"agentbus/pkg/utils"
)

func errUnknownChannel(name string) error {
	return fmt.Errorf("%w: channel %s", models.ErrNotFound, name)
}

// CreateChannel adds a named sub-stream to the room. Channel names are
// unique within a room.
func (r *Room) CreateChannel(name, topic string) (models.Channel, error) {
	if name == "" {
		return models.Channel{}, fmt.Errorf("%w: empty channel name", models.ErrValidation)
	}
	r.mu.Lock()
	if _, exists := r.channels[name]; exists {
		r.mu.Unlock()
		return models.Channel{}, fmt.Errorf("%w: channel %s already exists", models.ErrValidation, name)
	}
	ch := models.Channel{
		ID:        utils.GenUUID("chan"),
		Name:      name,
		Topic:     topic,
		CreatedAt: now(),
	}
	r.channels[name] = &channelState{meta: ch}
	r.mu.Unlock()

	if r.persist != nil {
		if err := r.persist.SaveChannel(r.meta.ID, ch); err != nil {
			logger.Warn("channel_persist_failed", "room", r.meta.ID, "channel", name, "error", err)
		}
	}
	logger.Info("channel_created", "room", r.meta.ID, "channel", name)
	return ch, nil
}

// Send appends a message to a channel. The sender must be an active
// member, the channel must exist, and replyTo (when given) must reference
// an existing message in any channel of the room without forming a cycle.
// Nothing is written when any check fails.
func (r *Room) Send(from, text, channel, replyTo string) (models.RoomMessage, error) {
	if channel == "" {
		channel = MainChannel
	}
	r.mu.Lock()
	if from != SystemAuthor && !r.isActiveMember(from) {
		r.mu.Unlock()
		return models.RoomMessage{}, fmt.Errorf("%w: %s is not an active member", models.ErrNotFound, from)
	}
	ch, ok := r.channels[channel]
	if !ok {
		r.mu.Unlock()
		return models.RoomMessage{}, errUnknownChannel(channel)
	}
	if replyTo != "" {
		if _, ok := r.msgIndex[replyTo]; !ok {
			r.mu.Unlock()
			return models.RoomMessage{}, fmt.Errorf("%w: reply target %s", models.ErrNotFound, replyTo)
		}
	}

	msg := models.RoomMessage{
		ID:        utils.GenID(),
		From:      from,
		Text:      text,
		Timestamp: now(),
		Channel:   channel,
		ReplyTo:   replyTo,
		Type:      "message",
		Mentions:  models.ExtractMentions(text),
	}
	if from == SystemAuthor {
		msg.Type = "system"
	}
	// a fresh id cannot already be a parent, and the parent chain is
	// checked to be acyclic before linking
	if replyTo != "" && r.replyCycle(msg.ID, replyTo) {
		r.mu.Unlock()
		return models.RoomMessage{}, fmt.Errorf("%w: reply to %s would form a cycle", models.ErrValidation, replyTo)
	}
	r.appendLocked(ch, msg)
	if m, ok := r.members[from]; ok {
		m.Contributions++
	}
	r.mu.Unlock()

	r.persistMessage(msg)
	return msg, nil
}

// replyCycle walks the parent chain from parent upward and reports
// whether it reaches id. The walk is hop-bounded so a corrupted chain
// cannot spin. Caller holds r.mu.
func (r *Room) replyCycle(id, parent string) bool {
	cur := parent
	for hops := 0; cur != "" && hops < len(r.msgIndex)+1; hops++ {
		if cur == id {
			return true
		}
		p, ok := r.msgIndex[cur]
		if !ok {
			return false
		}
		cur = p.ReplyTo
	}
	return cur != ""
}

// appendLocked adds a message to a channel, trimming the oldest entries
// beyond the backlog bound. Caller holds r.mu.
func (r *Room) appendLocked(ch *channelState, msg models.RoomMessage) {
	ch.messages = append(ch.messages, msg)
	if r.limits.ChannelBacklog > 0 && len(ch.messages) > r.limits.ChannelBacklog {
		drop := ch.messages[0]
		delete(r.msgIndex, drop.ID)
		ch.messages = ch.messages[1:]
	}
	stored := &ch.messages[len(ch.messages)-1]
	r.msgIndex[msg.ID] = stored
}

// appendSystemMessage posts an audit message on the main channel.
func (r *Room) appendSystemMessage(text string) {
	if _, err := r.Send(SystemAuthor, text, MainChannel, ""); err != nil {
		logger.Warn("system_message_failed", "room", r.meta.ID, "error", err)
	}
}

func (r *Room) persistMessage(msg models.RoomMessage) {
	if r.persist == nil {
		return
	}
	if err := r.persist.SaveMessage(r.meta.ID, msg); err != nil {
		logger.Warn("message_persist_failed", "room", r.meta.ID, "msg", msg.ID, "error", err)
	}
}

// Channels lists the room's channels.
func (r *Room) Channels() []models.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch.meta)
	}
	return out
}
