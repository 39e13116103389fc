package ws

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"agentbus/pkg/logger"
	"agentbus/pkg/models"
	"agentbus/pkg/rooms"
	"agentbus/pkg/utils"
)

// collabRequest is the union of fields across collab actions. Unused
// fields are simply absent on the wire.
type collabRequest struct {
	Action string `json:"action"`
	RoomID string `json:"room_id,omitempty"`

	Topic      string  `json:"topic,omitempty"`
	Role       string  `json:"role,omitempty"`
	VoteWeight float64 `json:"vote_weight,omitempty"`

	Text    string `json:"text,omitempty"`
	Channel string `json:"channel,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`
	Name    string `json:"name,omitempty"`

	Data        string `json:"data,omitempty"` // base64 file content
	ContentType string `json:"content_type,omitempty"`
	FileID      string `json:"file_id,omitempty"`

	DecisionID    string   `json:"decision_id,omitempty"`
	VoteKind      string   `json:"vote,omitempty"` // approve | veto | abstain
	VoteTypeName  string   `json:"vote_type,omitempty"`
	RequiredVotes int      `json:"required_votes,omitempty"`
	OriginalID    string   `json:"original_id,omitempty"`
	AmendmentID   string   `json:"amendment_id,omitempty"`
	Position      string   `json:"position,omitempty"`
	Evidence      []string `json:"evidence,omitempty"`

	TargetMessageID string `json:"target_message_id,omitempty"`
	Severity        string `json:"severity,omitempty"`
	CritiqueID      string `json:"critique_id,omitempty"`

	TaskID      string `json:"task_id,omitempty"`
	TaskStatus  string `json:"task_status,omitempty"`
	TimeoutSecs int    `json:"timeout_secs,omitempty"`

	Language string `json:"language,omitempty"`
	Code     string `json:"code,omitempty"`
}

func (s *session) handleCollab(raw []byte) {
	var req collabRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.writeError("collab", "invalid collab frame")
		return
	}
	if req.Action == "" {
		s.writeError("collab", "action required")
		return
	}

	result, err := s.collab(req)
	if err != nil {
		s.writeError(req.Action, err.Error())
		return
	}
	out := map[string]interface{}{
		"type":   "collab_result",
		"action": req.Action,
		"status": "success",
	}
	for k, v := range result {
		out[k] = v
	}
	_ = s.writeJSON(out)
}

func (s *session) room(id string) (*rooms.Room, error) {
	return s.h.Rooms.Get(id)
}

func (s *session) collab(req collabRequest) (map[string]interface{}, error) {
	switch req.Action {

	case "create_room":
		r := s.h.Rooms.CreateRoom(req.Topic)
		if _, err := r.Join(s.clientID, models.RoleCoordinator, req.VoteWeight); err != nil {
			return nil, err
		}
		return map[string]interface{}{"room": r.Meta()}, nil

	case "list_rooms":
		return map[string]interface{}{"rooms": s.h.Rooms.List()}, nil

	case "join_room":
		r, err := s.room(req.RoomID)
		if err != nil {
			return nil, err
		}
		role, err := models.ParseMemberRole(req.Role)
		if err != nil {
			return nil, err
		}
		joined, err := r.Join(s.clientID, role, req.VoteWeight)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"room_id": req.RoomID, "joined": joined}, nil

	case "leave_room":
		r, err := s.room(req.RoomID)
		if err != nil {
			return nil, err
		}
		if err := r.Leave(s.clientID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"room_id": req.RoomID}, nil

	case "send_message":
		r, err := s.room(req.RoomID)
		if err != nil {
			return nil, err
		}
		msg, err := r.Send(s.clientID, req.Text, req.Channel, req.ReplyTo)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"message": msg}, nil

	case "create_channel":
		r, err := s.room(req.RoomID)
		if err != nil {
			return nil, err
		}
		ch, err := r.CreateChannel(req.Name, req.Topic)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"channel": ch}, nil

	case "get_messages":
		r, err := s.room(req.RoomID)
		if err != nil {
			return nil, err
		}
		msgs, err := r.Messages(req.Channel, 0)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"messages": msgs, "count": len(msgs)}, nil

	case "upload_file":
		r, err := s.room(req.RoomID)
		if err != nil {
			return nil, err
		}
		data, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			return nil, models.ErrValidation
		}
		f, err := r.Upload(s.clientID, req.Name, data, req.ContentType, req.Channel)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"file": f}, nil

	case "get_file":
		r, err := s.room(req.RoomID)
		if err != nil {
			return nil, err
		}
		f, err := r.FileContent(req.FileID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"file": f,
			"data": base64.StdEncoding.EncodeToString(f.Data),
		}, nil

	case "get_summary":
		r, err := s.room(req.RoomID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"summary": r.Summary()}, nil

	case "propose_decision":
		r, err := s.room(req.RoomID)
		if err != nil {
			return nil, err
		}
		vt, err := models.ParseVoteType(req.VoteTypeName)
		if err != nil {
			return nil, err
		}
		d, err := r.ProposeDecision(s.clientID, req.Text, vt, req.RequiredVotes)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"decision": d}, nil

	case "vote":
		r, err := s.room(req.RoomID)
		if err != nil {
			return nil, err
		}
		approve, veto := false, false
		switch req.VoteKind {
		case "approve":
			approve = true
		case "veto":
			veto = true
		case "abstain", "":
		default:
			return nil, models.ErrValidation
		}
		d, err := r.Vote(req.DecisionID, s.clientID, approve, veto)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"decision": d}, nil

	case "propose_amendment":
		r, err := s.room(req.RoomID)
		if err != nil {
			return nil, err
		}
		a, err := r.ProposeAmendment(req.DecisionID, s.clientID, req.Text)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"amendment": a}, nil

	case "accept_amendment":
		r, err := s.room(req.RoomID)
		if err != nil {
			return nil, err
		}
		d, err := r.AcceptAmendment(req.DecisionID, req.AmendmentID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"decision": d}, nil

	case "propose_alternative":
		r, err := s.room(req.RoomID)
		if err != nil {
			return nil, err
		}
		// empty stays empty so the alternative inherits the original's
		// vote type
		var vt models.VoteType
		if req.VoteTypeName != "" {
			vt, err = models.ParseVoteType(req.VoteTypeName)
			if err != nil {
				return nil, err
			}
		}
		d, err := r.ProposeAlternative(req.OriginalID, s.clientID, req.Text, vt)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"decision": d}, nil

	case "add_debate_argument":
		r, err := s.room(req.RoomID)
		if err != nil {
			return nil, err
		}
		pos, err := models.ParsePosition(req.Position)
		if err != nil {
			return nil, err
		}
		arg, err := r.AddDebateArgument(req.DecisionID, s.clientID, pos, req.Text, req.Evidence)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"argument": arg}, nil

	case "debate_summary":
		r, err := s.room(req.RoomID)
		if err != nil {
			return nil, err
		}
		pro, con, err := r.DebateSummary(req.DecisionID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"pro": pro, "con": con}, nil

	case "send_critique":
		r, err := s.room(req.RoomID)
		if err != nil {
			return nil, err
		}
		sev, err := models.ParseSeverity(req.Severity)
		if err != nil {
			return nil, err
		}
		c, err := r.SendCritique(s.clientID, req.TargetMessageID, req.Text, sev)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"critique": c}, nil

	case "resolve_critique":
		r, err := s.room(req.RoomID)
		if err != nil {
			return nil, err
		}
		if err := r.ResolveCritique(req.CritiqueID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"critique_id": req.CritiqueID}, nil

	case "enqueue_task":
		if _, err := s.room(req.RoomID); err != nil {
			return nil, err
		}
		t, err := s.h.Tasks.Enqueue(req.RoomID, s.clientID, req.Text, time.Duration(req.TimeoutSecs)*time.Second)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"task": t}, nil

	case "claim_task":
		t, err := s.h.Tasks.Claim(req.RoomID, s.clientID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"task": t}, nil

	case "complete_task":
		t, err := s.h.Tasks.Complete(req.TaskID, req.TaskStatus)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"task": t}, nil

	case "list_tasks":
		return map[string]interface{}{"tasks": s.h.Tasks.List(req.RoomID)}, nil

	case "execute_code":
		return s.executeCode(req)
	}

	return nil, models.ErrValidation
}

// executeCode records a delegated execution request for an external
// sandbox runner. The bus never runs code itself; with execution
// disabled the request is rejected outright.
func (s *session) executeCode(req collabRequest) (map[string]interface{}, error) {
	if !s.h.EnableExec {
		return nil, models.ErrValidation
	}
	r, err := s.room(req.RoomID)
	if err != nil {
		return nil, err
	}
	if req.Code == "" {
		return nil, models.ErrValidation
	}
	execID := utils.GenUUID("exec")
	if s.h.ExecRec != nil {
		if err := s.h.ExecRec.SaveCodeExecution(execID, req.RoomID, s.clientID, req.Language, req.Code, "queued"); err != nil {
			logger.Warn("exec_persist_failed", "exec", execID, "error", err)
		}
	}
	// Announce the request so a sandbox collaborator in the room can
	// pick it up.
	if _, err := r.Send(rooms.SystemAuthor, "code execution requested: "+execID, rooms.MainChannel, ""); err != nil {
		return nil, err
	}
	return map[string]interface{}{"exec_id": execID, "exec_status": "queued"}, nil
}
