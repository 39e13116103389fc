package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"agentbus/pkg/logger"
	"agentbus/pkg/models"
	"agentbus/pkg/store"
	"agentbus/pkg/utils"
)

type sendRequest struct {
	From       string      `json:"from"`
	To         string      `json:"to"`
	Type       string      `json:"type"`
	Payload    interface{} `json:"payload,omitempty"`
	RequireAck bool        `json:"require_ack,omitempty"`
}

// handleSend accepts one envelope, stores it, fans it out to live
// sockets and optionally begins ack tracking.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.From == "" || req.To == "" {
		utils.JSONError(w, http.StatusBadRequest, "from and to are required")
		return
	}
	if req.Type == "" {
		req.Type = "message"
	}

	env, err := s.Store.Append(models.Envelope{From: req.From, To: req.To, Type: req.Type, Payload: req.Payload})
	if err != nil {
		utils.JSONError(w, utils.StatusFor(err), err.Error())
		return
	}

	var written int
	if req.RequireAck {
		recipients := []string{req.To}
		if req.To == models.Broadcast {
			recipients = s.Bus.Clients()
		}
		written = s.Acks.Track(env, recipients)
	} else {
		written = s.Bus.Fanout(env)
	}

	logger.Debug("api_send", "id", env.ID, "from", req.From, "to", req.To, "written", written)
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{
		"status":     "success",
		"message_id": env.ID,
		"delivered":  written,
	})
}

// handleMessages polls stored envelopes. Query params: to, from, type,
// since (RFC3339 or unix seconds), limit.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.QueryFilter{
		To:   q.Get("to"),
		From: q.Get("from"),
		Type: q.Get("type"),
	}
	if v := q.Get("since"); v != "" {
		t, err := parseSince(v)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid since value")
			return
		}
		f.Since = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			utils.JSONError(w, http.StatusBadRequest, "invalid limit value")
			return
		}
		f.Limit = n
	}

	msgs := s.Store.Query(f)
	if msgs == nil {
		msgs = []models.Envelope{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{
		"status":   "success",
		"messages": msgs,
		"count":    len(msgs),
	})
}

func parseSince(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	clients := s.Bus.Clients()
	if clients == nil {
		clients = []string{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"clients": clients,
		"count":   len(clients),
	})
}

func (s *Server) handleAckState(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["message_id"]
	state, ok := s.Acks.State(id)
	if !ok {
		utils.JSONError(w, http.StatusNotFound, "no pending ack for message")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{
		"status":     "success",
		"message_id": id,
		"state":      state,
	})
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	list := s.Rooms.List()
	if list == nil {
		list = []models.Room{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"rooms":  list,
		"count":  len(list),
	})
}

func (s *Server) handleRoomSummary(w http.ResponseWriter, r *http.Request) {
	room, err := s.Rooms.Get(mux.Vars(r)["room_id"])
	if err != nil {
		utils.JSONError(w, utils.StatusFor(err), err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"summary": room.Summary(),
	})
}

func (s *Server) handleRoomMessages(w http.ResponseWriter, r *http.Request) {
	room, err := s.Rooms.Get(mux.Vars(r)["room_id"])
	if err != nil {
		utils.JSONError(w, utils.StatusFor(err), err.Error())
		return
	}
	channel := r.URL.Query().Get("channel")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	msgs, err := room.Messages(channel, limit)
	if err != nil {
		utils.JSONError(w, utils.StatusFor(err), err.Error())
		return
	}
	if msgs == nil {
		msgs = []models.RoomMessage{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{
		"status":   "success",
		"messages": msgs,
		"count":    len(msgs),
	})
}

func (s *Server) handleRoomTasks(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room_id"]
	if _, err := s.Rooms.Get(roomID); err != nil {
		utils.JSONError(w, utils.StatusFor(err), err.Error())
		return
	}
	list := s.Tasks.List(roomID)
	if list == nil {
		list = []models.Task{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"tasks":  list,
		"count":  len(list),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"connections": s.Bus.Total(),
		"stored":      s.Store.Len(),
	})
}
