// Package ws is the realtime transport: one websocket per connection at
// /ws/{client_id}, frames in both directions as JSON text messages.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"agentbus/pkg/ack"
	"agentbus/pkg/bus"
	"agentbus/pkg/logger"
	"agentbus/pkg/models"
	"agentbus/pkg/rooms"
	"agentbus/pkg/store"
	"agentbus/pkg/tasks"
	"agentbus/pkg/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
	maxInboundSize = 16 * 1024 * 1024 // room for base64 file uploads
)

// ExecRecorder persists delegated code-execution requests. nil disables
// recording.
type ExecRecorder interface {
	SaveCodeExecution(execID, roomID, requestedBy, language, code, status string) error
}

// Handler upgrades and serves websocket clients.
type Handler struct {
	Store      *store.Store
	Bus        *bus.Registry
	Acks       *ack.Manager
	Rooms      *rooms.Registry
	Tasks      *tasks.Manager
	EnableExec bool
	ExecRec    ExecRecorder

	upgrader websocket.Upgrader
}

// NewHandler returns a Handler with an upgrader that accepts any origin;
// origin policy is enforced by the HTTP middleware in front.
func NewHandler(st *store.Store, b *bus.Registry, a *ack.Manager, rm *rooms.Registry, tm *tasks.Manager, enableExec bool, rec ExecRecorder) *Handler {
	return &Handler{
		Store:      st,
		Bus:        b,
		Acks:       a,
		Rooms:      rm,
		Tasks:      tm,
		EnableExec: enableExec,
		ExecRec:    rec,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// session is one upgraded socket. All socket writes go through writeJSON
// so the reader's replies and the bus writer never interleave.
type session struct {
	h        *Handler
	ws       *websocket.Conn
	conn     *bus.Conn
	clientID string
	writeMu  sync.Mutex
}

// ServeHTTP handles GET /ws/{client_id}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]
	if clientID == "" {
		utils.JSONError(w, http.StatusBadRequest, "client id required")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "client", clientID, "error", err)
		return
	}

	conn, err := h.Bus.Register(clientID)
	if err != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}

	s := &session{h: h, ws: ws, conn: conn, clientID: clientID}
	defer func() {
		h.Bus.Unregister(conn)
		_ = ws.Close()
	}()

	_ = s.writeJSON(map[string]interface{}{
		"type":      "connection_confirmed",
		"client_id": clientID,
		"conn_id":   conn.ID,
	})
	s.replayInbox()

	go s.writeLoop()
	s.readLoop()
}

// replayInbox pushes stored envelopes addressed to the client so a
// reconnecting agent catches up before live traffic resumes.
func (s *session) replayInbox() {
	msgs := s.h.Store.Query(store.QueryFilter{To: s.clientID})
	for _, env := range msgs {
		if err := s.writeJSON(map[string]interface{}{
			"type":    "message",
			"replay":  true,
			"message": env,
		}); err != nil {
			return
		}
	}
	if len(msgs) > 0 {
		logger.Debug("ws_replay", "client", s.clientID, "count", len(msgs))
	}
}

// writeLoop drains the bus connection and pings the peer.
func (s *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case f, ok := <-s.conn.Out():
			if !ok {
				return
			}
			err := s.writeRaw(f.Bytes())
			f.Done()
			if err != nil {
				return
			}
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.ws.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *session) readLoop() {
	s.ws.SetReadLimit(maxInboundSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("ws_read_error", "client", s.clientID, "error", err)
			}
			return
		}
		s.dispatch(data)
	}
}

type inboundFrame struct {
	Type       string          `json:"type"`
	To         string          `json:"to,omitempty"`
	MsgType    string          `json:"msg_type,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RequireAck bool            `json:"require_ack,omitempty"`
	MessageID  string          `json:"message_id,omitempty"`
	Action     string          `json:"action,omitempty"`
}

func (s *session) dispatch(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.writeError("", "invalid frame")
		return
	}
	switch frame.Type {
	case "send":
		s.handleSend(frame)
	case "ack":
		if frame.MessageID == "" {
			s.writeError("ack", "message_id required")
			return
		}
		known := s.h.Acks.Ack(frame.MessageID, s.clientID)
		_ = s.writeJSON(map[string]interface{}{
			"type":       "ack_result",
			"status":     "success",
			"message_id": frame.MessageID,
			"tracked":    known,
		})
	case "collab":
		s.handleCollab(data)
	case "ping":
		_ = s.writeJSON(map[string]string{"type": "pong"})
	default:
		s.writeError(frame.Type, "unknown frame type")
	}
}

func (s *session) handleSend(frame inboundFrame) {
	if frame.To == "" {
		s.writeError("send", "to required")
		return
	}
	msgType := frame.MsgType
	if msgType == "" {
		msgType = "message"
	}
	var payload interface{}
	if len(frame.Payload) > 0 {
		_ = json.Unmarshal(frame.Payload, &payload)
	}
	env, err := s.h.Store.Append(models.Envelope{From: s.clientID, To: frame.To, Type: msgType, Payload: payload})
	if err != nil {
		s.writeError("send", err.Error())
		return
	}

	var written int
	if frame.RequireAck {
		recipients := []string{frame.To}
		if frame.To == models.Broadcast {
			recipients = s.h.Bus.Clients()
		}
		written = s.h.Acks.Track(env, recipients)
	} else {
		written = s.h.Bus.Fanout(env)
	}
	_ = s.writeJSON(map[string]interface{}{
		"type":       "send_result",
		"status":     "success",
		"message_id": env.ID,
		"delivered":  written,
	})
}

func (s *session) writeError(action, msg string) {
	out := map[string]interface{}{"type": "error", "status": "error", "error": msg}
	if action != "" {
		out["action"] = action
	}
	_ = s.writeJSON(out)
}

func (s *session) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.writeRaw(data)
}

func (s *session) writeRaw(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteMessage(websocket.TextMessage, data)
}
