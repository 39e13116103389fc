package ws

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"agentbus/pkg/ack"
	"agentbus/pkg/bus"
	"agentbus/pkg/rooms"
	"agentbus/pkg/store"
	"agentbus/pkg/tasks"
)

type wsFixture struct {
	handler *Handler
	srv     *httptest.Server
}

func newFixture(t *testing.T) *wsFixture {
	t.Helper()
	st, err := store.Open("", 100)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	b := bus.New(10, 2, 16)
	h := NewHandler(st, b, ack.NewManager(ack.Options{Timeout: time.Hour}, b.Fanout),
		rooms.NewRegistry(rooms.Limits{}, nil), tasks.New(time.Minute, nil, nil), false, nil)

	r := mux.NewRouter()
	r.Handle("/ws/{client_id}", h)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &wsFixture{handler: h, srv: srv}
}

func (f *wsFixture) dial(t *testing.T, clientID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/" + clientID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", clientID, err)
	}
	t.Cleanup(func() { conn.Close() })

	var confirmed map[string]interface{}
	readFrame(t, conn, &confirmed)
	if confirmed["type"] != "connection_confirmed" || confirmed["client_id"] != clientID {
		t.Fatalf("handshake: %v", confirmed)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
}

func writeFrame(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestSendDeliversToConnectedPeer(t *testing.T) {
	f := newFixture(t)
	sender := f.dial(t, "w1")
	receiver := f.dial(t, "w2")

	writeFrame(t, sender, map[string]interface{}{
		"type": "send", "to": "w2", "payload": "hi there", "require_ack": true,
	})

	var result struct {
		Type      string `json:"type"`
		Status    string `json:"status"`
		MessageID string `json:"message_id"`
		Delivered int    `json:"delivered"`
	}
	readFrame(t, sender, &result)
	if result.Type != "send_result" || result.Status != "success" || result.Delivered != 1 {
		t.Fatalf("send result: %+v", result)
	}

	var incoming struct {
		Type    string `json:"type"`
		Message struct {
			ID   string `json:"id"`
			From string `json:"from"`
		} `json:"message"`
	}
	readFrame(t, receiver, &incoming)
	if incoming.Type != "message" || incoming.Message.From != "w1" || incoming.Message.ID != result.MessageID {
		t.Fatalf("incoming: %+v", incoming)
	}

	// acknowledging settles the tracked send
	writeFrame(t, receiver, map[string]interface{}{"type": "ack", "message_id": result.MessageID})
	var ackRes map[string]interface{}
	readFrame(t, receiver, &ackRes)
	if ackRes["type"] != "ack_result" || ackRes["tracked"] != true {
		t.Fatalf("ack result: %v", ackRes)
	}
	if f.handler.Acks.PendingCount() != 0 {
		t.Fatalf("ack did not settle")
	}
}

func TestReplayOnReconnect(t *testing.T) {
	f := newFixture(t)
	sender := f.dial(t, "w1")
	writeFrame(t, sender, map[string]interface{}{"type": "send", "to": "late", "payload": "stored"})
	var result map[string]interface{}
	readFrame(t, sender, &result)
	if result["status"] != "success" {
		t.Fatalf("send: %v", result)
	}

	late := f.dial(t, "late")
	var replayed struct {
		Type   string `json:"type"`
		Replay bool   `json:"replay"`
	}
	readFrame(t, late, &replayed)
	if replayed.Type != "message" || !replayed.Replay {
		t.Fatalf("replay frame: %+v", replayed)
	}
}

func TestCollabRoomLifecycle(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t, "a1")

	writeFrame(t, a, map[string]interface{}{"type": "collab", "action": "create_room", "topic": "sprint plan"})
	var created struct {
		Type   string `json:"type"`
		Action string `json:"action"`
		Status string `json:"status"`
		Room   struct {
			ID string `json:"id"`
		} `json:"room"`
	}
	readFrame(t, a, &created)
	if created.Status != "success" || created.Room.ID == "" {
		t.Fatalf("create_room: %+v", created)
	}
	roomID := created.Room.ID

	writeFrame(t, a, map[string]interface{}{
		"type": "collab", "action": "send_message", "room_id": roomID, "text": "kickoff",
	})
	var sent map[string]interface{}
	readFrame(t, a, &sent)
	if sent["status"] != "success" {
		t.Fatalf("send_message: %v", sent)
	}

	writeFrame(t, a, map[string]interface{}{
		"type": "collab", "action": "propose_decision", "room_id": roomID,
		"text": "two week sprint", "vote_type": "consensus",
	})
	var proposed struct {
		Status   string `json:"status"`
		Decision struct {
			ID string `json:"id"`
		} `json:"decision"`
	}
	readFrame(t, a, &proposed)
	if proposed.Status != "success" || proposed.Decision.ID == "" {
		t.Fatalf("propose_decision: %+v", proposed)
	}

	writeFrame(t, a, map[string]interface{}{
		"type": "collab", "action": "vote", "room_id": roomID,
		"decision_id": proposed.Decision.ID, "vote": "approve",
	})
	var voted struct {
		Status   string `json:"status"`
		Decision struct {
			Approved bool `json:"approved"`
		} `json:"decision"`
	}
	readFrame(t, a, &voted)
	if voted.Status != "success" || !voted.Decision.Approved {
		t.Fatalf("single-member consensus: %+v", voted)
	}

	writeFrame(t, a, map[string]interface{}{"type": "collab", "action": "get_summary", "room_id": roomID})
	var summary map[string]interface{}
	readFrame(t, a, &summary)
	if summary["status"] != "success" {
		t.Fatalf("get_summary: %v", summary)
	}
}

func TestAlternativeInheritsVoteTypeOverWire(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t, "a1")

	writeFrame(t, a, map[string]interface{}{"type": "collab", "action": "create_room", "topic": "arch"})
	var created struct {
		Room struct {
			ID string `json:"id"`
		} `json:"room"`
	}
	readFrame(t, a, &created)

	writeFrame(t, a, map[string]interface{}{
		"type": "collab", "action": "propose_decision", "room_id": created.Room.ID,
		"text": "use queue A", "vote_type": "weighted",
	})
	var proposed struct {
		Decision struct {
			ID string `json:"id"`
		} `json:"decision"`
	}
	readFrame(t, a, &proposed)

	// no vote_type in the frame: the alternative inherits "weighted"
	writeFrame(t, a, map[string]interface{}{
		"type": "collab", "action": "propose_alternative", "room_id": created.Room.ID,
		"original_id": proposed.Decision.ID, "text": "use queue B",
	})
	var alt struct {
		Status   string `json:"status"`
		Decision struct {
			VoteType string `json:"vote_type"`
		} `json:"decision"`
	}
	readFrame(t, a, &alt)
	if alt.Status != "success" || alt.Decision.VoteType != "weighted" {
		t.Fatalf("alternative vote type: %+v", alt)
	}
}

func TestUploadThenGetFileRoundTrip(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t, "a1")

	writeFrame(t, a, map[string]interface{}{"type": "collab", "action": "create_room", "topic": "assets"})
	var created struct {
		Room struct {
			ID string `json:"id"`
		} `json:"room"`
	}
	readFrame(t, a, &created)

	payload := []byte("binary image content")
	writeFrame(t, a, map[string]interface{}{
		"type": "collab", "action": "upload_file", "room_id": created.Room.ID,
		"name": "logo.png", "content_type": "image/png",
		"data": base64.StdEncoding.EncodeToString(payload),
	})
	var uploaded struct {
		Status string `json:"status"`
		File   struct {
			ID string `json:"id"`
		} `json:"file"`
	}
	readFrame(t, a, &uploaded)
	if uploaded.Status != "success" || uploaded.File.ID == "" {
		t.Fatalf("upload: %+v", uploaded)
	}

	writeFrame(t, a, map[string]interface{}{
		"type": "collab", "action": "get_file",
		"room_id": created.Room.ID, "file_id": uploaded.File.ID,
	})
	var fetched struct {
		Status string `json:"status"`
		Data   string `json:"data"`
		File   struct {
			Name string `json:"name"`
		} `json:"file"`
	}
	readFrame(t, a, &fetched)
	if fetched.Status != "success" || fetched.File.Name != "logo.png" {
		t.Fatalf("get_file: %+v", fetched)
	}
	got, err := base64.StdEncoding.DecodeString(fetched.Data)
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("content round trip: %q err=%v", got, err)
	}
}

func TestExecuteCodeDisabledByDefault(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t, "a1")
	writeFrame(t, a, map[string]interface{}{"type": "collab", "action": "create_room", "topic": "x"})
	var created struct {
		Room struct {
			ID string `json:"id"`
		} `json:"room"`
	}
	readFrame(t, a, &created)

	writeFrame(t, a, map[string]interface{}{
		"type": "collab", "action": "execute_code",
		"room_id": created.Room.ID, "language": "python", "code": "print(1)",
	})
	var res map[string]interface{}
	readFrame(t, a, &res)
	if res["status"] != "error" {
		t.Fatalf("execute_code must be rejected when disabled: %v", res)
	}
}

func TestUnknownFrameAndAction(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t, "a1")

	writeFrame(t, a, map[string]interface{}{"type": "warp"})
	var res map[string]interface{}
	readFrame(t, a, &res)
	if res["status"] != "error" {
		t.Fatalf("unknown frame type: %v", res)
	}

	writeFrame(t, a, map[string]interface{}{"type": "collab", "action": "levitate"})
	readFrame(t, a, &res)
	if res["status"] != "error" {
		t.Fatalf("unknown collab action: %v", res)
	}
}

func TestPerClientConnectionCap(t *testing.T) {
	f := newFixture(t)
	f.dial(t, "capped")
	f.dial(t, "capped")

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/capped"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	// the server upgrades then immediately closes with a policy violation
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("third connection for one client must be refused")
	}
}
