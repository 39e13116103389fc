package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agentbus/pkg/ack"
	"agentbus/pkg/bus"
	"agentbus/pkg/config"
	"agentbus/pkg/models"
	"agentbus/pkg/rooms"
	"agentbus/pkg/selector"
	"agentbus/pkg/store"
	"agentbus/pkg/tasks"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	st, err := store.Open("", 100)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	b := bus.New(10, 2, 8)
	s := &Server{
		Store:    st,
		Bus:      b,
		Acks:     ack.NewManager(ack.Options{Timeout: time.Hour}, b.Fanout),
		Rooms:    rooms.NewRegistry(rooms.Limits{}, nil),
		Tasks:    tasks.New(time.Minute, nil, nil),
		Cfg:      &cfg,
		Balancer: selector.New(selector.RoundRobin),
	}
	return s, s.Router()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSendThenPoll(t *testing.T) {
	_, h := newTestServer(t)

	w := doJSON(t, h, http.MethodPost, "/api/send", map[string]interface{}{
		"from": "agent-1", "to": "agent-2", "type": "chat", "payload": "hello",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("send status: %d body=%s", w.Code, w.Body.String())
	}
	var sent struct {
		Status    string `json:"status"`
		MessageID string `json:"message_id"`
		Delivered int    `json:"delivered"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &sent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sent.Status != "success" || sent.MessageID == "" {
		t.Fatalf("send response: %+v", sent)
	}
	if sent.Delivered != 0 {
		t.Fatalf("no live sockets, delivered=%d", sent.Delivered)
	}

	w = doJSON(t, h, http.MethodGet, "/api/messages?to=agent-2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("poll status: %d", w.Code)
	}
	var polled struct {
		Status   string            `json:"status"`
		Messages []models.Envelope `json:"messages"`
		Count    int               `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &polled); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if polled.Count != 1 || len(polled.Messages) != 1 || polled.Messages[0].ID != sent.MessageID {
		t.Fatalf("poll response: %+v", polled)
	}
}

func TestSendValidation(t *testing.T) {
	_, h := newTestServer(t)
	w := doJSON(t, h, http.MethodPost, "/api/send", map[string]interface{}{"from": "a"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing to: status %d", w.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/send", bytes.NewBufferString("{broken"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: status %d", rec.Code)
	}
}

func TestMessagesBadQuery(t *testing.T) {
	_, h := newTestServer(t)
	if w := doJSON(t, h, http.MethodGet, "/api/messages?since=garbage", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad since: %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodGet, "/api/messages?limit=-2", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", w.Code)
	}
}

func TestRoomEndpoints(t *testing.T) {
	s, h := newTestServer(t)
	room := s.Rooms.CreateRoom("api room")
	if _, err := room.Join("agent-1", models.RoleContributor, 0); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := room.Send("agent-1", "first post", rooms.MainChannel, ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	w := doJSON(t, h, http.MethodGet, "/api/rooms", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rooms status: %d", w.Code)
	}
	var list struct {
		Rooms []models.Room `json:"rooms"`
		Count int           `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 1 || list.Rooms[0].Topic != "api room" {
		t.Fatalf("rooms list: %+v", list)
	}

	if w := doJSON(t, h, http.MethodGet, "/api/rooms/"+room.ID(), nil); w.Code != http.StatusOK {
		t.Fatalf("summary status: %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodGet, "/api/rooms/nope", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown room: %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodGet, "/api/rooms/"+room.ID()+"/messages?channel=main", nil); w.Code != http.StatusOK {
		t.Fatalf("room messages: %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodGet, "/api/rooms/"+room.ID()+"/tasks", nil); w.Code != http.StatusOK {
		t.Fatalf("room tasks: %d", w.Code)
	}
}

func TestAckStateEndpoint(t *testing.T) {
	s, h := newTestServer(t)
	env := models.Envelope{ID: "tracked-1", From: "a", To: "b", Type: "chat", Timestamp: time.Now().UTC()}
	s.Acks.Track(env, []string{"b"})

	w := doJSON(t, h, http.MethodGet, "/api/acks/tracked-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ack state: %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodGet, "/api/acks/unknown", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown ack: %d", w.Code)
	}
}

func TestRouteWithNoClients(t *testing.T) {
	_, h := newTestServer(t)
	w := doJSON(t, h, http.MethodPost, "/api/route", map[string]interface{}{"session": "s1"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("route without clients: %d", w.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	_, h := newTestServer(t)
	if w := doJSON(t, h, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodGet, "/readyz", nil); w.Code != http.StatusOK {
		t.Fatalf("readyz: %d", w.Code)
	}
}
