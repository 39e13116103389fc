// Package api exposes the HTTP surface: message send/poll plus room and
// task introspection. Realtime traffic goes through pkg/ws; this side
// serves agents that poll instead of holding a socket.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentbus/pkg/ack"
	"agentbus/pkg/auth"
	"agentbus/pkg/bus"
	"agentbus/pkg/config"
	"agentbus/pkg/rooms"
	"agentbus/pkg/selector"
	"agentbus/pkg/store"
	"agentbus/pkg/tasks"
	"agentbus/pkg/telemetry"
)

// Server bundles the engine pieces the HTTP handlers need.
type Server struct {
	Store *store.Store
	Bus   *bus.Registry
	Acks  *ack.Manager
	Rooms *rooms.Registry
	Tasks *tasks.Manager
	Cfg   *config.Config

	// Balancer routes work requests across live clients; nil disables
	// the /api/route endpoints.
	Balancer *selector.Selector

	// WS serves /ws/{client_id}; nil disables the realtime endpoint.
	WS http.Handler
}

// Router builds the full route table with middleware applied.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/send", s.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/api/messages", s.handleMessages).Methods(http.MethodGet)
	r.HandleFunc("/api/clients", s.handleClients).Methods(http.MethodGet)
	r.HandleFunc("/api/acks/{message_id}", s.handleAckState).Methods(http.MethodGet)

	if s.Balancer != nil {
		r.HandleFunc("/api/route", s.handleRoute).Methods(http.MethodPost)
		r.HandleFunc("/api/route/report", s.handleRouteReport).Methods(http.MethodPost)
	}

	r.HandleFunc("/api/rooms", s.handleRooms).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{room_id}", s.handleRoomSummary).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{room_id}/messages", s.handleRoomMessages).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{room_id}/tasks", s.handleRoomTasks).Methods(http.MethodGet)

	if s.WS != nil {
		r.Handle("/ws/{client_id}", s.WS).Methods(http.MethodGet)
	}

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	var h http.Handler = r
	h = auth.Middleware(s.Cfg.Security)(h)
	h = telemetry.Middleware(h)
	return h
}
