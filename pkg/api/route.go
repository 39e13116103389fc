package api

import (
	"encoding/json"
	"net/http"
	"time"

	"agentbus/pkg/utils"
)

type routeRequest struct {
	Session string `json:"session,omitempty"`
	Failed  string `json:"failed,omitempty"`
}

// handleRoute picks a live client for a unit of work. The balancer is
// synced with the bus first so only connected clients are candidates.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	s.syncBalancer()

	var chosen string
	var err error
	if req.Failed != "" {
		chosen, err = s.Balancer.Failover(req.Session, req.Failed)
	} else {
		chosen, err = s.Balancer.Select(req.Session)
	}
	if err != nil {
		utils.JSONError(w, utils.StatusFor(err), "no healthy client available")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"client": chosen,
	})
}

type routeReportRequest struct {
	Client    string `json:"client"`
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Healthy   bool   `json:"mark_healthy,omitempty"`
}

// handleRouteReport feeds a work outcome back into client health.
func (s *Server) handleRouteReport(w http.ResponseWriter, r *http.Request) {
	var req routeReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Client == "" {
		utils.JSONError(w, http.StatusBadRequest, "client is required")
		return
	}
	if req.Healthy {
		s.Balancer.MarkHealthy(req.Client)
	} else {
		s.Balancer.ReportResult(req.Client, req.OK, time.Duration(req.LatencyMS)*time.Millisecond)
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "success"})
}

// syncBalancer registers clients that connected since the last route
// call. Disconnected clients fail selection naturally via health
// reports; there is no forced eviction here.
func (s *Server) syncBalancer() {
	for _, id := range s.Bus.Clients() {
		s.Balancer.Register(id, 1)
	}
}
