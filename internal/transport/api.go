package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"docker-stats-hub/internal/metrics"
	"docker-stats-hub/internal/model"
)

type agentsResponse struct {
	Agents []model.AgentState `json:"agents"`
}

type historyResponse struct {
	AgentID string            `json:"agent_id"`
	History []model.CPUSample `json:"history"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func instrument(endpoint string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			metrics.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		}()
		fn(w, r)
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, agentsResponse{Agents: s.hub.Statuses()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	samples, ok := s.hub.History(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown agent " + id})
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{AgentID: id, History: samples})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	body := s.health.Snapshot()
	status := http.StatusOK
	body["status"] = "ok"
	if !s.health.Healthy() {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
