package core

import (
	"encoding/json"
	"expvar"
	"net/http"

	"praxis/internal/entitymodel"
)

// Handler serves the read-only HTTP surface: initialization status, the
// prometheus registry, the canonical DDL and, when enabled, expvar.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.Handle("GET /db/schema.sql", entitymodel.NewSchemaHandler())
	if s.expvar != nil {
		mux.Handle("GET /debug/vars", expvar.Handler())
	}
	return mux
}

type statusResponse struct {
	Status string `json:"status"`
	Origin string `json:"origin,omitempty"`
	Error  string `json:"error,omitempty"`
	Schema string `json:"schema_version"`
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.Status()
	resp := statusResponse{Status: "loading", Schema: entitymodel.Version()}
	code := http.StatusOK
	switch {
	case st.Ready():
		resp.Status = "ready"
		resp.Origin = string(*st.Source)
	case st.Failed():
		resp.Status = "error"
		resp.Error = *st.Error
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
