package app

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

type healthResponse struct {
	Status         string `json:"status"`
	RulesLoaded    bool   `json:"rules_loaded"`
	ReloadPending  bool   `json:"reload_pending"`
	LiveWorkers    int    `json:"live_workers"`
	DesiredWorkers int    `json:"desired_workers"`
	Breaker        string `json:"breaker"`
}

// Routes returns the HTTP routes served on METRICS_ADDR.
func (a *App) Routes() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	if a.Metrics != nil {
		router.Handle("/metrics", a.Metrics.Handler()).Methods(http.MethodGet)
	}
	return router
}

// handleHealth reports 503 until a rule file has loaded, and while the
// connect breaker is open.
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:         "ok",
		RulesLoaded:    a.Router.State() != nil,
		ReloadPending:  a.Router.ReloadPending(),
		LiveWorkers:    a.Supervisor.Live(),
		DesiredWorkers: a.Properties.NumThreads(),
		Breaker:        a.Supervisor.Breaker().State().String(),
	}

	status := http.StatusOK
	switch {
	case !resp.RulesLoaded:
		resp.Status = "no routing rules"
		status = http.StatusServiceUnavailable
	case a.Supervisor.Breaker().IsOpen():
		resp.Status = "broker unreachable"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
