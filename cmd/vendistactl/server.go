package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abrant-ru/vendista/slave"
)

type terminalStatus struct {
	ID           string `json:"id"`
	Running      bool   `json:"running"`
	LinkState    string `json:"link_state"`
	ConnectState string `json:"connect_state"`
	Online       bool   `json:"online"`
	Faults       uint64 `json:"faults"`
	Retries      uint64 `json:"retries"`
}

func statusOf(t *slave.Terminal) terminalStatus {
	cs := t.ConnectState()
	m := t.Metrics()

	return terminalStatus{
		ID:           t.ID(),
		Running:      t.IsRunning(),
		LinkState:    t.State().String(),
		ConnectState: cs.String(),
		Online:       cs.Online(),
		Faults:       m.FaultCount.Load(),
		Retries:      m.RetryCount.Load(),
	}
}

// newRouter serves the metrics of reg and a read-only view of terms.
func newRouter(reg *prometheus.Registry, metricsPath string, terms []*slave.Terminal) http.Handler {
	byID := make(map[string]*slave.Terminal, len(terms))
	for _, t := range terms {
		byID[t.ID()] = t
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		for _, t := range terms {
			if !t.IsRunning() {
				http.Error(w, "terminal "+t.ID()+" stopped", http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Route("/terminals", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			list := make([]terminalStatus, 0, len(terms))
			for _, t := range terms {
				list = append(list, statusOf(t))
			}
			writeJSON(w, list)
		})
		r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			t, ok := byID[chi.URLParam(req, "id")]
			if !ok {
				http.NotFound(w, req)
				return
			}
			writeJSON(w, statusOf(t))
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
