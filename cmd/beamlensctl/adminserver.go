package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/beamlens/beamlens/pkg/beamlens"
)

// newAdminRouter builds the read-mostly HTTP surface a running supervisor
// exposes to operators: health, circuit breaker state/reset, and watcher
// listing/status/trigger, plus a standard Prometheus /metrics endpoint.
func newAdminRouter(sup *beamlens.Supervisor) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/circuit-breaker", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, sup.CircuitBreakerState())
	})
	r.Post("/circuit-breaker/reset", func(w http.ResponseWriter, r *http.Request) {
		sup.ResetCircuitBreaker()
		writeJSON(w, sup.CircuitBreakerState())
	})

	r.Get("/watchers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, sup.ListWatchers())
	})
	r.Get("/watchers/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		status, err := sup.WatcherStatus(name)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, status)
	})
	r.Post("/watchers/{name}/trigger", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := sup.TriggerWatcher(name); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	r.Get("/alerts/pending", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]bool{"pending": sup.PendingAlerts()})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

const shutdownTimeout = 5 * time.Second
