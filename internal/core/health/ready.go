// Package health serves liveness and readiness probes.
package health

import (
	"encoding/json"
	"net/http"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}
}

// LoadReporter reports whether the panels finished loading.
type LoadReporter interface {
	Loaded() bool
}

// ReadinessReporter is implemented by the refresh consumer.
type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// Readiness is ready once panels are loaded and, when a refresh consumer is
// configured, it holds a partition assignment. refresh may be nil.
func Readiness(panels LoadReporter, refresh ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status     string  `json:"status"`
			Panels     bool    `json:"panels_loaded"`
			Partitions []int32 `json:"partitions,omitempty"`
		}
		out := resp{Status: "not_ready", Panels: panels.Loaded()}
		ready := out.Panels
		if refresh != nil {
			ok, parts := refresh.Readiness()
			ready = ready && ok
			out.Partitions = parts
		}
		if ready {
			out.Status = "ready"
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
