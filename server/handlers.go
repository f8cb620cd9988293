package server

import (
	"encoding/json"
	"net/http"
)

// Handlers holds the dependencies of the HTTP handlers.
type Handlers struct {
	status StatusProvider
}

// HandleHealthz answers liveness probes.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready once the capture loop is running.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if h.status != nil && !h.status.Status().Running {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "failed_check": "capture_loop"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus returns the capture loop snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.status == nil {
		http.Error(w, "no capture loop in this process", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h.status.Status())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
