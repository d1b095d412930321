package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// HealthChecker manages liveness and readiness state. Readiness requires the
// ready flag and every registered dependency to be up.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	mu         sync.RWMutex
	components map[string]bool
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime:  time.Now(),
		components: make(map[string]bool),
	}
}

// SetReady marks the service as ready to accept traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// SetComponent records the state of a named dependency such as "storage" or
// "nats".
func (h *HealthChecker) SetComponent(name string, up bool) {
	h.mu.Lock()
	h.components[name] = up
	h.mu.Unlock()
}

// IsReady returns whether the service is ready.
func (h *HealthChecker) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	return len(h.downComponents()) == 0
}

func (h *HealthChecker) downComponents() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var down []string
	for name, up := range h.components {
		if !up {
			down = append(down, name)
		}
	}
	sort.Strings(down)
	return down
}

// LivenessHandler returns HTTP 200 while the process is running.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 if the service is ready, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.IsReady() {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}
	body := map[string]interface{}{"status": "not_ready"}
	if down := h.downComponents(); len(down) > 0 {
		body["down"] = down
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(body)
}
