package runtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ServiceStatus is the point-in-time view served by /api/status.
type ServiceStatus struct {
	Running       bool              `json:"running"`
	StartedAt     time.Time         `json:"started_at,omitempty"`
	StoppedAt     time.Time         `json:"stopped_at,omitempty"`
	LastEventAt   time.Time         `json:"last_event_at,omitempty"`
	LastEventType string            `json:"last_event_type,omitempty"`
	TotalEvents   uint64            `json:"total_events"`
	EventCounts   map[string]uint64 `json:"event_counts"`
	LastError     string            `json:"last_error,omitempty"`
	Resource      ResourceUsage     `json:"resource"`
}

type statusTracker struct {
	mu     sync.Mutex
	status ServiceStatus
}

func newStatusTracker() *statusTracker {
	return &statusTracker{
		status: ServiceStatus{EventCounts: map[string]uint64{}},
	}
}

func (t *statusTracker) recordStart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Running = true
	t.status.StartedAt = time.Now().UTC()
	t.status.StoppedAt = time.Time{}
}

func (t *statusTracker) recordStop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Running = false
	t.status.StoppedAt = time.Now().UTC()
}

func (t *statusTracker) recordEvent(eventType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.LastEventAt = time.Now().UTC()
	t.status.LastEventType = eventType
	t.status.TotalEvents++
	t.status.EventCounts[eventType]++
}

func (t *statusTracker) recordError(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.LastError = err.Error()
}

func (t *statusTracker) snapshot(sampler *resourceTracker) ServiceStatus {
	t.mu.Lock()
	snap := t.status
	counts := make(map[string]uint64, len(t.status.EventCounts))
	for k, v := range t.status.EventCounts {
		counts[k] = v
	}
	snap.EventCounts = counts
	t.mu.Unlock()

	if sampler != nil {
		snap.Resource = sampler.Snapshot()
	}
	return snap
}

// StartStatusAPIServer exposes /api/handlers and /api/status when the status
// API is enabled.
func (s *Service) StartStatusAPIServer() {
	if !s.Conf.StatusAPIEnabled {
		return
	}

	port := s.Conf.StatusAPIPort
	if port == 0 {
		port = 8081
	}

	s.RegisterHTTPHandler(port, "/api/handlers", http.HandlerFunc(s.handleGetHandlers))
	s.RegisterHTTPHandler(port, "/api/status", http.HandlerFunc(s.handleGetStatus))
}

func (s *Service) handleGetHandlers(w http.ResponseWriter, r *http.Request) {
	if s.writeStatusAPIHeaders(w, r) {
		return
	}

	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()

	if err := json.NewEncoder(w).Encode(s.handlers); err != nil {
		s.Logger.Error("Failed to encode handlers", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Service) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	if s.writeStatusAPIHeaders(w, r) {
		return
	}

	snap := s.status.snapshot(s.getResourceTracker())
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.Logger.Error("Failed to encode status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// writeStatusAPIHeaders sets content type and CORS headers. It reports true
// when the request was a preflight and has been answered.
func (s *Service) writeStatusAPIHeaders(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Content-Type", "application/json")

	if s.Conf != nil && len(s.Conf.StatusAPICORSAllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		allowedOrigin := s.getAllowedCORSOrigin(origin)
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.StatusAPICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
