package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	configpkg "github.com/drblury/larkflow/internal/runtime/config"
	"github.com/drblury/larkflow/internal/runtime/envelope"
	httpclientpkg "github.com/drblury/larkflow/internal/runtime/httpclient"
)

func TestStatusTrackerLifecycle(t *testing.T) {
	tracker := newStatusTracker()

	tracker.recordStart()
	tracker.recordEvent("im.message.receive_v1")
	tracker.recordEvent("im.message.receive_v1")
	tracker.recordEvent("im.chat.updated_v1")
	tracker.recordError(errors.New("handler failed"))

	snap := tracker.snapshot(nil)
	if !snap.Running {
		t.Fatalf("expected running status")
	}
	if snap.TotalEvents != 3 {
		t.Fatalf("expected 3 events, got %d", snap.TotalEvents)
	}
	if snap.EventCounts["im.message.receive_v1"] != 2 {
		t.Fatalf("unexpected counts: %v", snap.EventCounts)
	}
	if snap.LastEventType != "im.chat.updated_v1" {
		t.Fatalf("unexpected last event type %q", snap.LastEventType)
	}
	if snap.LastError != "handler failed" {
		t.Fatalf("unexpected last error %q", snap.LastError)
	}

	// The snapshot must not alias the live counts map.
	snap.EventCounts["injected"] = 1
	if tracker.snapshot(nil).EventCounts["injected"] != 0 {
		t.Fatalf("snapshot aliases the tracker state")
	}

	tracker.recordStop()
	snap = tracker.snapshot(nil)
	if snap.Running {
		t.Fatalf("expected stopped status")
	}
	if snap.StoppedAt.IsZero() {
		t.Fatalf("expected stop time to be set")
	}
}

func TestStatusTrackerIgnoresNilErrors(t *testing.T) {
	tracker := newStatusTracker()
	tracker.recordError(nil)
	if tracker.snapshot(nil).LastError != "" {
		t.Fatalf("nil error must not be recorded")
	}
}

func TestHandleGetStatus(t *testing.T) {
	svc := newTestService(t)
	svc.status.recordStart()
	svc.status.recordEvent("im.message.receive_v1")

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	svc.handleGetStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var status ServiceStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if !status.Running || status.TotalEvents != 1 {
		t.Fatalf("unexpected status payload: %+v", status)
	}
	if status.Resource.Goroutines == 0 {
		t.Fatalf("expected resource usage to be sampled")
	}
}

func TestHandleGetHandlers(t *testing.T) {
	svc := newTestService(t)
	err := RegisterEventHandler(svc, EventHandlerRegistration{
		EventType: "im.message.receive_v1",
		Handler: func(ctx context.Context, ev *envelope.Context) (any, error) {
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("register handler: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/handlers", nil)
	rec := httptest.NewRecorder()
	svc.handleGetHandlers(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code %d", rec.Code)
	}

	var handlers []HandlerInfo
	if err := json.NewDecoder(rec.Body).Decode(&handlers); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if len(handlers) != 1 {
		t.Fatalf("expected one handler, got %d", len(handlers))
	}
	if handlers[0].EventType != "im.message.receive_v1" {
		t.Fatalf("unexpected handler entry: %+v", handlers[0])
	}
}

func TestStatusAPICORS(t *testing.T) {
	t.Run("wildcard", func(t *testing.T) {
		svc := newTestService(t)
		svc.Conf.StatusAPICORSAllowedOrigins = []string{"*"}

		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.Header.Set("Origin", "https://dashboard.example.com")
		rec := httptest.NewRecorder()
		svc.handleGetStatus(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("expected wildcard origin, got %q", got)
		}
	})

	t.Run("exact match is case insensitive", func(t *testing.T) {
		svc := newTestService(t)
		svc.Conf.StatusAPICORSAllowedOrigins = []string{"https://Dashboard.Example.com"}

		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.Header.Set("Origin", "https://dashboard.example.com")
		rec := httptest.NewRecorder()
		svc.handleGetStatus(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dashboard.example.com" {
			t.Fatalf("expected echoed origin, got %q", got)
		}
	})

	t.Run("disallowed origin gets no header", func(t *testing.T) {
		svc := newTestService(t)
		svc.Conf.StatusAPICORSAllowedOrigins = []string{"https://dashboard.example.com"}

		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		svc.handleGetStatus(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Fatalf("expected no CORS header, got %q", got)
		}
	})

	t.Run("preflight answered with 204", func(t *testing.T) {
		svc := newTestService(t)
		svc.Conf.StatusAPICORSAllowedOrigins = []string{"*"}

		req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
		req.Header.Set("Origin", "https://dashboard.example.com")
		rec := httptest.NewRecorder()
		svc.handleGetStatus(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204 for preflight, got %d", rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Fatalf("preflight response must have no body")
		}
	})
}

func TestStartStatusAPIServer(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		svc := newTestService(t)
		svc.StartStatusAPIServer()
		if len(svc.httpServers) != 0 {
			t.Fatalf("no servers should be registered when disabled")
		}
	})

	t.Run("default port", func(t *testing.T) {
		svc := newTestService(t)
		svc.Conf = &configpkg.Config{StatusAPIEnabled: true}
		svc.StartStatusAPIServer()
		if svc.httpServers[8081] == nil {
			t.Fatalf("expected routes on the default port, got %v", svc.httpServers)
		}
	})

	t.Run("configured port", func(t *testing.T) {
		svc := newTestService(t)
		svc.Conf = &configpkg.Config{StatusAPIEnabled: true, StatusAPIPort: 9100}
		svc.StartStatusAPIServer()
		if svc.httpServers[9100] == nil {
			t.Fatalf("expected routes on port 9100, got %v", svc.httpServers)
		}
	})
}

type closeRecordingTransport struct{ closed bool }

func (rt *closeRecordingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("transport not wired for requests")
}

func (rt *closeRecordingTransport) CloseIdleConnections() { rt.closed = true }

func TestCloseReleasesPlatformClient(t *testing.T) {
	svc := newTestService(t)
	rt := &closeRecordingTransport{}
	svc.platform = httpclientpkg.New("https://open.example.invalid",
		httpclientpkg.WithHTTPClient(&http.Client{Transport: rt}))

	if err := svc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !rt.closed {
		t.Fatal("Close() did not release the platform client's idle connections")
	}
}
