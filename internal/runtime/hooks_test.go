package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/drblury/larkflow/internal/runtime/envelope"
	"github.com/drblury/larkflow/internal/runtime/metadata"
)

func TestDispatchHooksMerge(t *testing.T) {
	var calls []string
	first := DispatchHooks{
		OnEventStart: func(info DispatchInfo) { calls = append(calls, "first-start") },
		OnEventDone:  func(info DispatchInfo) { calls = append(calls, "first-done") },
	}
	second := DispatchHooks{
		OnEventStart: func(info DispatchInfo) { calls = append(calls, "second-start") },
		OnEventError: func(info DispatchInfo, err error) { calls = append(calls, "second-error") },
	}

	merged := first.Merge(second)
	merged.OnEventStart(DispatchInfo{})
	merged.OnEventDone(DispatchInfo{})
	merged.OnEventError(DispatchInfo{}, errors.New("boom"))

	want := []string{"first-start", "second-start", "first-done", "second-error"}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), calls)
	}
	for i, call := range want {
		if calls[i] != call {
			t.Fatalf("expected call %d to be %s, got %v", i, call, calls)
		}
	}
}

func TestDispatchHooksMiddlewareSuccess(t *testing.T) {
	var started, done DispatchInfo
	var errorCalled bool
	hooks := DispatchHooks{
		OnEventStart: func(info DispatchInfo) { started = info },
		OnEventDone:  func(info DispatchInfo) { done = info },
		OnEventError: func(info DispatchInfo, err error) { errorCalled = true },
	}

	mw := dispatchHooksMiddleware(hooks)
	next := func(ctx context.Context, ev *envelope.Context) (map[string]any, error) {
		return map[string]any{"msg": "ok"}, nil
	}

	ev := newTestEvent("im.message.receive_v1", "evt-1")
	ev.Metadata[metadata.KeyTransport] = "webhook"
	ev.Metadata[metadata.KeyTraceID] = "trace-1"

	result, err := mw(next)(context.Background(), ev)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if result["msg"] != "ok" {
		t.Fatalf("result was not passed through: %v", result)
	}
	if errorCalled {
		t.Fatalf("error hook must not fire on success")
	}
	if started.EventType != "im.message.receive_v1" || started.EventID != "evt-1" {
		t.Fatalf("start hook missing event identity: %+v", started)
	}
	if started.Transport != "webhook" || started.TraceID != "trace-1" {
		t.Fatalf("start hook missing transport context: %+v", started)
	}
	if done.Duration <= 0 {
		t.Fatalf("done hook should carry the dispatch duration, got %v", done.Duration)
	}
}

func TestDispatchHooksMiddlewareError(t *testing.T) {
	var doneCalled bool
	var gotErr error
	hooks := DispatchHooks{
		OnEventDone:  func(info DispatchInfo) { doneCalled = true },
		OnEventError: func(info DispatchInfo, err error) { gotErr = err },
	}

	mw := dispatchHooksMiddleware(hooks)
	boom := errors.New("handler exploded")
	next := func(ctx context.Context, ev *envelope.Context) (map[string]any, error) {
		return nil, boom
	}

	_, err := mw(next)(context.Background(), newTestEvent("im.message.receive_v1", "evt-2"))
	if !errors.Is(err, boom) {
		t.Fatalf("error was not passed through: %v", err)
	}
	if doneCalled {
		t.Fatalf("done hook must not fire on error")
	}
	if !errors.Is(gotErr, boom) {
		t.Fatalf("error hook received %v", gotErr)
	}
}

func TestNewDispatchInfoHandlesNilEvent(t *testing.T) {
	info := newDispatchInfo(context.Background(), nil)
	if info.EventType != "" || info.EventID != "" {
		t.Fatalf("nil event should produce an empty identity: %+v", info)
	}
	if info.StartedAt.IsZero() {
		t.Fatalf("start time must always be set")
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (l *recordingLogger) Info(msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *recordingLogger) Error(msg string, err error, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func TestLoggingHooks(t *testing.T) {
	logger := &recordingLogger{}
	hooks := LoggingHooks(logger)

	info := DispatchInfo{EventType: "im.message.receive_v1", EventID: "evt-3", Transport: "websocket"}
	hooks.OnEventStart(info)
	hooks.OnEventDone(info)
	hooks.OnEventError(info, errors.New("boom"))

	if len(logger.infos) != 2 {
		t.Fatalf("expected start and done log lines, got %v", logger.infos)
	}
	if len(logger.errors) != 1 {
		t.Fatalf("expected one error log line, got %v", logger.errors)
	}
}

func TestMetricsHooks(t *testing.T) {
	var starts, dones, fails int
	hooks := MetricsHooks(
		func(eventType, transport string) { starts++ },
		func(eventType, transport string) { dones++ },
		func(eventType, transport string) { fails++ },
	)

	info := DispatchInfo{EventType: "im.message.receive_v1", Transport: "webhook"}
	hooks.OnEventStart(info)
	hooks.OnEventDone(info)
	hooks.OnEventError(info, errors.New("boom"))

	if starts != 1 || dones != 1 || fails != 1 {
		t.Fatalf("expected each counter to fire once, got %d/%d/%d", starts, dones, fails)
	}
}

func TestAlertingHooks(t *testing.T) {
	var alerted error
	hooks := AlertingHooks(func(info DispatchInfo, err error) { alerted = err })

	if hooks.OnEventStart != nil || hooks.OnEventDone != nil {
		t.Fatalf("alerting hooks should only react to errors")
	}
	boom := errors.New("boom")
	hooks.OnEventError(DispatchInfo{}, boom)
	if !errors.Is(alerted, boom) {
		t.Fatalf("alert did not receive the dispatch error: %v", alerted)
	}
}

func TestDispatchHooksMiddlewareRegistration(t *testing.T) {
	svc := newTestService(t)

	var events []string
	reg := DispatchHooksMiddleware(DispatchHooks{
		OnEventDone: func(info DispatchInfo) { events = append(events, info.EventType) },
	})
	if reg.Name != "dispatch_hooks" {
		t.Fatalf("unexpected registration name %q", reg.Name)
	}
	if err := svc.RegisterMiddleware(reg); err != nil {
		t.Fatalf("register middleware failed: %v", err)
	}

	if err := RegisterEventHandler(svc, EventHandlerRegistration{
		EventType: "im.message.receive_v1",
		Handler: func(ctx context.Context, ev *envelope.Context) (any, error) {
			return nil, nil
		},
	}); err != nil {
		t.Fatalf("register handler failed: %v", err)
	}

	if _, err := svc.DispatchEvent(context.Background(), newTestEvent("im.message.receive_v1", "evt-4")); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if len(events) != 1 || events[0] != "im.message.receive_v1" {
		t.Fatalf("done hook did not observe the dispatch: %v", events)
	}
}
