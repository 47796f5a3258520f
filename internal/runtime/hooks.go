package runtime

import (
	"context"
	"time"

	"github.com/drblury/larkflow/internal/runtime/envelope"
	"github.com/drblury/larkflow/internal/runtime/metadata"
)

// DispatchInfo provides information about one event dispatch to hooks.
type DispatchInfo struct {
	// EventType is the platform event type being dispatched.
	EventType string
	// EventID is the platform event id, empty for events without one.
	EventID string
	// Schema is the envelope schema generation (p1, p2 or unknown).
	Schema string
	// Transport names the delivery path (webhook or websocket).
	Transport string
	// TraceID correlates log lines and spans for this dispatch.
	TraceID string
	// Metadata contains the event metadata.
	Metadata metadata.Metadata
	// Context is the context associated with the dispatch.
	Context context.Context
	// StartedAt is when dispatch began.
	StartedAt time.Time
	// Duration is how long the dispatch took (only set in OnEventDone and OnEventError).
	Duration time.Duration
}

// DispatchHooks defines callbacks for event dispatch lifecycle points.
// All hooks are optional - nil hooks are simply not called.
type DispatchHooks struct {
	// OnEventStart is called before the handler for an event is invoked.
	OnEventStart func(info DispatchInfo)

	// OnEventDone is called when the handler completed without error.
	// Duration will be set to how long the dispatch took.
	OnEventDone func(info DispatchInfo)

	// OnEventError is called when the handler returned an error.
	// Duration will be set to how long the dispatch took before failing.
	OnEventError func(info DispatchInfo, err error)
}

// Merge combines two DispatchHooks, creating a new DispatchHooks that calls
// both. The hooks from 'other' are called after the hooks from 'h'.
func (h DispatchHooks) Merge(other DispatchHooks) DispatchHooks {
	return DispatchHooks{
		OnEventStart: chainStartHooks(h.OnEventStart, other.OnEventStart),
		OnEventDone:  chainDoneHooks(h.OnEventDone, other.OnEventDone),
		OnEventError: chainErrorHooks(h.OnEventError, other.OnEventError),
	}
}

func chainStartHooks(a, b func(DispatchInfo)) func(DispatchInfo) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info DispatchInfo) {
		a(info)
		b(info)
	}
}

func chainDoneHooks(a, b func(DispatchInfo)) func(DispatchInfo) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info DispatchInfo) {
		a(info)
		b(info)
	}
}

func chainErrorHooks(a, b func(DispatchInfo, error)) func(DispatchInfo, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info DispatchInfo, err error) {
		a(info, err)
		b(info, err)
	}
}

// DispatchHooksMiddleware creates a middleware that invokes the provided
// hooks around every dispatched event.
func DispatchHooksMiddleware(hooks DispatchHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "dispatch_hooks",
		Builder: func(s *Service) (Middleware, error) {
			return dispatchHooksMiddleware(hooks), nil
		},
	}
}

func dispatchHooksMiddleware(hooks DispatchHooks) Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, ev *envelope.Context) (map[string]any, error) {
			info := newDispatchInfo(ctx, ev)

			if hooks.OnEventStart != nil {
				hooks.OnEventStart(info)
			}

			result, err := next(ctx, ev)

			info.Duration = time.Since(info.StartedAt)

			if err != nil {
				if hooks.OnEventError != nil {
					hooks.OnEventError(info, err)
				}
			} else {
				if hooks.OnEventDone != nil {
					hooks.OnEventDone(info)
				}
			}

			return result, err
		}
	}
}

func newDispatchInfo(ctx context.Context, ev *envelope.Context) DispatchInfo {
	info := DispatchInfo{
		Context:   ctx,
		StartedAt: time.Now(),
	}
	if ev == nil {
		return info
	}
	info.EventType = ev.EventType()
	info.EventID = ev.EventID()
	info.Schema = ev.Envelope.Schema
	info.Metadata = ev.Metadata
	if ev.Metadata != nil {
		info.Transport = ev.Metadata[metadata.KeyTransport]
		info.TraceID = ev.Metadata[metadata.KeyTraceID]
	}
	return info
}

// LoggingHooks returns pre-built hooks that log dispatch lifecycle events.
func LoggingHooks(logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
}) DispatchHooks {
	return DispatchHooks{
		OnEventStart: func(info DispatchInfo) {
			logger.Info("Event dispatch started", map[string]interface{}{
				"event_type": info.EventType,
				"event_id":   info.EventID,
				"transport":  info.Transport,
				"trace_id":   info.TraceID,
			})
		},
		OnEventDone: func(info DispatchInfo) {
			logger.Info("Event dispatch completed", map[string]interface{}{
				"event_type":  info.EventType,
				"event_id":    info.EventID,
				"transport":   info.Transport,
				"duration_ms": info.Duration.Milliseconds(),
			})
		},
		OnEventError: func(info DispatchInfo, err error) {
			logger.Error("Event dispatch failed", err, map[string]interface{}{
				"event_type":  info.EventType,
				"event_id":    info.EventID,
				"transport":   info.Transport,
				"trace_id":    info.TraceID,
				"duration_ms": info.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns pre-built hooks that record dispatch metrics.
func MetricsHooks(onStart, onDone, onError func(eventType, transport string)) DispatchHooks {
	return DispatchHooks{
		OnEventStart: func(info DispatchInfo) {
			if onStart != nil {
				onStart(info.EventType, info.Transport)
			}
		},
		OnEventDone: func(info DispatchInfo) {
			if onDone != nil {
				onDone(info.EventType, info.Transport)
			}
		},
		OnEventError: func(info DispatchInfo, err error) {
			if onError != nil {
				onError(info.EventType, info.Transport)
			}
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on dispatch errors.
func AlertingHooks(alertFunc func(info DispatchInfo, err error)) DispatchHooks {
	return DispatchHooks{
		OnEventError: alertFunc,
	}
}
