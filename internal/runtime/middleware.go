package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/drblury/larkflow/internal/runtime/envelope"
	idempotencypkg "github.com/drblury/larkflow/internal/runtime/idempotency"
	idspkg "github.com/drblury/larkflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/larkflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/larkflow/internal/runtime/metadata"
)

// MiddlewareBuilder constructs a dispatch middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (Middleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a Service dispatch chain.
type MiddlewareRegistration struct {
	Name       string
	Middleware Middleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard middleware chain used by the Service constructor.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		TraceIDMiddleware(),
		LogEventsMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		IdempotencyMiddleware(),
		RecovererMiddleware(),
	}
}

// TraceIDMiddleware ensures each dispatched event carries a trace identifier.
func TraceIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "trace_id",
		Middleware: traceIDMiddleware(),
	}
}

func traceIDMiddleware() Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, ev *envelope.Context) (map[string]any, error) {
			if ev.Metadata == nil {
				ev.Metadata = metadatapkg.New()
			}
			if _, ok := ev.Metadata[metadatapkg.KeyTraceID]; !ok {
				ev.Metadata[metadatapkg.KeyTraceID] = idspkg.CreateULID()
			}
			return next(ctx, ev)
		}
	}
}

// LogEventsMiddleware logs the type, id and metadata of dispatched events.
func LogEventsMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_events",
		Builder: func(s *Service) (Middleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log events middleware requires a logger")
			}
			return logEventsMiddleware(l), nil
		},
	}
}

func logEventsMiddleware(logger loggingpkg.ServiceLogger) Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, ev *envelope.Context) (map[string]any, error) {
			logger.Debug("Dispatching event", loggingpkg.LogFields{
				"event_type": ev.EventType(),
				"event_id":   ev.EventID(),
				"schema":     ev.Envelope.Schema,
				"metadata":   ev.Metadata,
			})
			return next(ctx, ev)
		}
	}
}

// TracerMiddleware wraps event dispatch in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "tracer",
		Middleware: tracerMiddleware(),
	}
}

func tracerMiddleware() Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, ev *envelope.Context) (map[string]any, error) {
			tracer := otel.Tracer("larkflow-dispatch")
			ctx, span := tracer.Start(ctx, "DispatchEvent")
			defer span.End()

			span.SetAttributes(
				attribute.String("event.type", ev.EventType()),
				attribute.String("event.id", ev.EventID()),
				attribute.String("event.schema", ev.Envelope.Schema),
			)

			// A real tracer provider yields valid span ids; prefer them over
			// the seeded trace id so log lines match exported spans.
			if sc := span.SpanContext(); sc.IsValid() && ev.Metadata != nil {
				ev.Metadata[metadatapkg.KeyTraceID] = sc.TraceID().String()
				ev.Metadata[metadatapkg.KeySpanID] = sc.SpanID().String()
			}

			return next(ctx, ev)
		}
	}
}

// MetricsMiddleware records Prometheus metrics for dispatched events and
// exposes them on the configured metrics port.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (Middleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}

			if err := s.getMetrics().Register(); err != nil {
				return nil, err
			}

			if s.Conf.MetricsPort > 0 {
				s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", promhttp.Handler())
			}

			return s.metricsMiddleware(), nil
		},
	}
}

func (s *Service) metricsMiddleware() Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, ev *envelope.Context) (map[string]any, error) {
			transport := ""
			if ev.Metadata != nil {
				transport = ev.Metadata[metadatapkg.KeyTransport]
			}

			start := time.Now()
			result, err := next(ctx, ev)
			s.getMetrics().ObserveDispatch(ev.EventType(), transport, time.Since(start), err)
			return result, err
		}
	}
}

// IdempotencyMiddleware drops redelivered events before they reach handlers.
// Duplicates are acked with the default success body so the platform stops
// retrying them.
func IdempotencyMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "idempotency",
		Builder: func(s *Service) (Middleware, error) {
			if s.store == nil {
				return nil, nil
			}
			return s.idempotencyMiddleware(), nil
		},
	}
}

func (s *Service) idempotencyMiddleware() Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, ev *envelope.Context) (map[string]any, error) {
			key := envelope.IdempotencyKey(ev.Envelope)
			if key == "" {
				return next(ctx, ev)
			}

			first, err := s.store.MarkOnce(ctx, key, s.idempotencyTTL())
			if err != nil {
				// The store being down must not stall event delivery; a
				// duplicate dispatch is the lesser failure.
				s.Logger.Error("Idempotency store unavailable", err, loggingpkg.LogFields{
					"event_id": key,
				})
				return next(ctx, ev)
			}
			if !first {
				s.Logger.Info("Dropping duplicate event", loggingpkg.LogFields{
					"event_type": ev.EventType(),
					"event_id":   key,
				})
				if s.Conf.MetricsEnabled {
					transport := ""
					if ev.Metadata != nil {
						transport = ev.Metadata[metadatapkg.KeyTransport]
					}
					s.getMetrics().RecordDuplicate(transport)
				}
				return nil, nil
			}

			if ev.Metadata != nil {
				ev.Metadata[metadatapkg.KeyIdempotencyKey] = key
			}
			return next(ctx, ev)
		}
	}
}

func (s *Service) idempotencyTTL() time.Duration {
	if s.Conf != nil && s.Conf.IdempotencyTTL > 0 {
		return s.Conf.IdempotencyTTL
	}
	return idempotencypkg.DefaultTTL
}

// RecovererMiddleware converts handler panics into dispatch errors so one
// misbehaving handler cannot kill the transport loop.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: recovererMiddleware(),
	}
}

func recovererMiddleware() Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, ev *envelope.Context) (result map[string]any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("handler panicked: %v", r)
				}
			}()
			return next(ctx, ev)
		}
	}
}

// RegisterMiddleware attaches the supplied middleware to the dispatch chain.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	var mw Middleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	s.middlewares = append(s.middlewares, mw)
	s.rebuildDispatchLocked()
	return nil
}
