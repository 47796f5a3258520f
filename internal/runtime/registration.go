package runtime

import (
	"context"
	"time"

	"github.com/drblury/larkflow/internal/runtime/envelope"
	errspkg "github.com/drblury/larkflow/internal/runtime/errors"
)

type handlerRegistration struct {
	Name      string
	EventType string
	Default   bool
	Handler   HandlerFunc
}

// EventHandlerRegistration wires a raw handler for one event type.
type EventHandlerRegistration struct {
	Name      string
	EventType string
	Handler   HandlerFunc
}

// RegisterEventHandler attaches the provided handler to the service registry.
func RegisterEventHandler(svc *Service, cfg EventHandlerRegistration) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	return svc.registerHandler(handlerRegistration{
		Name:      cfg.Name,
		EventType: cfg.EventType,
		Handler:   cfg.Handler,
	})
}

// RegisterDefaultHandler attaches the fallback handler used for event types
// without a dedicated registration.
func RegisterDefaultHandler(svc *Service, name string, handler HandlerFunc) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	return svc.registerHandler(handlerRegistration{
		Name:    name,
		Default: true,
		Handler: handler,
	})
}

func (s *Service) registerHandler(cfg handlerRegistration) error {
	if cfg.Handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if cfg.EventType == "" && !cfg.Default {
		return errspkg.ErrEventTypeRequired
	}
	if cfg.Name == "" {
		if cfg.Default {
			cfg.Name = "default-handler"
		} else {
			cfg.Name = cfg.EventType + "-handler"
		}
	}

	displayType := cfg.EventType
	if cfg.Default {
		displayType = "*"
	}

	stats := newHandlerStats(cfg.Name, displayType, s.getResourceTracker())
	info := &HandlerInfo{
		Name:      cfg.Name,
		EventType: displayType,
		Stats:     stats,
	}

	s.handlersMu.Lock()
	s.handlers = append(s.handlers, info)
	s.handlersMu.Unlock()

	handler := wrapHandlerWithStats(cfg.Handler, stats, s.getErrorClassifier())

	if cfg.Default {
		return s.registry.RegisterDefault(handler)
	}
	return s.registry.Register(cfg.EventType, handler)
}

func wrapHandlerWithStats(handler HandlerFunc, stats *HandlerStats, classifier ErrorClassifier) HandlerFunc {
	return func(ctx context.Context, ev *envelope.Context) (any, error) {
		stats.onEventStart()
		start := time.Now()
		result, err := handler(ctx, ev)
		duration := time.Since(start)

		stats.onEventFinish(duration, err, classifier)

		return result, err
	}
}
