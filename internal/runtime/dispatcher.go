package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/drblury/larkflow/internal/runtime/envelope"
	errspkg "github.com/drblury/larkflow/internal/runtime/errors"
)

// HandlerFunc consumes one decoded event. The returned value becomes the
// transport reply after NormalizeResult shapes it: nil and non-mapping
// results turn into the default success body, map results are sent verbatim.
type HandlerFunc func(ctx context.Context, ev *envelope.Context) (any, error)

// DispatchFunc is the shaped dispatch pipeline: event in, reply body out.
// Middlewares wrap this signature.
type DispatchFunc func(ctx context.Context, ev *envelope.Context) (map[string]any, error)

// Middleware decorates a DispatchFunc. Middlewares run in registration
// order, the first registered being the outermost.
type Middleware func(next DispatchFunc) DispatchFunc

// NormalizeResult shapes a handler's return value into the reply body sent
// back to the platform. nil stays nil so the transport can substitute its
// default success body. Map results pass through verbatim. Anything else is
// dropped for plain events; callbacks must produce a mapping because the
// platform renders their reply, so a non-mapping result is an error.
func NormalizeResult(result any, isCallback bool) (map[string]any, error) {
	switch v := result.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	}
	if isCallback {
		return nil, fmt.Errorf("%w, got %T", errspkg.ErrCallbackResult, result)
	}
	return nil, nil
}

// Registry maps event types to handlers. A default handler, when set,
// catches every type without a dedicated registration.
type Registry struct {
	mu             sync.RWMutex
	handlers       map[string]HandlerFunc
	defaultHandler HandlerFunc
}

// NewRegistry returns an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]HandlerFunc{}}
}

// Register binds handler to eventType, replacing any previous registration
// for the same type.
func (r *Registry) Register(eventType string, handler HandlerFunc) error {
	if eventType == "" {
		return errspkg.ErrEventTypeRequired
	}
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = handler
	return nil
}

// RegisterDefault binds the fallback handler used for event types without a
// dedicated registration.
func (r *Registry) RegisterDefault(handler HandlerFunc) error {
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultHandler = handler
	return nil
}

// Lookup resolves the handler for eventType, falling back to the default
// handler. The second return reports whether any handler matched.
func (r *Registry) Lookup(eventType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.handlers[eventType]; ok {
		return h, true
	}
	if r.defaultHandler != nil {
		return r.defaultHandler, true
	}
	return nil, false
}

// EventTypes lists the registered event types in no particular order. The
// default handler is not included.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// Dispatch resolves the handler for the event's type, runs it and shapes
// the result. Events without a matching handler fail with
// ErrHandlerNotFound.
func (r *Registry) Dispatch(ctx context.Context, ev *envelope.Context) (map[string]any, error) {
	handler, ok := r.Lookup(ev.EventType())
	if !ok {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrHandlerNotFound, ev.EventType())
	}

	result, err := handler(ctx, ev)
	if err != nil {
		return nil, err
	}
	return NormalizeResult(result, ev.Envelope.IsCallback)
}
