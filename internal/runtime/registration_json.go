package runtime

import (
	"context"
	"fmt"
	"reflect"

	"github.com/drblury/larkflow/internal/runtime/envelope"
	errspkg "github.com/drblury/larkflow/internal/runtime/errors"
	jsoncodec "github.com/drblury/larkflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/larkflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/larkflow/internal/runtime/metadata"
)

// JSONEventRegistration wires a typed event handler to the registry. T must
// be a pointer to the struct the event body unmarshals into.
type JSONEventRegistration[T any] struct {
	Name      string
	EventType string
	Handler   JSONEventHandler[T]
}

// JSONEventContext exposes the typed event body and envelope data for JSON handlers.
type JSONEventContext[T any] struct {
	Event    T
	Envelope envelope.Envelope
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
}

// CloneMetadata copies the current metadata map so handlers can mutate headers safely.
func (c JSONEventContext[T]) CloneMetadata() metadatapkg.Metadata {
	return c.Metadata.Clone()
}

// JSONEventHandler processes a typed event body and returns the reply body
// to send back, or nil for the default ack.
type JSONEventHandler[T any] func(ctx context.Context, event JSONEventContext[T]) (map[string]any, error)

// RegisterJSONEventHandler converts the typed JSON handler into a raw handler and registers it.
func RegisterJSONEventHandler[T any](svc *Service, cfg JSONEventRegistration[T]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	wrapped, err := BuildJSONEventHandler(cfg.Handler, svc.Logger)
	if err != nil {
		return err
	}

	return svc.registerHandler(handlerRegistration{
		Name:      cfg.Name,
		EventType: cfg.EventType,
		Handler:   wrapped,
	})
}

// BuildJSONEventHandler converts a typed JSON handler into a HandlerFunc.
// The event body is re-encoded and unmarshalled into a fresh T per dispatch,
// so handlers never share state through the decoded payload.
func BuildJSONEventHandler[T any](handler JSONEventHandler[T], logger loggingpkg.ServiceLogger) (HandlerFunc, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	prototypeFactory, err := eventPrototypeFactory[T]()
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, ev *envelope.Context) (any, error) {
		typed := prototypeFactory()

		body, err := jsoncodec.Marshal(ev.Event)
		if err != nil {
			return nil, &UnprocessableEventError{
				eventMessage: ev.EventType(),
				err:          fmt.Errorf("failed to encode event body: %w", err),
			}
		}
		if err := jsoncodec.Unmarshal(body, typed); err != nil {
			return nil, &UnprocessableEventError{
				eventMessage: string(body),
				err:          err,
			}
		}

		eventCtx := JSONEventContext[T]{
			Event:    typed,
			Envelope: ev.Envelope,
			Metadata: ev.Metadata,
			Logger:   logger,
		}

		return handler(ctx, eventCtx)
	}, nil
}

func eventPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrHandlerPointerNeeded
	}
	elem := typ.Elem()
	return func() T {
		clone := reflect.New(elem).Interface()
		return clone.(T)
	}, nil
}
