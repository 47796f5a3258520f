package runtime

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/larkflow/internal/runtime/cloudevents"
	"github.com/drblury/larkflow/internal/runtime/envelope"
	errspkg "github.com/drblury/larkflow/internal/runtime/errors"
	idspkg "github.com/drblury/larkflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/larkflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/larkflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/larkflow/internal/runtime/metadata"
)

// Forwarder mirrors accepted events onto the configured sink as CloudEvents.
type Forwarder struct {
	publisher message.Publisher
	source    string
	prefix    string
	logger    loggingpkg.ServiceLogger
}

// NewForwarder wires a forwarder to the sink publisher. Topic names are the
// event type with topicPrefix prepended.
func NewForwarder(publisher message.Publisher, source, topicPrefix string, logger loggingpkg.ServiceLogger) (*Forwarder, error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	return &Forwarder{
		publisher: publisher,
		source:    source,
		prefix:    topicPrefix,
		logger:    logger,
	}, nil
}

// NewEventMessage converts an event context into a Watermill message carrying
// the full platform payload as a CloudEvent.
func NewEventMessage(ev *envelope.Context, source string) (*message.Message, error) {
	id := ev.EventID()
	if id == "" {
		id = idspkg.CreateULID()
	}

	evt := cloudevents.NewWithID(id, ev.EventType(), source, ev.Payload)
	if ev.Envelope.TenantKey != "" {
		evt = evt.WithSubject(ev.Envelope.TenantKey)
	}
	if ev.Envelope.CreateTime != "" {
		if t, err := cloudevents.ParsePlatformTime(ev.Envelope.CreateTime); err == nil {
			evt.Time = t
		}
	}
	if ev.Envelope.Schema != "" {
		cloudevents.SetSchema(&evt, ev.Envelope.Schema)
	}
	if ev.Envelope.AppID != "" {
		cloudevents.SetAppID(&evt, ev.Envelope.AppID)
	}
	if ev.Metadata != nil {
		if traceID := ev.Metadata[metadatapkg.KeyTraceID]; traceID != "" {
			cloudevents.SetTraceID(&evt, traceID)
		}
		if transport := ev.Metadata[metadatapkg.KeyTransport]; transport != "" {
			cloudevents.SetTransport(&evt, transport)
		}
	}

	payload, err := jsoncodec.Marshal(evt)
	if err != nil {
		return nil, err
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(ev.Metadata)
	return msg, nil
}

// Forward publishes one event to the sink, blocking until the publisher
// accepts it.
func (f *Forwarder) Forward(ctx context.Context, ev *envelope.Context) error {
	msg, err := NewEventMessage(ev, f.source)
	if err != nil {
		return err
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}

	return f.publisher.Publish(f.prefix+ev.EventType(), msg)
}

// ForwardAsync publishes one event without blocking dispatch. A sink outage
// is logged and the event reply to the platform is unaffected.
func (f *Forwarder) ForwardAsync(ctx context.Context, ev *envelope.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	// The dispatch finishing must not cancel an in-flight publish.
	ctx = context.WithoutCancel(ctx)

	go func() {
		if err := f.Forward(ctx, ev); err != nil {
			f.logger.Error("Failed to forward event", err, loggingpkg.LogFields{
				"event_type": ev.EventType(),
				"event_id":   ev.EventID(),
			})
		}
	}()
}

// Close shuts the sink publisher down.
func (f *Forwarder) Close() error {
	return f.publisher.Close()
}
