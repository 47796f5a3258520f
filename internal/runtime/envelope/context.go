package envelope

import (
	loggingpkg "github.com/drblury/larkflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/larkflow/internal/runtime/metadata"
)

// Context is the unit of dispatch: the parsed envelope plus the full decoded
// payload and the event body. Handlers receive it by pointer but must treat
// Payload and Event as read-only; the dispatcher fills Metadata and Logger
// before the handler chain runs.
type Context struct {
	Envelope Envelope
	Payload  map[string]any
	Event    map[string]any
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
}

// NewContext parses the payload and wraps it with the extracted event body.
// The event body is an empty map when the payload carries none, so typed
// projections never have to nil-check it.
func NewContext(payload map[string]any) *Context {
	event := mapField(payload, "event")
	if event == nil {
		event = map[string]any{}
	}
	return &Context{
		Envelope: Parse(payload),
		Payload:  payload,
		Event:    event,
		Metadata: metadatapkg.Metadata{},
	}
}

// NewCallbackContext builds a Context whose envelope is forced into callback
// mode. Transports use it when the delivery channel itself marks the message
// as a callback (a dedicated callback endpoint, or a "card" frame), so the
// handler result is required to be a mapping regardless of event type.
func NewCallbackContext(payload map[string]any) *Context {
	c := NewContext(payload)
	c.Envelope.IsCallback = true
	return c
}

// CloneMetadata returns a copy of the current metadata map so handlers can
// safely derive headers for outgoing messages without touching the original.
func (c *Context) CloneMetadata() metadatapkg.Metadata {
	return c.Metadata.Clone()
}

// EventType returns the normalized event-type string.
func (c *Context) EventType() string {
	return c.Envelope.EventType
}

// EventID returns the platform-assigned event identifier.
func (c *Context) EventID() string {
	return c.Envelope.EventID
}
