package cloudevents

// Larkflow extension keys for CloudEvents. These extensions carry delivery
// context that has no first-class CloudEvents attribute, so consumers of
// forwarded events can reconstruct where and how an event arrived.
const (
	// ExtTraceID is the distributed trace ID (W3C traceparent compatible).
	ExtTraceID = "lf_trace_id"

	// ExtParentID is the parent span ID for trace correlation.
	ExtParentID = "lf_parent_id"

	// ExtCorrelationID is a correlation identifier for request tracing.
	ExtCorrelationID = "lf_correlation_id"

	// ExtTransport names the delivery path the event arrived on
	// (webhook or websocket).
	ExtTransport = "lf_transport"

	// ExtSchema is the envelope schema generation of the original payload
	// (p1 or p2).
	ExtSchema = "lf_schema"

	// ExtAppID is the platform application the event was delivered to.
	ExtAppID = "lf_app_id"
)

// --- Tracing Extensions ---

// GetTraceID returns the distributed trace ID.
func GetTraceID(evt Event) string {
	return evt.GetExtensionString(ExtTraceID)
}

// SetTraceID sets the distributed trace ID.
func SetTraceID(evt *Event, traceID string) {
	if evt.Extensions == nil {
		evt.Extensions = make(map[string]any)
	}
	evt.Extensions[ExtTraceID] = traceID
}

// GetParentID returns the parent span ID.
func GetParentID(evt Event) string {
	return evt.GetExtensionString(ExtParentID)
}

// SetParentID sets the parent span ID.
func SetParentID(evt *Event, parentID string) {
	if evt.Extensions == nil {
		evt.Extensions = make(map[string]any)
	}
	evt.Extensions[ExtParentID] = parentID
}

// GetCorrelationID returns the correlation ID for request tracing.
func GetCorrelationID(evt Event) string {
	return evt.GetExtensionString(ExtCorrelationID)
}

// SetCorrelationID sets the correlation ID.
func SetCorrelationID(evt *Event, correlationID string) {
	if evt.Extensions == nil {
		evt.Extensions = make(map[string]any)
	}
	evt.Extensions[ExtCorrelationID] = correlationID
}

// --- Delivery Extensions ---

// GetTransport returns the delivery path the event arrived on.
func GetTransport(evt Event) string {
	return evt.GetExtensionString(ExtTransport)
}

// SetTransport records the delivery path the event arrived on.
func SetTransport(evt *Event, transport string) {
	if evt.Extensions == nil {
		evt.Extensions = make(map[string]any)
	}
	evt.Extensions[ExtTransport] = transport
}

// GetSchema returns the envelope schema generation of the original payload.
func GetSchema(evt Event) string {
	return evt.GetExtensionString(ExtSchema)
}

// SetSchema records the envelope schema generation of the original payload.
func SetSchema(evt *Event, schema string) {
	if evt.Extensions == nil {
		evt.Extensions = make(map[string]any)
	}
	evt.Extensions[ExtSchema] = schema
}

// GetAppID returns the platform application id.
func GetAppID(evt Event) string {
	return evt.GetExtensionString(ExtAppID)
}

// SetAppID records the platform application id.
func SetAppID(evt *Event, appID string) {
	if evt.Extensions == nil {
		evt.Extensions = make(map[string]any)
	}
	evt.Extensions[ExtAppID] = appID
}

// --- Helper Functions ---

// CopyTracingContext copies tracing extensions from source to destination event.
func CopyTracingContext(src Event, dst *Event) {
	if traceID := GetTraceID(src); traceID != "" {
		SetTraceID(dst, traceID)
	}
	if parentID := GetParentID(src); parentID != "" {
		SetParentID(dst, parentID)
	}
	if correlationID := GetCorrelationID(src); correlationID != "" {
		SetCorrelationID(dst, correlationID)
	}
}
