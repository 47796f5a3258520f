package metadata

// Metadata key constants used throughout larkflow.
// These keys are reserved and should not be used for custom metadata.
const (
	// KeyEventID carries the platform-assigned event identifier.
	KeyEventID = "event_id"

	// KeyEventType carries the dotted event-type string.
	KeyEventType = "event_type"

	// KeyEventSchema identifies the envelope schema ("p1" or "p2").
	KeyEventSchema = "event_schema"

	// KeyTenantKey identifies the tenant that produced the event.
	KeyTenantKey = "tenant_key"

	// KeyAppID identifies the application the event was delivered to.
	KeyAppID = "app_id"

	// KeyTransport records which transport delivered the event
	// ("webhook" or "websocket").
	KeyTransport = "larkflow_transport"

	// KeyReceivedAt records when the event entered the dispatcher.
	KeyReceivedAt = "larkflow_received_at"

	// KeyIdempotencyKey carries the derived deduplication key.
	KeyIdempotencyKey = "idempotency_key"

	// KeyTraceID stores the distributed tracing ID.
	KeyTraceID = "trace_id"

	// KeySpanID stores the distributed tracing span ID.
	KeySpanID = "span_id"
)
