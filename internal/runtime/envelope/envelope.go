// Package envelope normalizes raw platform payloads into a single event
// model shared by every transport. Both the webhook receiver and the
// persistent-connection client decode JSON into a map, hand it to Parse, and
// dispatch the resulting Context without caring which schema generation the
// platform used.
package envelope

// Envelope schema generations emitted by the platform.
const (
	SchemaP1      = "p1"
	SchemaP2      = "p2"
	SchemaUnknown = "unknown"
)

// EventTypeURLVerification is the connectivity-handshake pseudo event. It is
// answered inline and never reaches handlers or the idempotency store.
const EventTypeURLVerification = "url_verification"

// Callback event types expect the handler to return a structured inline
// response (card patch, toast, preview body) instead of a plain ack.
const (
	EventTypeCardAction = "card.action.trigger"
	EventTypeURLPreview = "url.preview.get"
)

// Envelope is the schema-independent header of a platform event. Values are
// copied out of the raw payload at parse time and never written afterwards.
// Raw references the decoded payload and must be treated as read-only.
type Envelope struct {
	Schema     string
	EventType  string
	EventID    string
	Token      string
	TenantKey  string
	AppID      string
	CreateTime string
	Challenge  string
	IsCallback bool
	Raw        map[string]any
}

// IsURLVerification reports whether the envelope is the platform's
// connectivity handshake.
func (e Envelope) IsURLVerification() bool {
	return e.EventType == EventTypeURLVerification
}

// Parse normalizes a decoded payload into an Envelope.
//
// Schema detection: schema == "2.0" with an object header is p2; a uuid/ts
// field or an event object is p1; anything else is unknown. A non-empty
// top-level challenge forces event_type to url_verification regardless of
// schema, so callers can short-circuit before any handler lookup.
func Parse(payload map[string]any) Envelope {
	env := Envelope{Schema: SchemaUnknown, Raw: payload}
	if payload == nil {
		return env
	}

	header := mapField(payload, "header")
	event := mapField(payload, "event")

	switch {
	case stringField(payload, "schema") == "2.0" && header != nil:
		env.Schema = SchemaP2
		env.EventType = stringField(header, "event_type")
		env.EventID = stringField(header, "event_id")
		env.Token = stringField(header, "token")
		env.TenantKey = stringField(header, "tenant_key")
		env.AppID = stringField(header, "app_id")
		env.CreateTime = stringField(header, "create_time")
	case hasField(payload, "uuid") || hasField(payload, "ts") || event != nil:
		env.Schema = SchemaP1
		env.EventType = stringField(event, "type")
		env.EventID = stringField(payload, "uuid")
		env.Token = stringField(payload, "token")
		env.TenantKey = stringField(event, "tenant_key")
		if env.TenantKey == "" {
			env.TenantKey = stringField(payload, "tenant_key")
		}
		env.AppID = stringField(event, "app_id")
		if env.AppID == "" {
			env.AppID = stringField(payload, "app_id")
		}
		env.CreateTime = stringField(payload, "ts")
	}

	if env.EventType == "" {
		env.EventType = stringField(payload, "type")
	}
	if challenge := stringField(payload, "challenge"); challenge != "" {
		env.Challenge = challenge
		env.EventType = EventTypeURLVerification
	}

	env.IsCallback = env.EventType == EventTypeCardAction || env.EventType == EventTypeURLPreview
	return env
}

// IdempotencyKey derives the deduplication key for an envelope. Challenges
// are never deduplicated, so URL-verification envelopes yield an empty key.
func IdempotencyKey(env Envelope) string {
	if env.IsURLVerification() {
		return ""
	}
	return env.EventID
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func mapField(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	sub, _ := m[key].(map[string]any)
	return sub
}

func hasField(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}
