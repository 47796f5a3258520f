// Package cloudevents provides CloudEvents v1.0 compatible event types used
// when mirroring accepted platform events onto downstream brokers. Delivery
// context that has no first-class CloudEvents attribute (transport, envelope
// schema, trace ids) travels as "lf_" extension attributes.
package cloudevents

import (
	"encoding/json"
	"fmt"
	"time"

	idspkg "github.com/drblury/larkflow/internal/runtime/ids"
	"github.com/drblury/larkflow/internal/runtime/jsoncodec"
)

// SpecVersion is the CloudEvents specification version implemented.
const SpecVersion = "1.0"

// Event represents a CloudEvents v1.0 compliant event.
// See https://github.com/cloudevents/spec/blob/v1.0/spec.md for specification details.
type Event struct {
	// Required attributes

	// SpecVersion is the version of the CloudEvents specification.
	// MUST be set to "1.0" for CloudEvents v1.0.
	SpecVersion string `json:"specversion"`

	// Type is the platform event type of the originating occurrence,
	// e.g. im.message.receive_v1 or card.action.trigger.
	Type string `json:"type"`

	// Source identifies the context in which an event happened. Forwarded
	// events use "larkflow/<app id>" so consumers can tell apps apart.
	Source string `json:"source"`

	// ID uniquely identifies the event. Forwarded events reuse the
	// platform event id; a ULID is generated when the payload has none.
	ID string `json:"id"`

	// Optional attributes

	// Time is the timestamp when the occurrence happened.
	// If not set, the current time is used.
	Time time.Time `json:"time,omitempty"`

	// DataContentType describes the content type of the data attribute.
	// Common values: "application/json"
	DataContentType *string `json:"datacontenttype,omitempty"`

	// DataSchema identifies the schema that data adheres to.
	DataSchema *string `json:"dataschema,omitempty"`

	// Subject describes the subject of the event in the context of the
	// source. Forwarded events carry the tenant key here.
	Subject *string `json:"subject,omitempty"`

	// Data is the event payload. Can be any type that is JSON-serializable.
	Data any `json:"data,omitempty"`

	// DataBase64 contains base64-encoded binary data when Data cannot be
	// directly serialized.
	DataBase64 *string `json:"data_base64,omitempty"`

	// Extensions contains CloudEvents extension attributes.
	// Larkflow uses extensions prefixed with "lf_" for delivery context.
	Extensions map[string]any `json:"extensions,omitempty"`
}

// New creates a new CloudEvent with required fields populated.
// ID is auto-generated using ULID, Time is set to current time.
func New(eventType, source string, data any) Event {
	return Event{
		SpecVersion: SpecVersion,
		Type:        eventType,
		Source:      source,
		ID:          idspkg.CreateULID(),
		Time:        time.Now().UTC(),
		Data:        data,
		Extensions:  make(map[string]any),
	}
}

// NewWithID creates a new CloudEvent with a specific ID.
func NewWithID(id, eventType, source string, data any) Event {
	evt := New(eventType, source, data)
	evt.ID = id
	return evt
}

// WithSubject sets the subject field and returns the event.
func (e Event) WithSubject(subject string) Event {
	e.Subject = &subject
	return e
}

// WithDataContentType sets the data content type and returns the event.
func (e Event) WithDataContentType(contentType string) Event {
	e.DataContentType = &contentType
	return e
}

// WithDataSchema sets the data schema and returns the event.
func (e Event) WithDataSchema(schema string) Event {
	e.DataSchema = &schema
	return e
}

// WithExtension sets an extension attribute and returns the event.
func (e Event) WithExtension(key string, value any) Event {
	if e.Extensions == nil {
		e.Extensions = make(map[string]any)
	}
	e.Extensions[key] = value
	return e
}

// GetExtension retrieves an extension value by key.
// Returns nil if the extension does not exist.
func (e Event) GetExtension(key string) any {
	if e.Extensions == nil {
		return nil
	}
	return e.Extensions[key]
}

// GetExtensionString retrieves an extension value as a string.
// Returns empty string if the extension does not exist or is not a string.
func (e Event) GetExtensionString(key string) string {
	v := e.GetExtension(key)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Validate checks that the event carries every required CloudEvents
// attribute and a supported spec version.
func (e Event) Validate() error {
	switch {
	case e.SpecVersion == "":
		return fmt.Errorf("specversion is required")
	case e.SpecVersion != SpecVersion:
		return fmt.Errorf("specversion must be %q, got %q", SpecVersion, e.SpecVersion)
	case e.Type == "":
		return fmt.Errorf("type is required")
	case e.Source == "":
		return fmt.Errorf("source is required")
	case e.ID == "":
		return fmt.Errorf("id is required")
	}
	return nil
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Clone creates a deep copy of the event. Data is shared, everything the
// forwarder mutates per sink (pointers, extensions) is copied.
func (e Event) Clone() Event {
	cloned := e
	cloned.DataContentType = cloneString(e.DataContentType)
	cloned.DataSchema = cloneString(e.DataSchema)
	cloned.Subject = cloneString(e.Subject)
	cloned.DataBase64 = cloneString(e.DataBase64)
	if e.Extensions != nil {
		cloned.Extensions = make(map[string]any, len(e.Extensions))
		for k, v := range e.Extensions {
			cloned.Extensions[k] = v
		}
	}
	return cloned
}

// contextAttrs are the attribute names of the CloudEvents JSON format
// itself. Any other top-level key is treated as an extension.
var contextAttrs = map[string]bool{
	"specversion":     true,
	"type":            true,
	"source":          true,
	"id":              true,
	"time":            true,
	"datacontenttype": true,
	"dataschema":      true,
	"subject":         true,
	"data":            true,
	"data_base64":     true,
}

// MarshalJSON renders the event in the CloudEvents JSON format, with
// extension attributes flattened into the top-level object.
func (e Event) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"specversion": e.SpecVersion,
		"type":        e.Type,
		"source":      e.Source,
		"id":          e.ID,
	}
	if !e.Time.IsZero() {
		m["time"] = e.Time.Format(time.RFC3339Nano)
	}
	if e.DataContentType != nil {
		m["datacontenttype"] = *e.DataContentType
	}
	if e.DataSchema != nil {
		m["dataschema"] = *e.DataSchema
	}
	if e.Subject != nil {
		m["subject"] = *e.Subject
	}
	if e.Data != nil {
		m["data"] = e.Data
	}
	if e.DataBase64 != nil {
		m["data_base64"] = *e.DataBase64
	}
	for k, v := range e.Extensions {
		m[k] = v
	}
	return jsoncodec.Marshal(m)
}

// UnmarshalJSON parses the CloudEvents JSON format. Unknown top-level keys
// land in Extensions.
func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := jsoncodec.Unmarshal(data, &m); err != nil {
		return err
	}

	field := func(key string, v any) error {
		raw, ok := m[key]
		if !ok {
			return nil
		}
		if err := jsoncodec.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		return nil
	}
	optString := func(key string, dst **string) error {
		if _, ok := m[key]; !ok {
			return nil
		}
		var v string
		if err := field(key, &v); err != nil {
			return err
		}
		*dst = &v
		return nil
	}

	if err := field("specversion", &e.SpecVersion); err != nil {
		return err
	}
	if err := field("type", &e.Type); err != nil {
		return err
	}
	if err := field("source", &e.Source); err != nil {
		return err
	}
	if err := field("id", &e.ID); err != nil {
		return err
	}

	var timeStr string
	if err := field("time", &timeStr); err != nil {
		return err
	}
	if timeStr != "" {
		t, err := time.Parse(time.RFC3339Nano, timeStr)
		if err != nil {
			t, err = time.Parse(time.RFC3339, timeStr)
			if err != nil {
				return fmt.Errorf("invalid time format: %w", err)
			}
		}
		e.Time = t
	}

	if err := optString("datacontenttype", &e.DataContentType); err != nil {
		return err
	}
	if err := optString("dataschema", &e.DataSchema); err != nil {
		return err
	}
	if err := optString("subject", &e.Subject); err != nil {
		return err
	}
	if err := optString("data_base64", &e.DataBase64); err != nil {
		return err
	}
	if err := field("data", &e.Data); err != nil {
		return err
	}

	e.Extensions = make(map[string]any)
	for k, raw := range m {
		if contextAttrs[k] {
			continue
		}
		var v any
		if err := jsoncodec.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("invalid extension %q: %w", k, err)
		}
		e.Extensions[k] = v
	}
	return nil
}
