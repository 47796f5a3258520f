// Package metadata defines the string map carried alongside every dispatched
// event and the reserved keys the runtime stamps into it.
package metadata

// Metadata represents the headers carried alongside an event. The dispatch
// pipeline treats it as copy-on-write: typed handlers receive clones, never
// the map the middleware chain mutates.
type Metadata map[string]string

// New constructs a Metadata map from alternating key/value pairs. A trailing
// key without a value is dropped.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// Clone returns a shallow copy. A nil receiver yields an empty, writable map.
func (m Metadata) Clone() Metadata {
	return m.grow(0)
}

// With returns a clone with key set to value. The receiver is not modified.
func (m Metadata) With(key, value string) Metadata {
	out := m.grow(1)
	out[key] = value
	return out
}

// WithAll returns a clone with every entry of extra applied on top.
func (m Metadata) WithAll(extra Metadata) Metadata {
	out := m.grow(len(extra))
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (m Metadata) grow(extra int) Metadata {
	out := make(Metadata, len(m)+extra)
	for k, v := range m {
		out[k] = v
	}
	return out
}
