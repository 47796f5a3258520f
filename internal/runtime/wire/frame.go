// Package wire implements the binary frame protocol spoken on the persistent
// connection: a small protobuf message with string key/value headers, plus
// the reply payload format and the fragment combiner for multi-chunk events.
package wire

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	errspkg "github.com/drblury/larkflow/internal/runtime/errors"
)

// Frame methods.
const (
	MethodControl = 0
	MethodData    = 1
)

// Known frame header keys.
const (
	HeaderType      = "type"
	HeaderMessageID = "message_id"
	HeaderSum       = "sum"
	HeaderSeq       = "seq"
	HeaderTraceID   = "trace_id"
	HeaderBizRT     = "biz_rt"
)

// Values of the "type" header.
const (
	MessageTypeEvent = "event"
	MessageTypeCard  = "card"
	MessageTypePing  = "ping"
	MessageTypePong  = "pong"
)

// Wire field numbers of Frame.
const (
	fieldSeqID           = 1
	fieldLogID           = 2
	fieldService         = 3
	fieldMethod          = 4
	fieldHeaders         = 5
	fieldPayloadEncoding = 6
	fieldPayloadType     = 7
	fieldPayload         = 8
	fieldLogIDNew        = 9
)

// Wire field numbers of Header.
const (
	headerFieldKey   = 1
	headerFieldValue = 2
)

// Header is one ordered key/value pair on a frame.
type Header struct {
	Key   string
	Value string
}

// Frame is the wire-level frame. It is mutated in place only to attach the
// reply payload and timing header before being written back.
type Frame struct {
	SeqID           uint64
	LogID           uint64
	Service         int32
	Method          int32
	Headers         []Header
	PayloadEncoding string
	PayloadType     string
	Payload         []byte
	LogIDNew        string
}

// NewPingFrame builds the control heartbeat frame for a connection.
func NewPingFrame(serviceID int32) *Frame {
	return &Frame{
		LogID:   uint64(time.Now().UnixMilli()),
		Service: serviceID,
		Method:  MethodControl,
		Headers: []Header{{Key: HeaderType, Value: MessageTypePing}},
	}
}

// Header returns the value of the first header with the given key.
func (f *Frame) Header(key string) string {
	for _, h := range f.Headers {
		if h.Key == key {
			return h.Value
		}
	}
	return ""
}

// SetHeader replaces the value of key, appending the header when absent.
func (f *Frame) SetHeader(key, value string) {
	for i, h := range f.Headers {
		if h.Key == key {
			f.Headers[i].Value = value
			return
		}
	}
	f.Headers = append(f.Headers, Header{Key: key, Value: value})
}

// HeaderMap flattens the ordered headers into a lookup map. Later duplicates
// win, matching how the platform treats repeated keys.
func (f *Frame) HeaderMap() map[string]string {
	m := make(map[string]string, len(f.Headers))
	for _, h := range f.Headers {
		m[h.Key] = h.Value
	}
	return m
}

// IsControl reports whether the frame carries protocol control traffic.
func (f *Frame) IsControl() bool { return f.Method == MethodControl }

// IsData reports whether the frame carries an event payload.
func (f *Frame) IsData() bool { return f.Method == MethodData }

// Marshal encodes the frame into its binary form. Zero-valued fields are
// omitted, matching standard proto3 encoding.
func Marshal(f *Frame) []byte {
	var b []byte
	if f.SeqID != 0 {
		b = protowire.AppendTag(b, fieldSeqID, protowire.VarintType)
		b = protowire.AppendVarint(b, f.SeqID)
	}
	if f.LogID != 0 {
		b = protowire.AppendTag(b, fieldLogID, protowire.VarintType)
		b = protowire.AppendVarint(b, f.LogID)
	}
	if f.Service != 0 {
		b = protowire.AppendTag(b, fieldService, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(f.Service)))
	}
	if f.Method != 0 {
		b = protowire.AppendTag(b, fieldMethod, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(f.Method)))
	}
	for _, h := range f.Headers {
		b = protowire.AppendTag(b, fieldHeaders, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalHeader(h))
	}
	if f.PayloadEncoding != "" {
		b = protowire.AppendTag(b, fieldPayloadEncoding, protowire.BytesType)
		b = protowire.AppendString(b, f.PayloadEncoding)
	}
	if f.PayloadType != "" {
		b = protowire.AppendTag(b, fieldPayloadType, protowire.BytesType)
		b = protowire.AppendString(b, f.PayloadType)
	}
	if len(f.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Payload)
	}
	if f.LogIDNew != "" {
		b = protowire.AppendTag(b, fieldLogIDNew, protowire.BytesType)
		b = protowire.AppendString(b, f.LogIDNew)
	}
	return b
}

func marshalHeader(h Header) []byte {
	var b []byte
	if h.Key != "" {
		b = protowire.AppendTag(b, headerFieldKey, protowire.BytesType)
		b = protowire.AppendString(b, h.Key)
	}
	if h.Value != "" {
		b = protowire.AppendTag(b, headerFieldValue, protowire.BytesType)
		b = protowire.AppendString(b, h.Value)
	}
	return b
}

// Unmarshal decodes a binary frame. Unknown fields are skipped so newer
// server frames stay readable.
func Unmarshal(data []byte) (*Frame, error) {
	f := &Frame{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, frameParseError(protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldSeqID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, frameParseError(protowire.ParseError(n))
			}
			f.SeqID = v
			data = data[n:]
		case num == fieldLogID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, frameParseError(protowire.ParseError(n))
			}
			f.LogID = v
			data = data[n:]
		case num == fieldService && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, frameParseError(protowire.ParseError(n))
			}
			f.Service = int32(v)
			data = data[n:]
		case num == fieldMethod && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, frameParseError(protowire.ParseError(n))
			}
			f.Method = int32(v)
			data = data[n:]
		case num == fieldHeaders && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, frameParseError(protowire.ParseError(n))
			}
			h, err := unmarshalHeader(v)
			if err != nil {
				return nil, err
			}
			f.Headers = append(f.Headers, h)
			data = data[n:]
		case num == fieldPayloadEncoding && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, frameParseError(protowire.ParseError(n))
			}
			f.PayloadEncoding = v
			data = data[n:]
		case num == fieldPayloadType && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, frameParseError(protowire.ParseError(n))
			}
			f.PayloadType = v
			data = data[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, frameParseError(protowire.ParseError(n))
			}
			f.Payload = append([]byte(nil), v...)
			data = data[n:]
		case num == fieldLogIDNew && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, frameParseError(protowire.ParseError(n))
			}
			f.LogIDNew = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, frameParseError(protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return f, nil
}

func unmarshalHeader(data []byte) (Header, error) {
	var h Header
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return h, frameParseError(protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == headerFieldKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return h, frameParseError(protowire.ParseError(n))
			}
			h.Key = v
			data = data[n:]
		case num == headerFieldValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return h, frameParseError(protowire.ParseError(n))
			}
			h.Value = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return h, frameParseError(protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return h, nil
}

func frameParseError(err error) error {
	return fmt.Errorf("%w: %v", errspkg.ErrFrame, err)
}
