package wire

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	errspkg "github.com/drblury/larkflow/internal/runtime/errors"
	"github.com/drblury/larkflow/internal/runtime/jsoncodec"
)

func TestFrameRoundTrip(t *testing.T) {
	in := &Frame{
		SeqID:   42,
		LogID:   1700000000123,
		Service: 17,
		Method:  MethodData,
		Headers: []Header{
			{Key: HeaderType, Value: MessageTypeEvent},
			{Key: HeaderMessageID, Value: "msg-1"},
			{Key: HeaderSum, Value: "1"},
			{Key: HeaderSeq, Value: "0"},
			{Key: HeaderTraceID, Value: "trace-abc"},
		},
		PayloadEncoding: "utf-8",
		PayloadType:     "json",
		Payload:         []byte(`{"schema":"2.0"}`),
		LogIDNew:        "log-new-1",
	}

	out, err := Unmarshal(Marshal(in))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out.SeqID != in.SeqID || out.LogID != in.LogID {
		t.Fatalf("ids = (%d, %d), want (%d, %d)", out.SeqID, out.LogID, in.SeqID, in.LogID)
	}
	if out.Service != in.Service || out.Method != in.Method {
		t.Fatalf("service/method = (%d, %d), want (%d, %d)", out.Service, out.Method, in.Service, in.Method)
	}
	if len(out.Headers) != len(in.Headers) {
		t.Fatalf("len(Headers) = %d, want %d", len(out.Headers), len(in.Headers))
	}
	for i, h := range in.Headers {
		if out.Headers[i] != h {
			t.Fatalf("Headers[%d] = %+v, want %+v", i, out.Headers[i], h)
		}
	}
	if out.PayloadEncoding != in.PayloadEncoding || out.PayloadType != in.PayloadType {
		t.Fatalf("payload meta = (%q, %q), want (%q, %q)",
			out.PayloadEncoding, out.PayloadType, in.PayloadEncoding, in.PayloadType)
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("Payload = %q, want %q", out.Payload, in.Payload)
	}
	if out.LogIDNew != in.LogIDNew {
		t.Fatalf("LogIDNew = %q, want %q", out.LogIDNew, in.LogIDNew)
	}
}

func TestMarshalOmitsZeroValues(t *testing.T) {
	if b := Marshal(&Frame{}); len(b) != 0 {
		t.Fatalf("Marshal(zero frame) = %d bytes, want 0", len(b))
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	b := Marshal(&Frame{SeqID: 7, Headers: []Header{{Key: HeaderType, Value: MessageTypePong}}})
	b = protowire.AppendTag(b, 15, protowire.VarintType)
	b = protowire.AppendVarint(b, 999)
	b = protowire.AppendTag(b, 16, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	f, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if f.SeqID != 7 {
		t.Fatalf("SeqID = %d, want 7", f.SeqID)
	}
	if got := f.Header(HeaderType); got != MessageTypePong {
		t.Fatalf("type header = %q, want %q", got, MessageTypePong)
	}
}

func TestUnmarshalMalformed(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff, 0xff, 0xff}); !errors.Is(err, errspkg.ErrFrame) {
		t.Fatalf("Unmarshal(garbage) error = %v, want ErrFrame", err)
	}
}

func TestNewPingFrame(t *testing.T) {
	f := NewPingFrame(31)
	if f.Service != 31 {
		t.Fatalf("Service = %d, want 31", f.Service)
	}
	if !f.IsControl() {
		t.Fatalf("Method = %d, want control", f.Method)
	}
	if got := f.Header(HeaderType); got != MessageTypePing {
		t.Fatalf("type header = %q, want %q", got, MessageTypePing)
	}
	if f.LogID == 0 {
		t.Fatal("LogID not set")
	}
}

func TestFrameHeaderOps(t *testing.T) {
	f := &Frame{Headers: []Header{{Key: HeaderType, Value: MessageTypeEvent}}}

	if got := f.Header(HeaderBizRT); got != "" {
		t.Fatalf("missing header = %q, want empty", got)
	}

	f.SetHeader(HeaderBizRT, "12")
	if got := f.Header(HeaderBizRT); got != "12" {
		t.Fatalf("biz_rt = %q, want 12", got)
	}

	f.SetHeader(HeaderType, MessageTypeCard)
	if got := f.Header(HeaderType); got != MessageTypeCard {
		t.Fatalf("type after SetHeader = %q, want %q", got, MessageTypeCard)
	}
	if len(f.Headers) != 2 {
		t.Fatalf("len(Headers) = %d, want 2", len(f.Headers))
	}

	f.Headers = append(f.Headers, Header{Key: HeaderType, Value: MessageTypePing})
	m := f.HeaderMap()
	if m[HeaderType] != MessageTypePing {
		t.Fatalf("HeaderMap duplicate = %q, want later value %q", m[HeaderType], MessageTypePing)
	}
}

func TestReplyPayloadWithResult(t *testing.T) {
	payload, err := SuccessReply(map[string]any{"toast": "ok"})
	if err != nil {
		t.Fatalf("SuccessReply() error = %v", err)
	}

	var body map[string]any
	if err := jsoncodec.Unmarshal(payload, &body); err != nil {
		t.Fatalf("Unmarshal reply: %v", err)
	}
	if code, ok := body["code"].(float64); !ok || int(code) != ReplyCodeSuccess {
		t.Fatalf("code = %v, want %d", body["code"], ReplyCodeSuccess)
	}

	encoded, ok := body["data"].(string)
	if !ok {
		t.Fatalf("data = %T, want base64 string", body["data"])
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode data: %v", err)
	}
	var result map[string]any
	if err := jsoncodec.Unmarshal(decoded, &result); err != nil {
		t.Fatalf("Unmarshal inner result: %v", err)
	}
	if result["toast"] != "ok" {
		t.Fatalf("result = %v, want toast ok", result)
	}
}

func TestReplyPayloadWithoutResult(t *testing.T) {
	payload, err := ErrorReply()
	if err != nil {
		t.Fatalf("ErrorReply() error = %v", err)
	}

	var body map[string]any
	if err := jsoncodec.Unmarshal(payload, &body); err != nil {
		t.Fatalf("Unmarshal reply: %v", err)
	}
	if code, ok := body["code"].(float64); !ok || int(code) != ReplyCodeError {
		t.Fatalf("code = %v, want %d", body["code"], ReplyCodeError)
	}
	if _, ok := body["data"]; ok {
		t.Fatal("error reply must not carry data")
	}
}
