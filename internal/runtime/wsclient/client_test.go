package wsclient

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	errspkg "github.com/drblury/larkflow/internal/runtime/errors"
	"github.com/drblury/larkflow/internal/runtime/httpclient"
	"github.com/drblury/larkflow/internal/runtime/jsoncodec"
	"github.com/drblury/larkflow/internal/runtime/wire"
)

const testWait = 5 * time.Second

// fakePlatform stands in for the event platform: a bootstrap route that
// points at a websocket route, which hands each upgraded connection to onConn.
type fakePlatform struct {
	endpoint *httptest.Server
	ws       *httptest.Server
	hits     atomic.Int64
}

func newFakePlatform(t *testing.T, clientConfig map[string]any, onConn func(conn *websocket.Conn)) *fakePlatform {
	t.Helper()
	p := &fakePlatform{}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	p.ws = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		onConn(conn)
	}))
	t.Cleanup(p.ws.Close)

	wsURL := "ws" + strings.TrimPrefix(p.ws.URL, "http") + "/ws?device_id=dev-1&service_id=17"
	p.endpoint = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.hits.Add(1)
		raw, _ := jsoncodec.Marshal(map[string]any{
			"code": 0,
			"msg":  "success",
			"data": map[string]any{"URL": wsURL, "ClientConfig": clientConfig},
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(raw)
	}))
	t.Cleanup(p.endpoint.Close)
	return p
}

// fastTuning keeps reconnect delays tiny so tests never sit out real backoff.
func fastTuning() map[string]any {
	return map[string]any{
		"ReconnectCount":    -1,
		"ReconnectInterval": 0.01,
		"ReconnectNonce":    0,
		"PingInterval":      120,
	}
}

func noopDispatch(context.Context, []byte, string) (map[string]any, error) {
	return nil, nil
}

func startClient(t *testing.T, opts Options) *Client {
	t.Helper()
	client, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- client.Start(context.Background()) }()
	t.Cleanup(func() {
		client.Stop()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start() = %v after Stop, want nil", err)
			}
		case <-time.After(testWait):
			t.Error("Start did not return after Stop")
		}
	})
	return client
}

func eventFrame(messageID string, payload []byte) *wire.Frame {
	return &wire.Frame{
		SeqID:  7,
		Method: wire.MethodData,
		Headers: []wire.Header{
			{Key: wire.HeaderType, Value: wire.MessageTypeEvent},
			{Key: wire.HeaderMessageID, Value: messageID},
		},
		Payload: payload,
	}
}

// relayReplies reads frames from the server side, dropping heartbeats and
// forwarding everything else. Returns when the connection drops.
func relayReplies(conn *websocket.Conn, replies chan<- *wire.Frame) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := wire.Unmarshal(raw)
		if err != nil {
			continue
		}
		if frame.Header(wire.HeaderType) == wire.MessageTypePing {
			continue
		}
		replies <- frame
	}
}

func replyBody(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	var body map[string]any
	if err := jsoncodec.Unmarshal(payload, &body); err != nil {
		t.Fatalf("reply payload is not json: %v", err)
	}
	return body
}

func assertReplyCode(t *testing.T, payload []byte, want int) map[string]any {
	t.Helper()
	body := replyBody(t, payload)
	code, ok := body["code"].(float64)
	if !ok || int(code) != want {
		t.Fatalf("reply code = %v, want %d", body["code"], want)
	}
	return body
}

func decodeReplyData(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	body := replyBody(t, payload)
	encoded, ok := body["data"].(string)
	if !ok {
		t.Fatalf("reply carries no data: %v", body)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("reply data is not base64: %v", err)
	}
	var result map[string]any
	if err := jsoncodec.Unmarshal(raw, &result); err != nil {
		t.Fatalf("reply data is not json: %v", err)
	}
	return result
}

func TestClientDispatchesAndReplies(t *testing.T) {
	dispatched := make(chan string, 1)
	replies := make(chan *wire.Frame, 8)

	p := newFakePlatform(t, fastTuning(), func(conn *websocket.Conn) {
		defer conn.Close()
		frame := eventFrame("om_1", []byte(`{"schema":"2.0"}`))
		if err := conn.WriteMessage(websocket.BinaryMessage, wire.Marshal(frame)); err != nil {
			return
		}
		relayReplies(conn, replies)
	})

	client := startClient(t, Options{
		AppID:     "cli_a1",
		AppSecret: "secret",
		Domain:    p.endpoint.URL,
		Dispatch: func(ctx context.Context, payload []byte, messageType string) (map[string]any, error) {
			dispatched <- messageType + "|" + string(payload)
			return map[string]any{"handled": true}, nil
		},
	})

	select {
	case got := <-dispatched:
		if got != `event|{"schema":"2.0"}` {
			t.Fatalf("dispatch saw %q", got)
		}
	case <-time.After(testWait):
		t.Fatal("timed out waiting for dispatch")
	}

	select {
	case reply := <-replies:
		if reply.SeqID != 7 {
			t.Fatalf("reply SeqID = %d, want the incoming frame's 7", reply.SeqID)
		}
		if reply.Header(wire.HeaderBizRT) == "" {
			t.Fatal("reply is missing the biz_rt header")
		}
		assertReplyCode(t, reply.Payload, wire.ReplyCodeSuccess)
		result := decodeReplyData(t, reply.Payload)
		if result["handled"] != true {
			t.Fatalf("reply data = %v", result)
		}
	case <-time.After(testWait):
		t.Fatal("timed out waiting for reply frame")
	}

	if got := client.ServiceID(); got != 17 {
		t.Fatalf("ServiceID = %d, want 17 from the endpoint URL", got)
	}
}

func TestClientReassemblesFragments(t *testing.T) {
	dispatched := make(chan string, 4)
	replies := make(chan *wire.Frame, 8)

	chunks := []string{`{"sch`, `ema":`, `"2.0"}`}
	p := newFakePlatform(t, fastTuning(), func(conn *websocket.Conn) {
		defer conn.Close()
		for seq, chunk := range chunks {
			frame := eventFrame("om_frag", []byte(chunk))
			frame.SetHeader(wire.HeaderSum, strconv.Itoa(len(chunks)))
			frame.SetHeader(wire.HeaderSeq, strconv.Itoa(seq))
			if err := conn.WriteMessage(websocket.BinaryMessage, wire.Marshal(frame)); err != nil {
				return
			}
		}
		relayReplies(conn, replies)
	})

	startClient(t, Options{
		AppID:     "cli_a1",
		AppSecret: "secret",
		Domain:    p.endpoint.URL,
		Dispatch: func(ctx context.Context, payload []byte, messageType string) (map[string]any, error) {
			dispatched <- string(payload)
			return nil, nil
		},
	})

	select {
	case got := <-dispatched:
		if got != `{"schema":"2.0"}` {
			t.Fatalf("dispatch saw %q, want the reassembled payload", got)
		}
	case <-time.After(testWait):
		t.Fatal("timed out waiting for dispatch")
	}

	select {
	case got := <-dispatched:
		t.Fatalf("fragmented message dispatched again with %q", got)
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case reply := <-replies:
		assertReplyCode(t, reply.Payload, wire.ReplyCodeSuccess)
	case <-time.After(testWait):
		t.Fatal("timed out waiting for the single ack")
	}
	select {
	case extra := <-replies:
		t.Fatalf("unexpected extra reply %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientHandlerErrorRepliesFailure(t *testing.T) {
	replies := make(chan *wire.Frame, 8)
	p := newFakePlatform(t, fastTuning(), func(conn *websocket.Conn) {
		defer conn.Close()
		frame := eventFrame("om_err", []byte(`{}`))
		if err := conn.WriteMessage(websocket.BinaryMessage, wire.Marshal(frame)); err != nil {
			return
		}
		relayReplies(conn, replies)
	})

	startClient(t, Options{
		AppID:     "cli_a1",
		AppSecret: "secret",
		Domain:    p.endpoint.URL,
		Dispatch: func(ctx context.Context, payload []byte, messageType string) (map[string]any, error) {
			return nil, errors.New("handler blew up")
		},
	})

	select {
	case reply := <-replies:
		body := assertReplyCode(t, reply.Payload, wire.ReplyCodeError)
		if _, ok := body["data"]; ok {
			t.Fatalf("error reply must not carry data: %v", body)
		}
	case <-time.After(testWait):
		t.Fatal("timed out waiting for reply frame")
	}
}

func TestClientHandlerPanicKeepsConnection(t *testing.T) {
	replies := make(chan *wire.Frame, 8)
	p := newFakePlatform(t, fastTuning(), func(conn *websocket.Conn) {
		defer conn.Close()
		for _, id := range []string{"om_a", "om_b"} {
			frame := eventFrame(id, []byte(`{}`))
			if err := conn.WriteMessage(websocket.BinaryMessage, wire.Marshal(frame)); err != nil {
				return
			}
		}
		relayReplies(conn, replies)
	})

	var calls atomic.Int64
	startClient(t, Options{
		AppID:     "cli_a1",
		AppSecret: "secret",
		Domain:    p.endpoint.URL,
		Dispatch: func(ctx context.Context, payload []byte, messageType string) (map[string]any, error) {
			if calls.Add(1) == 1 {
				panic("kaboom")
			}
			return map[string]any{"ok": true}, nil
		},
	})

	select {
	case reply := <-replies:
		assertReplyCode(t, reply.Payload, wire.ReplyCodeError)
	case <-time.After(testWait):
		t.Fatal("timed out waiting for the panic reply")
	}
	select {
	case reply := <-replies:
		assertReplyCode(t, reply.Payload, wire.ReplyCodeSuccess)
	case <-time.After(testWait):
		t.Fatal("connection did not survive the handler panic")
	}
}

func TestClientCardFrameMessageType(t *testing.T) {
	types := make(chan string, 1)
	replies := make(chan *wire.Frame, 8)
	p := newFakePlatform(t, fastTuning(), func(conn *websocket.Conn) {
		defer conn.Close()
		frame := eventFrame("om_card", []byte(`{"action":{"tag":"button"}}`))
		frame.SetHeader(wire.HeaderType, wire.MessageTypeCard)
		if err := conn.WriteMessage(websocket.BinaryMessage, wire.Marshal(frame)); err != nil {
			return
		}
		relayReplies(conn, replies)
	})

	startClient(t, Options{
		AppID:     "cli_a1",
		AppSecret: "secret",
		Domain:    p.endpoint.URL,
		Dispatch: func(ctx context.Context, payload []byte, messageType string) (map[string]any, error) {
			types <- messageType
			return nil, nil
		},
	})

	select {
	case got := <-types:
		if got != wire.MessageTypeCard {
			t.Fatalf("messageType = %q, want %q", got, wire.MessageTypeCard)
		}
	case <-time.After(testWait):
		t.Fatal("timed out waiting for dispatch")
	}
}

func TestClientPongRefreshesTuning(t *testing.T) {
	pongs := make(chan struct{}, 1)
	p := newFakePlatform(t, fastTuning(), func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame, err := wire.Unmarshal(raw)
			if err != nil || frame.Header(wire.HeaderType) != wire.MessageTypePing {
				continue
			}
			pong := &wire.Frame{
				Method:  wire.MethodControl,
				Headers: []wire.Header{{Key: wire.HeaderType, Value: wire.MessageTypePong}},
				Payload: []byte(`{"PingInterval":5,"ReconnectInterval":9}`),
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, wire.Marshal(pong)); err != nil {
				return
			}
		}
	})

	client := startClient(t, Options{
		AppID:     "cli_a1",
		AppSecret: "secret",
		Domain:    p.endpoint.URL,
		Dispatch:  noopDispatch,
		Hooks: Hooks{OnPong: func() {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}},
	})

	select {
	case <-pongs:
	case <-time.After(testWait):
		t.Fatal("timed out waiting for pong")
	}

	if got := client.PingInterval(); got != 5*time.Second {
		t.Fatalf("PingInterval = %v, want 5s from the pong payload", got)
	}
	if got := client.reconnectPolicy().Interval; got != 9*time.Second {
		t.Fatalf("reconnect interval = %v, want 9s from the pong payload", got)
	}
	if client.LastPong().IsZero() {
		t.Fatal("LastPong was not recorded")
	}
}

func TestClientReconnects(t *testing.T) {
	var conns atomic.Int64
	p := newFakePlatform(t, fastTuning(), func(conn *websocket.Conn) {
		conns.Add(1)
		conn.Close()
	})

	startClient(t, Options{
		AppID:     "cli_a1",
		AppSecret: "secret",
		Domain:    p.endpoint.URL,
		Dispatch:  noopDispatch,
	})

	deadline := time.Now().Add(testWait)
	for conns.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := conns.Load(); got < 3 {
		t.Fatalf("connections = %d, want at least 3", got)
	}
}

func TestClientMalformedFrameReconnects(t *testing.T) {
	var conns atomic.Int64
	disconnects := make(chan error, 4)
	p := newFakePlatform(t, fastTuning(), func(conn *websocket.Conn) {
		defer conn.Close()
		if conns.Add(1) == 1 {
			if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0xff, 0xff, 0xff}); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	startClient(t, Options{
		AppID:     "cli_a1",
		AppSecret: "secret",
		Domain:    p.endpoint.URL,
		Dispatch:  noopDispatch,
		Hooks: Hooks{OnDisconnect: func(err error) {
			select {
			case disconnects <- err:
			default:
			}
		}},
	})

	select {
	case err := <-disconnects:
		if !errors.Is(err, errspkg.ErrFrame) {
			t.Fatalf("disconnect error = %v, want ErrFrame", err)
		}
	case <-time.After(testWait):
		t.Fatal("timed out waiting for disconnect")
	}

	deadline := time.Now().Add(testWait)
	for conns.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conns.Load() < 2 {
		t.Fatal("client did not reconnect after the malformed frame")
	}
}

func TestClientStopReturnsCleanly(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	p := newFakePlatform(t, fastTuning(), func(conn *websocket.Conn) {
		defer conn.Close()
		<-block
	})

	connected := make(chan struct{}, 1)
	client, err := New(Options{
		AppID:     "cli_a1",
		AppSecret: "secret",
		Domain:    p.endpoint.URL,
		Dispatch:  noopDispatch,
		Hooks: Hooks{OnConnect: func(*Endpoint) {
			select {
			case connected <- struct{}{}:
			default:
			}
		}},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- client.Start(context.Background()) }()

	select {
	case <-connected:
	case <-time.After(testWait):
		t.Fatal("timed out waiting for the connection")
	}
	client.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() = %v, want nil after Stop", err)
		}
	case <-time.After(testWait):
		t.Fatal("Start did not return after Stop")
	}
}

func TestClientContextCancelStopsStart(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	p := newFakePlatform(t, fastTuning(), func(conn *websocket.Conn) {
		defer conn.Close()
		<-block
	})

	connected := make(chan struct{}, 1)
	client, err := New(Options{
		AppID:     "cli_a1",
		AppSecret: "secret",
		Domain:    p.endpoint.URL,
		Dispatch:  noopDispatch,
		Hooks: Hooks{OnConnect: func(*Endpoint) {
			select {
			case connected <- struct{}{}:
			default:
			}
		}},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Start(ctx) }()

	select {
	case <-connected:
	case <-time.After(testWait):
		t.Fatal("timed out waiting for the connection")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() = %v, want nil after cancel", err)
		}
	case <-time.After(testWait):
		t.Fatal("Start did not return after context cancel")
	}
}

func TestClientRetriesExhausted(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":1,"msg":"denied"}`))
	}))
	defer srv.Close()

	client, err := New(Options{
		AppID:     "cli_a1",
		AppSecret: "secret",
		Domain:    srv.URL,
		Dispatch:  noopDispatch,
		Reconnect: &ReconnectPolicy{RetryCount: 1, Interval: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = client.Start(context.Background())
	if !errors.Is(err, errspkg.ErrRetriesExhausted) {
		t.Fatalf("Start() = %v, want ErrRetriesExhausted", err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("bootstrap attempts = %d, want 2", got)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Options{AppID: "a", AppSecret: "s"}); !errors.Is(err, errspkg.ErrHandlerRequired) {
		t.Fatalf("error = %v, want ErrHandlerRequired", err)
	}
	if _, err := New(Options{Dispatch: noopDispatch, AppSecret: "s"}); !errors.Is(err, errspkg.ErrConfiguration) {
		t.Fatalf("error = %v, want ErrConfiguration", err)
	}
	if _, err := New(Options{Dispatch: noopDispatch, AppID: "a"}); !errors.Is(err, errspkg.ErrConfiguration) {
		t.Fatalf("error = %v, want ErrConfiguration", err)
	}
}

type poolRecordingTransport struct {
	closed atomic.Bool
}

func (rt *poolRecordingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("transport not wired for requests")
}

func (rt *poolRecordingTransport) CloseIdleConnections() { rt.closed.Store(true) }

func TestStopReleasesOwnedBootstrapClient(t *testing.T) {
	client, err := New(Options{
		AppID:     "cli_test",
		AppSecret: "secret",
		Domain:    "https://open.example.invalid",
		Dispatch:  noopDispatch,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	rt := &poolRecordingTransport{}
	client.http.HTTPClient = &http.Client{Transport: rt}

	client.Stop()
	if !rt.closed.Load() {
		t.Fatal("Stop() did not release the bootstrap client's idle connections")
	}
}

func TestStopKeepsSuppliedHTTPClient(t *testing.T) {
	rt := &poolRecordingTransport{}
	hc := httpclient.New("https://open.example.invalid",
		httpclient.WithHTTPClient(&http.Client{Transport: rt}))

	client, err := New(Options{
		AppID:     "cli_test",
		AppSecret: "secret",
		Dispatch:  noopDispatch,
		HTTP:      hc,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	client.Stop()
	if rt.closed.Load() {
		t.Fatal("Stop() closed a caller-supplied HTTP client")
	}
}
