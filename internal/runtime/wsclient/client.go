package wsclient

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	errspkg "github.com/drblury/larkflow/internal/runtime/errors"
	"github.com/drblury/larkflow/internal/runtime/httpclient"
	"github.com/drblury/larkflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/larkflow/internal/runtime/logging"
	"github.com/drblury/larkflow/internal/runtime/wire"
)

// Dispatch routes one reassembled event payload. messageType carries the
// frame "type" header so card callbacks can be told apart from plain events.
type Dispatch func(ctx context.Context, payload []byte, messageType string) (map[string]any, error)

// Hooks observe connection lifecycle transitions, e.g. for metrics.
type Hooks struct {
	OnConnect       func(endpoint *Endpoint)
	OnDisconnect    func(err error)
	OnReconnectWait func(attempt int, delay time.Duration)
	OnPong          func()
}

// Options configures a Client.
type Options struct {
	AppID     string
	AppSecret string

	// Domain hosts the endpoint bootstrap. Defaults to DefaultDomain.
	// Ignored when HTTP is supplied.
	Domain string

	Dispatch Dispatch
	Logger   loggingpkg.ServiceLogger

	// HTTP overrides the bootstrap client, e.g. to attach a rate limiter.
	HTTP *httpclient.Client

	// Reconnect overrides the initial policy. The server-pushed tuning
	// replaces its fields on every successful bootstrap.
	Reconnect *ReconnectPolicy

	// PingInterval overrides the initial heartbeat cadence.
	PingInterval time.Duration

	Dialer *websocket.Dialer
	Hooks  Hooks
}

// Client owns one logical persistent connection, reconnecting as needed.
type Client struct {
	appID     string
	appSecret string
	http      *httpclient.Client
	ownsHTTP  bool
	dispatch  Dispatch
	logger    loggingpkg.ServiceLogger
	dialer    *websocket.Dialer
	hooks     Hooks
	combiner  *wire.Combiner

	mu           sync.Mutex
	policy       *ReconnectPolicy
	pingInterval time.Duration
	lastPong     time.Time
	conn         *websocket.Conn
	serviceID    int32

	writeMu sync.Mutex

	stopOnce sync.Once
	stopped  chan struct{}
}

// New validates opts and builds a Client. Call Start to connect.
func New(opts Options) (*Client, error) {
	if opts.Dispatch == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if opts.AppID == "" || opts.AppSecret == "" {
		return nil, fmt.Errorf("%w: app id and app secret are required", errspkg.ErrConfiguration)
	}

	domain := opts.Domain
	if domain == "" {
		domain = DefaultDomain
	}
	hc := opts.HTTP
	ownsHTTP := false
	if hc == nil {
		hc = httpclient.New(domain)
		ownsHTTP = true
	}
	policy := opts.Reconnect
	if policy == nil {
		policy = NewReconnectPolicy()
	}
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = DefaultRemoteConfig().PingInterval
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	return &Client{
		appID:        opts.AppID,
		appSecret:    opts.AppSecret,
		http:         hc,
		ownsHTTP:     ownsHTTP,
		dispatch:     opts.Dispatch,
		logger:       opts.Logger,
		dialer:       dialer,
		hooks:        opts.Hooks,
		combiner:     wire.NewCombiner(0),
		policy:       policy,
		pingInterval: pingInterval,
		stopped:      make(chan struct{}),
	}, nil
}

// Start connects and serves events until Stop is called, the context is
// cancelled, or the reconnect budget is spent. A clean stop returns nil.
func (c *Client) Start(ctx context.Context) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stopped:
			return nil
		default:
		}

		err := c.runConnection(ctx)
		if c.isStopped() || ctx.Err() != nil {
			return nil
		}
		if err == nil {
			attempt = 0
			continue
		}

		policy := c.reconnectPolicy()
		if !policy.ShouldRetry(attempt) {
			return fmt.Errorf("%w: %v", errspkg.ErrRetriesExhausted, err)
		}
		delay := policy.Delay(attempt)
		attempt++
		c.logError("Long connection lost, reconnecting", err, loggingpkg.LogFields{
			"attempt": attempt,
			"delay":   delay.String(),
		})
		if c.hooks.OnReconnectWait != nil {
			c.hooks.OnReconnectWait(attempt, delay)
		}
		if !c.sleep(ctx, delay) {
			return nil
		}
	}
}

// Stop tears down the connection and makes Start return. When the client
// built its own bootstrap client it also drops that client's idle pool;
// a caller-supplied HTTP client is left alone. Safe to call more than once
// and from any goroutine.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopped)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		if c.ownsHTTP {
			c.http.Close()
		}
	})
}

// LastPong reports when the server last answered a heartbeat.
func (c *Client) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

// PingInterval reports the current heartbeat cadence.
func (c *Client) PingInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingInterval
}

// ServiceID reports the connection identity from the last bootstrap.
func (c *Client) ServiceID() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serviceID
}

func (c *Client) runConnection(ctx context.Context) error {
	endpoint, err := FetchEndpoint(ctx, c.http, c.appID, c.appSecret)
	if err != nil {
		return err
	}
	c.applyRemoteConfig(endpoint.Config)
	c.setServiceID(endpoint.ServiceID)

	conn, resp, err := c.dialer.DialContext(ctx, endpoint.URL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("%w: dial: %v", errspkg.ErrConnClosed, err)
	}

	c.setConn(conn)
	defer func() {
		c.setConn(nil)
		conn.Close()
	}()

	c.logInfo("Long connection established", loggingpkg.LogFields{
		"device_id":  endpoint.DeviceID,
		"service_id": endpoint.ServiceID,
	})
	if c.hooks.OnConnect != nil {
		c.hooks.OnConnect(endpoint)
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock the socket read when the caller gives up or Stop runs.
	go func() {
		select {
		case <-connCtx.Done():
		case <-c.stopped:
		}
		conn.Close()
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		c.heartbeatLoop(connCtx, conn)
	}()

	err = c.receiveLoop(connCtx, conn)

	// Close before waiting so a heartbeat blocked on a dead socket unblocks.
	cancel()
	conn.Close()
	<-heartbeatDone

	if err != nil && !c.isStopped() && c.hooks.OnDisconnect != nil {
		c.hooks.OnDisconnect(err)
	}
	return err
}

func (c *Client) receiveLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if c.isStopped() || ctx.Err() != nil {
			return nil
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if c.isStopped() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %v", errspkg.ErrConnClosed, err)
		}
		if err := c.handleMessage(ctx, conn, raw); err != nil {
			return err
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.writeFrame(conn, wire.NewPingFrame(c.ServiceID())); err != nil {
			return
		}
		timer := time.NewTimer(c.PingInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Client) handleMessage(ctx context.Context, conn *websocket.Conn, raw []byte) error {
	frame, err := wire.Unmarshal(raw)
	if err != nil {
		return err
	}
	switch frame.Method {
	case wire.MethodControl:
		c.handleControlFrame(frame)
		return nil
	case wire.MethodData:
		return c.handleDataFrame(ctx, conn, frame)
	}
	return nil
}

func (c *Client) handleControlFrame(frame *wire.Frame) {
	if frame.Header(wire.HeaderType) != wire.MessageTypePong {
		return
	}
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
	if len(frame.Payload) > 0 {
		c.refreshRemoteConfig(frame.Payload)
	}
	if c.hooks.OnPong != nil {
		c.hooks.OnPong()
	}
}

// handleDataFrame reassembles, dispatches, and acknowledges one event. The
// reply reuses the incoming frame with the handler result as payload and the
// handling duration in the biz_rt header. Each reply is written before the
// next read so frames on a connection stay strictly ordered.
func (c *Client) handleDataFrame(ctx context.Context, conn *websocket.Conn, frame *wire.Frame) error {
	headers := frame.HeaderMap()
	payload := frame.Payload

	if total := intHeader(headers[wire.HeaderSum], 1); total > 1 {
		seq := intHeader(headers[wire.HeaderSeq], 0)
		merged := c.combiner.Append(headers[wire.HeaderMessageID], payload, total, seq)
		if merged == nil {
			return nil
		}
		payload = merged
	}

	start := time.Now()
	result, err := c.dispatchSafe(ctx, payload, headers[wire.HeaderType])
	var reply []byte
	if err != nil {
		c.logError("Event handler failed", err, loggingpkg.LogFields{
			"message_id": headers[wire.HeaderMessageID],
		})
		reply, _ = wire.ErrorReply()
	} else {
		reply, err = wire.SuccessReply(result)
		if err != nil {
			reply, _ = wire.ErrorReply()
		}
	}

	frame.SetHeader(wire.HeaderBizRT, strconv.FormatInt(time.Since(start).Milliseconds(), 10))
	frame.Payload = reply
	return c.writeFrame(conn, frame)
}

func (c *Client) dispatchSafe(ctx context.Context, payload []byte, messageType string) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.dispatch(ctx, payload, messageType)
}

func (c *Client) writeFrame(conn *websocket.Conn, frame *wire.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, wire.Marshal(frame)); err != nil {
		return fmt.Errorf("%w: write: %v", errspkg.ErrConnClosed, err)
	}
	return nil
}

func (c *Client) applyRemoteConfig(cfg RemoteConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy.RetryCount = cfg.ReconnectCount
	c.policy.Interval = cfg.ReconnectInterval
	c.policy.InitialJitter = cfg.ReconnectNonce
	if cfg.PingInterval > 0 {
		c.pingInterval = cfg.PingInterval
	}
}

// refreshRemoteConfig applies tuning carried in a pong payload. Absent or
// zero values keep the current setting.
func (c *Client) refreshRemoteConfig(payload []byte) {
	var data map[string]any
	if err := jsoncodec.Unmarshal(payload, &data); err != nil || data == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := numberValue(data["ReconnectCount"]); ok && v != 0 {
		c.policy.RetryCount = int(v)
	}
	if v, ok := numberValue(data["ReconnectInterval"]); ok && v != 0 {
		c.policy.Interval = secondsDuration(v)
	}
	if v, ok := numberValue(data["ReconnectNonce"]); ok && v != 0 {
		c.policy.InitialJitter = secondsDuration(v)
	}
	if v, ok := numberValue(data["PingInterval"]); ok && v > 0 {
		c.pingInterval = secondsDuration(v)
	}
}

func (c *Client) reconnectPolicy() ReconnectPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.policy
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) setServiceID(raw string) {
	id, err := strconv.Atoi(raw)
	if err != nil {
		id = 0
	}
	c.mu.Lock()
	c.serviceID = int32(id)
	c.mu.Unlock()
}

func (c *Client) isStopped() bool {
	select {
	case <-c.stopped:
		return true
	default:
		return false
	}
}

// sleep waits for d, returning false when interrupted by stop or context.
func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !c.isStopped() && ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.stopped:
		return false
	case <-timer.C:
		return true
	}
}

func (c *Client) logInfo(msg string, fields loggingpkg.LogFields) {
	if c.logger != nil {
		c.logger.Info(msg, fields)
	}
}

func (c *Client) logError(msg string, err error, fields loggingpkg.LogFields) {
	if c.logger != nil {
		c.logger.Error(msg, err, fields)
	}
}

func intHeader(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
