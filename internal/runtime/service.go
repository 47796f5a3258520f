package runtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	configpkg "github.com/drblury/larkflow/internal/runtime/config"
	"github.com/drblury/larkflow/internal/runtime/envelope"
	forwardpkg "github.com/drblury/larkflow/internal/runtime/forward"
	httpclientpkg "github.com/drblury/larkflow/internal/runtime/httpclient"
	idempotencypkg "github.com/drblury/larkflow/internal/runtime/idempotency"
	jsoncodec "github.com/drblury/larkflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/larkflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/larkflow/internal/runtime/metadata"
	ratelimitpkg "github.com/drblury/larkflow/internal/runtime/ratelimit"
	receiverpkg "github.com/drblury/larkflow/internal/runtime/receiver"
	"github.com/drblury/larkflow/internal/runtime/wire"
	wsclientpkg "github.com/drblury/larkflow/internal/runtime/wsclient"
)

// Transport names recorded in event metadata.
const (
	transportWebhook   = "webhook"
	transportWebsocket = "websocket"
)

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to use the configured defaults.
type ServiceDependencies struct {
	Store                     idempotencypkg.Store
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	ForwardFactory            forwardpkg.Factory
	ErrorClassifier           ErrorClassifier
}

// Service wires both ingest transports, the handler registry and the dispatch
// middleware chain.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	registry *Registry

	middlewares []Middleware
	dispatch    DispatchFunc
	dispatchMu  sync.Mutex

	receiver     *receiverpkg.Receiver
	cardReceiver *receiverpkg.Receiver

	socket   *wsclientpkg.Client
	socketMu sync.Mutex

	platform *httpclientpkg.Client
	limiter  *ratelimitpkg.Limiter
	store    idempotencypkg.Store

	forwarder *Forwarder

	metrics   *EventMetrics
	metricsMu sync.Mutex

	status *statusTracker

	handlers   []*HandlerInfo
	handlersMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	errorClassifier ErrorClassifier
	resourceTracker *resourceTracker
}

// NewService constructs a Service for the supplied configuration. Register
// handlers on the returned Service before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating event service",
		loggingpkg.LogFields{
			"forward_system": conf.ForwardSystem,
			"config":         conf,
		})

	s := &Service{
		Conf:            conf,
		Logger:          log,
		registry:        NewRegistry(),
		status:          newStatusTracker(),
		resourceTracker: newResourceTracker(),
	}

	if deps.ErrorClassifier != nil {
		s.errorClassifier = deps.ErrorClassifier
	} else {
		s.errorClassifier = defaultErrorClassifier
	}

	s.store = deps.Store
	if s.store == nil {
		if conf.IdempotencyRedisAddr != "" {
			s.store = idempotencypkg.NewRedisStore(conf.IdempotencyRedisAddr, conf.IdempotencyRedisPassword, conf.IdempotencyRedisDB)
		} else {
			s.store = idempotencypkg.NewMemoryStore(conf.IdempotencyCleanupInterval)
		}
	}

	if conf.RateLimitEnabled {
		s.limiter = ratelimitpkg.New(limiterTuning(conf))
	}
	s.platform = s.newPlatformClient()

	s.receiver = receiverpkg.New(receiverpkg.Options{
		EncryptKey:          conf.EventEncryptKey,
		VerificationToken:   conf.VerificationToken,
		SkipSignatureVerify: conf.SkipSignatureVerify,
		TimestampTolerance:  conf.TimestampTolerance,
		Dispatch:            s.webhookDispatch(),
		Logger:              log,
	})
	s.cardReceiver = receiverpkg.New(receiverpkg.Options{
		EncryptKey:          conf.EventEncryptKey,
		VerificationToken:   conf.VerificationToken,
		IsCallback:          true,
		SkipSignatureVerify: conf.SkipSignatureVerify,
		TimestampTolerance:  conf.TimestampTolerance,
		Dispatch:            s.webhookDispatch(),
		Logger:              log,
	})

	if conf.ForwardSystem != "" {
		factory := deps.ForwardFactory
		if factory == nil {
			factory = forwardpkg.DefaultFactory()
		}
		sink, err := factory.Build(ctx, conf, wmLogger)
		if err != nil {
			panic(err)
		}
		forwarder, err := NewForwarder(sink.Publisher, forwardSource(conf), conf.ForwardTopicPrefix, log)
		if err != nil {
			panic(err)
		}
		s.forwarder = forwarder
	}

	s.dispatchMu.Lock()
	s.rebuildDispatchLocked()
	s.dispatchMu.Unlock()

	s.registerConfiguredMiddlewares(deps)

	return s
}

// Start runs the service until the provided context is cancelled. With app
// credentials configured it opens the persistent connection and blocks on it;
// otherwise it serves only the registered HTTP surfaces.
func (s *Service) Start(ctx context.Context) error {
	s.status.recordStart()
	defer s.status.recordStop()

	s.StartStatusAPIServer()
	s.startHTTPServers()

	if s.Conf.AppID != "" && s.Conf.AppSecret != "" {
		return s.startSocket(ctx)
	}

	<-ctx.Done()
	return nil
}

// StartSocket opens the persistent connection and blocks until ctx is
// cancelled, Stop is called or reconnect retries are exhausted.
func (s *Service) StartSocket(ctx context.Context) error {
	s.status.recordStart()
	defer s.status.recordStop()
	return s.startSocket(ctx)
}

func (s *Service) startSocket(ctx context.Context) error {
	client, err := s.socketClient()
	if err != nil {
		return err
	}
	return client.Start(ctx)
}

// Close stops the socket client, drops the platform client's idle
// connections and releases the forwarding sink.
func (s *Service) Close() error {
	s.socketMu.Lock()
	socket := s.socket
	s.socketMu.Unlock()
	if socket != nil {
		socket.Stop()
	}

	if s.platform != nil {
		s.platform.Close()
	}

	if s.forwarder != nil {
		return s.forwarder.Close()
	}
	return nil
}

// WebhookHandler serves the event subscription endpoint.
func (s *Service) WebhookHandler() http.Handler {
	return s.receiver.Handler()
}

// CardWebhookHandler serves the card callback endpoint. Handler results on
// this path must be mappings.
func (s *Service) CardWebhookHandler() http.Handler {
	return s.cardReceiver.Handler()
}

// Platform returns the outbound client for platform API calls, paced by the
// configured rate limiter.
func (s *Service) Platform() *httpclientpkg.Client {
	return s.platform
}

// Limiter returns the adaptive rate limiter, or nil when disabled.
func (s *Service) Limiter() *ratelimitpkg.Limiter {
	return s.limiter
}

// Store returns the idempotency store consulted before dispatch.
func (s *Service) Store() idempotencypkg.Store {
	return s.store
}

// Status reports the current service status snapshot.
func (s *Service) Status() ServiceStatus {
	return s.status.snapshot(s.getResourceTracker())
}

// Handlers lists the registered handlers with their stats.
func (s *Service) Handlers() []*HandlerInfo {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	out := make([]*HandlerInfo, len(s.handlers))
	copy(out, s.handlers)
	return out
}

// DispatchEvent runs one event context through the middleware chain and the
// registered handler, returning the shaped reply body.
func (s *Service) DispatchEvent(ctx context.Context, ev *envelope.Context) (map[string]any, error) {
	return s.dispatchEvent(ctx, ev)
}

func (s *Service) dispatchEvent(ctx context.Context, ev *envelope.Context) (map[string]any, error) {
	if s.Conf.MetricsEnabled {
		transport := ""
		if ev.Metadata != nil {
			transport = ev.Metadata[metadatapkg.KeyTransport]
		}
		s.getMetrics().RecordReceived(transport)
	}
	s.status.recordEvent(ev.EventType())

	s.dispatchMu.Lock()
	dispatch := s.dispatch
	s.dispatchMu.Unlock()

	result, err := dispatch(ctx, ev)
	if err != nil {
		s.status.recordError(err)
		return result, err
	}

	if s.forwarder != nil {
		s.forwarder.ForwardAsync(ctx, ev)
	}
	return result, nil
}

func (s *Service) webhookDispatch() receiverpkg.Dispatch {
	return func(ctx context.Context, ev *envelope.Context) (map[string]any, error) {
		s.seedMetadata(ev, transportWebhook)
		return s.dispatchEvent(ctx, ev)
	}
}

func (s *Service) socketDispatch() wsclientpkg.Dispatch {
	return func(ctx context.Context, payload []byte, messageType string) (map[string]any, error) {
		var decoded map[string]any
		if err := jsoncodec.Unmarshal(payload, &decoded); err != nil {
			return nil, &UnprocessableEventError{
				eventMessage: string(payload),
				err:          err,
			}
		}

		var ev *envelope.Context
		if messageType == wire.MessageTypeCard {
			ev = envelope.NewCallbackContext(decoded)
		} else {
			ev = envelope.NewContext(decoded)
		}
		s.seedMetadata(ev, transportWebsocket)

		if s.Conf.MetricsEnabled {
			s.getMetrics().RecordSocketFrame(messageType)
		}

		return s.dispatchEvent(ctx, ev)
	}
}

// seedMetadata stamps envelope fields into the event metadata before the
// middleware chain runs.
func (s *Service) seedMetadata(ev *envelope.Context, transport string) {
	if ev.Metadata == nil {
		ev.Metadata = metadatapkg.Metadata{}
	}
	ev.Metadata[metadatapkg.KeyTransport] = transport
	ev.Metadata[metadatapkg.KeyReceivedAt] = time.Now().UTC().Format(time.RFC3339Nano)

	env := ev.Envelope
	if env.EventID != "" {
		ev.Metadata[metadatapkg.KeyEventID] = env.EventID
	}
	if env.EventType != "" {
		ev.Metadata[metadatapkg.KeyEventType] = env.EventType
	}
	if env.Schema != "" {
		ev.Metadata[metadatapkg.KeyEventSchema] = env.Schema
	}
	if env.TenantKey != "" {
		ev.Metadata[metadatapkg.KeyTenantKey] = env.TenantKey
	}
	if env.AppID != "" {
		ev.Metadata[metadatapkg.KeyAppID] = env.AppID
	}
	if ev.Logger == nil {
		ev.Logger = s.Logger
	}
}

func (s *Service) socketClient() (*wsclientpkg.Client, error) {
	s.socketMu.Lock()
	defer s.socketMu.Unlock()

	if s.socket != nil {
		return s.socket, nil
	}

	client, err := wsclientpkg.New(wsclientpkg.Options{
		AppID:        s.Conf.AppID,
		AppSecret:    s.Conf.AppSecret,
		Domain:       s.Conf.Domain,
		Dispatch:     s.socketDispatch(),
		Logger:       s.Logger,
		HTTP:         s.platform,
		Reconnect:    reconnectPolicy(s.Conf),
		PingInterval: s.Conf.WSPingInterval,
		Hooks:        s.socketHooks(),
	})
	if err != nil {
		return nil, err
	}

	s.socket = client
	return client, nil
}

func (s *Service) socketHooks() wsclientpkg.Hooks {
	return wsclientpkg.Hooks{
		OnReconnectWait: func(attempt int, delay time.Duration) {
			if s.Conf.MetricsEnabled {
				s.getMetrics().RecordSocketReconnect()
			}
		},
		OnDisconnect: func(err error) {
			s.status.recordError(err)
		},
	}
}

func (s *Service) newPlatformClient() *httpclientpkg.Client {
	var opts []httpclientpkg.Option
	if s.Conf.HTTPTimeout > 0 {
		opts = append(opts, httpclientpkg.WithTimeout(s.Conf.HTTPTimeout))
	}
	if s.limiter != nil {
		opts = append(opts, httpclientpkg.WithLimiter(s.limiter))
	}

	domain := s.Conf.Domain
	if domain == "" {
		domain = wsclientpkg.DefaultDomain
	}

	client := httpclientpkg.New(domain, opts...)
	if s.Conf.MetricsEnabled && s.limiter != nil {
		client.After = append(client.After, s.limiterMetricsHook())
	}
	return client
}

// limiterMetricsHook exports throttle observations per endpoint.
func (s *Service) limiterMetricsHook() httpclientpkg.AfterHook {
	return func(method, path string, outcome httpclientpkg.Outcome) {
		if outcome.Throttled {
			s.getMetrics().RecordThrottle(ratelimitpkg.Key(method, path))
		}
	}
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			panic(fmt.Sprintf("failed to register middleware %s: %v", name, err))
		}
	}
}

// rebuildDispatchLocked recomposes the dispatch chain. The caller holds
// dispatchMu. Middlewares wrap the registry dispatch in registration order,
// first registered outermost.
func (s *Service) rebuildDispatchLocked() {
	dispatch := DispatchFunc(s.registry.Dispatch)
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		dispatch = s.middlewares[i](dispatch)
	}
	s.dispatch = dispatch
}

func (s *Service) getErrorClassifier() ErrorClassifier {
	if s.errorClassifier == nil {
		return defaultErrorClassifier
	}
	return s.errorClassifier
}

func (s *Service) getResourceTracker() *resourceTracker {
	if s.resourceTracker == nil {
		s.resourceTracker = newResourceTracker()
	}
	return s.resourceTracker
}

func (s *Service) getMetrics() *EventMetrics {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	if s.metrics == nil {
		s.metrics = NewEventMetrics(nil)
	}
	return s.metrics
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(addr string, handler http.Handler) {
			if err := http.ListenAndServe(addr, handler); err != nil {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
			}
		}(addr, mux)
	}
}

func limiterTuning(conf *configpkg.Config) ratelimitpkg.Tuning {
	t := ratelimitpkg.DefaultTuning()
	if conf.RateLimitBaseQPS > 0 {
		t.BaseQPS = conf.RateLimitBaseQPS
	}
	if conf.RateLimitMinQPS > 0 {
		t.MinQPS = conf.RateLimitMinQPS
	}
	if conf.RateLimitMaxQPS > 0 {
		t.MaxQPS = conf.RateLimitMaxQPS
	}
	if conf.RateLimitIncreaseFactor > 0 {
		t.IncreaseFactor = conf.RateLimitIncreaseFactor
	}
	if conf.RateLimitDecreaseFactor > 0 {
		t.DecreaseFactor = conf.RateLimitDecreaseFactor
	}
	if conf.RateLimitCooldown > 0 {
		t.Cooldown = conf.RateLimitCooldown
	}
	if conf.RateLimitMaxWait > 0 {
		t.MaxWait = conf.RateLimitMaxWait
	}
	return t
}

func reconnectPolicy(conf *configpkg.Config) *wsclientpkg.ReconnectPolicy {
	if conf.WSReconnectCount == 0 && conf.WSReconnectInterval == 0 && conf.WSReconnectNonce == 0 {
		return nil
	}

	p := wsclientpkg.NewReconnectPolicy()
	if conf.WSReconnectCount != 0 {
		p.RetryCount = conf.WSReconnectCount
	}
	if conf.WSReconnectInterval > 0 {
		p.Interval = conf.WSReconnectInterval
	}
	if conf.WSReconnectNonce > 0 {
		p.InitialJitter = conf.WSReconnectNonce
	}
	return p
}

func forwardSource(conf *configpkg.Config) string {
	if conf.AppID != "" {
		return "larkflow/" + conf.AppID
	}
	return "larkflow"
}
