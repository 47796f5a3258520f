package larkflow

import (
	newforward "github.com/drblury/larkflow/forward"
	runtimepkg "github.com/drblury/larkflow/internal/runtime"
	ce "github.com/drblury/larkflow/internal/runtime/cloudevents"
	configpkg "github.com/drblury/larkflow/internal/runtime/config"
	encryptionpkg "github.com/drblury/larkflow/internal/runtime/encryption"
	envelopepkg "github.com/drblury/larkflow/internal/runtime/envelope"
	errspkg "github.com/drblury/larkflow/internal/runtime/errors"
	eventspkg "github.com/drblury/larkflow/internal/runtime/events"
	httpclientpkg "github.com/drblury/larkflow/internal/runtime/httpclient"
	idempotencypkg "github.com/drblury/larkflow/internal/runtime/idempotency"
	idspkg "github.com/drblury/larkflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/larkflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/larkflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/larkflow/internal/runtime/metadata"
	ratelimitpkg "github.com/drblury/larkflow/internal/runtime/ratelimit"
	securitypkg "github.com/drblury/larkflow/internal/runtime/security"
	wirepkg "github.com/drblury/larkflow/internal/runtime/wire"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	ServiceStatus       = runtimepkg.ServiceStatus

	EventHandlerRegistration      = runtimepkg.EventHandlerRegistration
	HandlerFunc                   = runtimepkg.HandlerFunc
	DispatchFunc                  = runtimepkg.DispatchFunc
	JSONEventRegistration[T any]  = runtimepkg.JSONEventRegistration[T]
	JSONEventContext[T any]       = runtimepkg.JSONEventContext[T]
	JSONEventHandler[T any]       = runtimepkg.JSONEventHandler[T]

	Middleware             = runtimepkg.Middleware
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	UnprocessableEventError = runtimepkg.UnprocessableEventError

	HandlerInfo           = runtimepkg.HandlerInfo
	HandlerStats          = runtimepkg.HandlerStats
	ConfigValidationError = errspkg.ConfigValidationError

	// Dispatch lifecycle hooks
	DispatchInfo  = runtimepkg.DispatchInfo
	DispatchHooks = runtimepkg.DispatchHooks

	// Error classification
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	// Envelope types shared by the webhook and websocket transports
	Envelope     = envelopepkg.Envelope
	EventContext = envelopepkg.Context

	// Typed event models
	MessageReceive = eventspkg.MessageReceive
	BotMenu        = eventspkg.BotMenu
	CardAction     = eventspkg.CardAction
	URLPreview     = eventspkg.URLPreview
	BitableChange  = eventspkg.BitableChange
	Customized     = eventspkg.Customized
	Mention        = eventspkg.Mention
	MessageContent = eventspkg.Content

	// CloudEvents types
	Event = ce.Event

	// Request signature verifier
	Verifier = securitypkg.Verifier

	// Outbound platform client
	PlatformClient  = httpclientpkg.Client
	PlatformRequest = httpclientpkg.Request
	PlatformOutcome = httpclientpkg.Outcome
	HTTPError       = httpclientpkg.HTTPError

	// Idempotency stores
	IdempotencyStore = idempotencypkg.Store
	MemoryStore      = idempotencypkg.MemoryStore
	RedisStore       = idempotencypkg.RedisStore

	// Adaptive rate limiter
	Limiter       = ratelimitpkg.Limiter
	LimiterTuning = ratelimitpkg.Tuning

	// Binary frame codec used by the websocket transport
	Frame       = wirepkg.Frame
	FrameHeader = wirepkg.Header

	// Modular forward sink types (new package structure)
	SinkBuilder      = newforward.Builder
	SinkConfig       = newforward.Config
	SinkRegistry     = newforward.Registry
	Sink             = newforward.Sink
	SinkCapabilities = newforward.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	ValidateConfig = configpkg.ValidateConfig

	RegisterEventHandler   = runtimepkg.RegisterEventHandler
	RegisterDefaultHandler = runtimepkg.RegisterDefaultHandler

	DefaultMiddlewares    = runtimepkg.DefaultMiddlewares
	TraceIDMiddleware     = runtimepkg.TraceIDMiddleware
	LogEventsMiddleware   = runtimepkg.LogEventsMiddleware
	TracerMiddleware      = runtimepkg.TracerMiddleware
	MetricsMiddleware     = runtimepkg.MetricsMiddleware
	IdempotencyMiddleware = runtimepkg.IdempotencyMiddleware
	RecovererMiddleware   = runtimepkg.RecovererMiddleware

	// Dispatch lifecycle hooks
	DispatchHooksMiddleware = runtimepkg.DispatchHooksMiddleware
	LoggingHooks            = runtimepkg.LoggingHooks
	MetricsHooks            = runtimepkg.MetricsHooks
	AlertingHooks           = runtimepkg.AlertingHooks

	// Envelope helpers
	ParseEnvelope      = envelopepkg.Parse
	NewEventContext    = envelopepkg.NewContext
	NewCallbackContext = envelopepkg.NewCallbackContext
	IdempotencyKey     = envelopepkg.IdempotencyKey

	// Typed event constructors and content helpers
	NewMessageReceive = eventspkg.NewMessageReceive
	NewBotMenu        = eventspkg.NewBotMenu
	NewCardAction     = eventspkg.NewCardAction
	NewURLPreview     = eventspkg.NewURLPreview
	NewBitableChange  = eventspkg.NewBitableChange
	NewCustomized     = eventspkg.NewCustomized
	ParseContent      = eventspkg.ParseContent
	ContentText       = eventspkg.Text

	// Payload crypto and request verification
	Encrypt          = encryptionpkg.Encrypt
	Decrypt          = encryptionpkg.Decrypt
	ComputeSignature = securitypkg.ComputeSignature
	NewVerifier      = securitypkg.NewVerifier

	// Idempotency store constructors
	NewMemoryStore = idempotencypkg.NewMemoryStore
	NewRedisStore  = idempotencypkg.NewRedisStore

	// Rate limiter constructors
	NewLimiter           = ratelimitpkg.New
	DefaultLimiterTuning = ratelimitpkg.DefaultTuning
	LimiterKey           = ratelimitpkg.Key

	// CloudEvents constructors and helpers
	NewCloudEvent       = ce.New
	NewCloudEventWithID = ce.NewWithID
	NewEventMessage     = runtimepkg.NewEventMessage

	// CloudEvents extension helpers
	GetTraceID         = ce.GetTraceID
	SetTraceID         = ce.SetTraceID
	GetParentID        = ce.GetParentID
	SetParentID        = ce.SetParentID
	GetCorrelationID   = ce.GetCorrelationID
	SetCorrelationID   = ce.SetCorrelationID
	GetTransport       = ce.GetTransport
	SetTransport       = ce.SetTransport
	GetEventSchema     = ce.GetSchema
	SetEventSchema     = ce.SetSchema
	GetEventAppID      = ce.GetAppID
	SetEventAppID      = ce.SetAppID
	CopyTracingContext = ce.CopyTracingContext

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrDecrypt          = errspkg.ErrDecrypt
	ErrSignature        = errspkg.ErrSignature
	ErrTimestamp        = errspkg.ErrTimestamp
	ErrToken            = errspkg.ErrToken
	ErrChallenge        = errspkg.ErrChallenge
	ErrHandlerNotFound  = errspkg.ErrHandlerNotFound
	ErrCallbackResult   = errspkg.ErrCallbackResult
	ErrEndpoint         = errspkg.ErrEndpoint
	ErrFrame            = errspkg.ErrFrame
	ErrConnClosed       = errspkg.ErrConnClosed
	ErrRetriesExhausted = errspkg.ErrRetriesExhausted
	ErrConfiguration    = errspkg.ErrConfiguration

	ErrServiceRequired      = errspkg.ErrServiceRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrEventTypeRequired    = errspkg.ErrEventTypeRequired
	ErrHandlerPointerNeeded = errspkg.ErrHandlerPointerNeeded
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID

	// Modular sink registry (new package structure)
	// Use RegisterSink and BuildSink to work with the modular forward packages.
	// Import individual sinks via: _ "github.com/drblury/larkflow/forward/kafka"
	DefaultSinkRegistry = newforward.DefaultRegistry
	RegisterSink        = newforward.Register
	BuildSink           = newforward.Build
	GetSinkCapabilities = newforward.GetCapabilities
)

// Metadata keys - use these constants for standard metadata fields.
const (
	MetadataKeyEventID        = metadatapkg.KeyEventID
	MetadataKeyEventType      = metadatapkg.KeyEventType
	MetadataKeyEventSchema    = metadatapkg.KeyEventSchema
	MetadataKeyTenantKey      = metadatapkg.KeyTenantKey
	MetadataKeyAppID          = metadatapkg.KeyAppID
	MetadataKeyTransport      = metadatapkg.KeyTransport
	MetadataKeyReceivedAt     = metadatapkg.KeyReceivedAt
	MetadataKeyIdempotencyKey = metadatapkg.KeyIdempotencyKey
	MetadataKeyTraceID        = metadatapkg.KeyTraceID
	MetadataKeySpanID         = metadatapkg.KeySpanID
)

// Well-known event types.
const (
	EventTypeURLVerification = envelopepkg.EventTypeURLVerification

	EventTypeMessageReceive       = eventspkg.TypeMessageReceive
	EventTypeBotMenu              = eventspkg.TypeBotMenu
	EventTypeCardAction           = eventspkg.TypeCardAction
	EventTypeURLPreview           = eventspkg.TypeURLPreview
	EventTypeBitableRecordChanged = eventspkg.TypeBitableRecordChanged
	EventTypeBitableFieldChanged  = eventspkg.TypeBitableFieldChanged
)

// CloudEvents extension keys for larkflow delivery semantics.
const (
	// ExtTraceID is the distributed trace ID propagated from event metadata.
	ExtTraceID = ce.ExtTraceID

	// ExtParentID is the parent span ID for trace correlation.
	ExtParentID = ce.ExtParentID

	// ExtCorrelationID is a correlation identifier for request tracing.
	ExtCorrelationID = ce.ExtCorrelationID

	// ExtTransport records which transport delivered the event.
	ExtTransport = ce.ExtTransport

	// ExtSchema records the envelope schema version ("p1" or "p2").
	ExtSchema = ce.ExtSchema

	// ExtAppID records the application the event was delivered to.
	ExtAppID = ce.ExtAppID
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryTransport  = runtimepkg.ErrorCategoryTransport
	ErrorCategoryDownstream = runtimepkg.ErrorCategoryDownstream
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)

// Defaults shared with the internal runtime.
const (
	// DefaultIdempotencyTTL is how long processed event keys are retained.
	DefaultIdempotencyTTL = idempotencypkg.DefaultTTL

	// DefaultSignatureTolerance is the allowed clock skew for webhook timestamps.
	DefaultSignatureTolerance = securitypkg.DefaultTolerance
)

func RegisterJSONEventHandler[T any](svc *Service, cfg JSONEventRegistration[T]) error {
	return runtimepkg.RegisterJSONEventHandler(svc, cfg)
}

func BuildJSONEventHandler[T any](handler JSONEventHandler[T], logger ServiceLogger) (HandlerFunc, error) {
	return runtimepkg.BuildJSONEventHandler(handler, logger)
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
