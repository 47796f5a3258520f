// Package larkflow is an event-ingestion layer for Lark/Feishu-style bot
// backends. It receives platform events over an HTTP webhook or a persistent
// websocket, normalizes both delivery schemas into one envelope, and dispatches
// to typed handlers through a configurable middleware chain for trace IDs,
// logging, tracing, metrics, idempotent delivery, and panic recovery.
//
// The webhook path handles AES-256-CBC payload decryption, signature and
// timestamp verification, and the url_verification challenge handshake. The
// websocket path maintains the connection itself: it fetches the endpoint,
// speaks the binary frame protocol, reassembles fragmented events, answers
// heartbeats, replies inline to events that expect a response, and reconnects
// with backoff using server-pushed tuning.
//
// Service ties it together: fill Config, create a Service, register handlers
// with RegisterEventHandler or the typed RegisterJSONEventHandler, and call
// Start (webhook) or StartSocket (websocket). Service.WebhookHandler plugs
// into any http.ServeMux; outbound platform calls go through Service.Platform,
// which applies the adaptive per-endpoint rate limiter.
//
// # Forward sinks
//
// Accepted events can be forwarded as CloudEvents to downstream systems.
// Larkflow ships 9 sinks out of the box:
//   - channel: In-memory Go channels for testing
//   - kafka: High-throughput streaming
//   - rabbitmq: AMQP-based durable queues
//   - aws: AWS SNS fan-out with LocalStack support
//   - sqs: Direct AWS SQS queues
//   - nats: High-performance messaging
//   - jetstream: NATS JetStream with stream provisioning
//   - http: Request/response delivery
//   - io: File-based persistence
//
// # Middleware
//
// The default middleware chain includes trace ID injection, structured logging,
// OpenTelemetry tracing, Prometheus metrics, idempotent delivery, and panic
// recovery. Custom middleware can be added via ServiceDependencies.Middlewares.
//
// # Dispatch Hooks
//
// DispatchHooksMiddleware provides OnEventStart, OnEventDone, and OnEventError
// callbacks for custom logging, metrics collection, and alerting around handler
// execution.
//
// When you need more control, ServiceDependencies exposes well-scoped hooks:
// bring your own idempotency Store, error classifier, middleware registrations,
// or a sink factory to plug in custom forward targets. The README organises
// these knobs by topic so you can dive into the exact setting you want to
// adjust without rereading the whole guide.
package larkflow
