/*
Package runtime provides the core event ingestion infrastructure for larkflow.

# Architecture Overview

The runtime package implements the event subscription layer of a chat
platform bot: events arrive over a webhook endpoint or a persistent
connection, are normalized into one envelope model, and are dispatched
through a middleware chain to per-event-type handlers.

# Package Structure

The runtime package is organized into the following components:

## Core Service (service.go)

The Service struct is the central orchestrator that wires together:
  - Webhook receivers for events and card callbacks
  - The persistent connection client
  - Handler registry and dispatch middleware chain
  - Idempotency store and adaptive rate limiter
  - Event forwarding to a configured sink
  - HTTP servers for metrics and the status API

## Handler Registration (registration*.go)

Handler registration files provide typed wrappers for event handlers:
  - registration.go: Raw handlers and base registration logic
  - registration_json.go: Typed JSON event handlers

## Middleware (middleware.go)

The middleware system provides composable dispatch stages:
  - TraceID: Ensures event traceability
  - LogEvents: Debug logging of dispatched events
  - Tracer: OpenTelemetry distributed tracing
  - Metrics: Prometheus metrics collection
  - Idempotency: Drops redelivered events
  - Recoverer: Panic recovery

## Stats & Monitoring (models.go, resources.go)

Extended metrics collection for handler performance:
  - Latency percentiles (p50, p95, p99)
  - Throughput tracking
  - Error categorization
  - Resource usage sampling

## Forwarding (forwarder.go)

Accepted events are mirrored to the configured sink as CloudEvents.

## Status API (statusapi.go)

HTTP API for introspecting service state and handler statistics.

# Sub-packages

  - config/: Service configuration with validation
  - envelope/: Schema detection and the shared event model
  - events/: Typed projections of common platform events
  - encryption/, security/: Payload decryption and request verification
  - receiver/: Webhook decode/verify/dispatch pipeline
  - wsclient/, wire/: Persistent connection client and frame codec
  - httpclient/: Outbound platform calls with throttle classification
  - ratelimit/: Adaptive per-endpoint rate limiter
  - idempotency/: At-most-once event stores (memory, Redis)
  - forward/: Sink factory for event forwarding
  - errors/: Sentinel errors and error types
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Event metadata utilities

# Usage Example

	cfg := &larkflow.Config{
		AppID:             "cli_xxx",
		AppSecret:         "secret",
		VerificationToken: "token",
		MetricsEnabled:    true,
		MetricsPort:       9090,
	}

	svc := larkflow.NewService(cfg, logger, ctx, larkflow.ServiceDependencies{})

	larkflow.RegisterEventHandler(svc, larkflow.EventHandlerRegistration{
		Name:      "message-logger",
		EventType: "im.message.receive_v1",
		Handler:   logMessage,
	})

	svc.Start(ctx)
*/
package runtime
