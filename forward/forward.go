// Package forward defines the core interfaces and types for larkflow event
// sinks. Each sink implementation (kafka, rabbitmq, aws, etc.) lives in its
// own sub-package and registers itself with the sink registry. Sinks only
// publish: accepted platform events flow outward, never back in.
package forward

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Sink wraps the publisher produced by a builder.
type Sink struct {
	Publisher message.Publisher
}

// Builder is the function signature for creating a sink from config.
// Each sink package should provide a Builder function that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Sink, error)

// Config provides the configuration values needed by sinks. The interface
// lets each sink read only the keys it needs without depending on the full
// config package.
type Config interface {
	// GetForwardSystem returns the sink type name.
	GetForwardSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS (core and JetStream)
	GetNATSURL() string

	// HTTP
	GetHTTPPublisherURL() string

	// IO
	GetIOFile() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by sinks that can report their
// capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
