package forward

// Capabilities describes the publish-side features of a sink backend.
// Use this to introspect what delivery guarantees apply to forwarded events.
type Capabilities struct {
	// SupportsOrdering indicates the sink preserves publish order.
	// When true, events within a partition/stream arrive in order.
	SupportsOrdering bool

	// SupportsTracing indicates the sink propagates tracing headers natively.
	SupportsTracing bool

	// SupportsBatching indicates the sink can batch multiple events.
	SupportsBatching bool

	// SupportsDelay indicates the sink can natively delay event delivery.
	SupportsDelay bool

	// Durable indicates events survive a broker restart once accepted.
	Durable bool

	// MaxMessageSize is the maximum event size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the sink.
	Name string

	// Version is the sink/driver version.
	Version string
}

// SupportsLargeEvents returns true when the sink can carry a payload of the
// given size. Unknown limits are treated as unlimited.
func (c Capabilities) SupportsLargeEvents(size int64) bool {
	return c.MaxMessageSize == 0 || size <= c.MaxMessageSize
}

// Predefined capability sets for the bundled sinks.
var (
	// ChannelCapabilities for the in-memory Go channel sink.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
	}

	// IOCapabilities for the file-append sink.
	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
		Durable:          true,
	}

	// HTTPCapabilities for the HTTP POST sink.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}

	// KafkaCapabilities for the Apache Kafka sink.
	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsBatching: true,
		Durable:          true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// NATSCapabilities for the NATS Core sink.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576, // Default 1MB
	}

	// NATSJetStreamCapabilities for the NATS JetStream sink.
	NATSJetStreamCapabilities = Capabilities{
		Name:             "jetstream",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsBatching: true,
		SupportsDelay:    true,
		Durable:          true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// RabbitMQCapabilities for the RabbitMQ/AMQP sink.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsDelay:    true,
		Durable:          true,
	}

	// AWSCapabilities for the AWS SNS sink.
	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsBatching: true,
		SupportsDelay:    true,
		Durable:          true,
		MaxMessageSize:   262144, // 256KB
	}

	// SQSCapabilities for the AWS SQS direct-queue sink.
	SQSCapabilities = Capabilities{
		Name:             "sqs",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsBatching: true,
		SupportsDelay:    true,
		Durable:          true,
		MaxMessageSize:   262144, // 256KB
	}
)

// GetCapabilities returns the capabilities for a sink by name.
// Uses the registry to look up capabilities registered by each sink package.
// Returns a zero Capabilities struct if the sink is unknown.
func GetCapabilities(sinkName string) Capabilities {
	return DefaultRegistry.GetCapabilities(sinkName)
}
