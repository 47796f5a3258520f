// Package kafka provides a Kafka sink for larkflow.
package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/larkflow/forward"
)

// SinkName is the name used to register this sink.
const SinkName = "kafka"

// DefaultClientID identifies the SDK on the broker when no client id is
// configured.
const DefaultClientID = "larkflow"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

func init() {
	Register()
}

// Register adds the sink to the default registry. Blank-importing the
// package does the same through init.
func Register() {
	forward.RegisterWithCapabilities(SinkName, Build, forward.KafkaCapabilities)
}

// Build creates a new Kafka sink.
func Build(ctx context.Context, cfg forward.Config, logger watermill.LoggerAdapter) (forward.Sink, error) {
	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               cfg.GetKafkaBrokers(),
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaConfig(cfg.GetKafkaClientID()),
		},
		logger,
	)
	if err != nil {
		return forward.Sink{}, err
	}

	return forward.Sink{Publisher: publisher}, nil
}

func saramaConfig(clientID string) *sarama.Config {
	if clientID == "" {
		clientID = DefaultClientID
	}
	c := kafka.DefaultSaramaSyncPublisherConfig()
	c.ClientID = clientID
	return c
}

// Capabilities returns the capabilities of this sink.
func Capabilities() forward.Capabilities {
	return forward.KafkaCapabilities
}
