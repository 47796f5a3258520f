package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/larkflow/forward"
)

func TestRegister(t *testing.T) {
	original := forward.DefaultRegistry
	defer func() { forward.DefaultRegistry = original }()
	forward.DefaultRegistry = forward.NewRegistry()
	Register()

	caps := forward.GetCapabilities(SinkName)
	assert.Equal(t, "nats", caps.Name)
	assert.True(t, caps.SupportsTracing)
	assert.False(t, caps.Durable)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, forward.NATSCapabilities, caps)
}

func TestSinkName(t *testing.T) {
	assert.Equal(t, "nats", SinkName)
}

func TestBuild(t *testing.T) {
	t.Run("creates sink with mocked factory", func(t *testing.T) {
		originalFactory := PublisherFactory
		defer func() { PublisherFactory = originalFactory }()

		mockPub := &mockPublisher{}
		PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Equal(t, "nats://localhost:4222", cfg.URL)
			assert.NotNil(t, cfg.Marshaler)
			return mockPub, nil
		}

		cfg := &mockConfig{natsURL: "nats://localhost:4222"}
		sink, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Equal(t, mockPub, sink.Publisher)
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		originalFactory := PublisherFactory
		defer func() { PublisherFactory = originalFactory }()

		PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("connect refused")
		}

		cfg := &mockConfig{natsURL: "nats://localhost:4222"}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "connect refused")
	})
}

type mockConfig struct {
	natsURL string
}

func (m *mockConfig) GetForwardSystem() string      { return "nats" }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaClientID() string      { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return m.natsURL }
func (m *mockConfig) GetHTTPPublisherURL() string   { return "" }
func (m *mockConfig) GetIOFile() string             { return "" }
func (m *mockConfig) GetAWSRegion() string          { return "" }
func (m *mockConfig) GetAWSAccountID() string       { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string     { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string { return "" }
func (m *mockConfig) GetAWSEndpoint() string        { return "" }

type mockPublisher struct{}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { return nil }
