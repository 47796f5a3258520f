package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
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
	assert.Equal(t, "channel", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.False(t, caps.Durable)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, forward.ChannelCapabilities, caps)
	assert.Equal(t, "channel", caps.Name)
}

func TestSinkName(t *testing.T) {
	assert.Equal(t, "channel", SinkName)
}

func TestBuild(t *testing.T) {
	cfg := &mockConfig{}
	sink, err := Build(context.Background(), cfg, watermill.NopLogger{})

	require.NoError(t, err)
	assert.NotNil(t, sink.Publisher)
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink, err := Build(ctx, &mockConfig{}, watermill.NopLogger{})
	require.NoError(t, err)
	defer sink.Publisher.Close()

	events, ok := Subscribe(ctx, sink, "im.message.receive_v1")
	require.True(t, ok)

	sent := message.NewMessage("evt-1", []byte(`{"hello":"world"}`))
	require.NoError(t, sink.Publisher.Publish("im.message.receive_v1", sent))

	select {
	case got := <-events:
		assert.Equal(t, "evt-1", got.UUID)
		assert.Equal(t, sent.Payload, got.Payload)
		got.Ack()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded event")
	}
}

func TestSubscribe_WrongPublisherType(t *testing.T) {
	sink := forward.Sink{Publisher: &stubPublisher{}}
	_, ok := Subscribe(context.Background(), sink, "topic")
	assert.False(t, ok)
}

type mockConfig struct{}

func (m *mockConfig) GetForwardSystem() string      { return "channel" }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaClientID() string      { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetHTTPPublisherURL() string   { return "" }
func (m *mockConfig) GetIOFile() string             { return "" }
func (m *mockConfig) GetAWSRegion() string          { return "" }
func (m *mockConfig) GetAWSAccountID() string       { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string     { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string { return "" }
func (m *mockConfig) GetAWSEndpoint() string        { return "" }

type stubPublisher struct{}

func (s *stubPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (s *stubPublisher) Close() error                                             { return nil }
