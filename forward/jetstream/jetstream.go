// Package jetstream provides a NATS JetStream sink for larkflow. Events are
// published into a durable stream so slow downstream consumers never drop
// platform events.
package jetstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/larkflow/forward"
)

// SinkName is the name used to register this sink.
const SinkName = "jetstream"

// DefaultStreamName is the stream events land in when none is configured.
const DefaultStreamName = "LARKFLOW"

// DefaultMaxAge bounds how long forwarded events are retained.
const DefaultMaxAge = 7 * 24 * time.Hour

// ConnectFactory allows overriding the NATS connection creation for testing.
var ConnectFactory = nats.Connect

func init() {
	Register()
}

// Register adds the sink to the default registry. Blank-importing the
// package does the same through init.
func Register() {
	forward.RegisterWithCapabilities(SinkName, Build, forward.NATSJetStreamCapabilities)
}

// Build creates a new NATS JetStream sink.
func Build(ctx context.Context, cfg forward.Config, logger watermill.LoggerAdapter) (forward.Sink, error) {
	pub, err := New(Config{URL: cfg.GetNATSURL()}, logger)
	if err != nil {
		return forward.Sink{}, err
	}
	return forward.Sink{Publisher: pub}, nil
}

// Capabilities returns the capabilities of this sink.
func Capabilities() forward.Capabilities {
	return forward.NATSJetStreamCapabilities
}

// Config holds JetStream-specific configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the JetStream stream events are published into.
	// Defaults to "LARKFLOW".
	StreamName string

	// MaxAge is how long events are retained. Defaults to seven days.
	MaxAge time.Duration

	// Replicas is the number of stream replicas (for clustering).
	Replicas int
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// Publisher publishes events into a JetStream stream.
type Publisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	closed   bool
	closedMu sync.Mutex
}

// New creates a new JetStream publisher, connecting and ensuring the stream
// exists.
func New(cfg Config, logger watermill.LoggerAdapter) (*Publisher, error) {
	cfg = cfg.withDefaults()

	nc, err := ConnectFactory(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &Publisher{
		nc:     nc,
		js:     js,
		config: cfg,
		logger: logger,
	}

	if err := p.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return p, nil
}

func (p *Publisher) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      p.config.StreamName,
		Subjects:  []string{p.config.StreamName + ".>"},
		MaxAge:    p.config.MaxAge,
		Replicas:  p.config.Replicas,
		Retention: nats.LimitsPolicy,
	}

	if _, err := p.js.AddStream(streamCfg); err != nil {
		if _, err := p.js.UpdateStream(streamCfg); err != nil {
			if p.logger != nil {
				p.logger.Info("JetStream stream exists", watermill.LogFields{
					"stream": p.config.StreamName,
				})
			}
		}
	}

	return nil
}

// Publish publishes events to the stream subject derived from the topic.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.closedMu.Lock()
	if p.closed {
		p.closedMu.Unlock()
		return fmt.Errorf("publisher is closed")
	}
	p.closedMu.Unlock()

	subject := p.topicToSubject(topic)

	for _, msg := range messages {
		headers := nats.Header{}
		for k, v := range msg.Metadata {
			headers.Set(k, v)
		}

		natsMsg := &nats.Msg{
			Subject: subject,
			Data:    msg.Payload,
			Header:  headers,
		}

		if _, err := p.js.PublishMsg(natsMsg); err != nil {
			return fmt.Errorf("failed to publish to JetStream: %w", err)
		}
	}

	return nil
}

func (p *Publisher) topicToSubject(topic string) string {
	return p.config.StreamName + "." + topic
}

// Close closes the JetStream connection.
func (p *Publisher) Close() error {
	p.closedMu.Lock()
	defer p.closedMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	p.nc.Close()
	return nil
}
