// Package io provides a file-append sink for larkflow. Forwarded events are
// written as one JSON document per line, suitable for tailing or replay
// tooling.
package io

import (
	"context"
	"os"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/larkflow/forward"
	"github.com/drblury/larkflow/internal/runtime/jsoncodec"
)

// SinkName is the name used to register this sink.
const SinkName = "io"

// DefaultFilePath is the default file path if none is specified.
const DefaultFilePath = "events.log"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return &Publisher{filePath: filePath, logger: logger}, nil
}

func init() {
	Register()
}

// Register adds the sink to the default registry. Blank-importing the
// package does the same through init.
func Register() {
	forward.RegisterWithCapabilities(SinkName, Build, forward.IOCapabilities)
}

// Build creates a new file-append sink.
func Build(ctx context.Context, cfg forward.Config, logger watermill.LoggerAdapter) (forward.Sink, error) {
	filePath := cfg.GetIOFile()
	if filePath == "" {
		filePath = DefaultFilePath
	}

	pub, err := PublisherFactory(filePath, logger)
	if err != nil {
		return forward.Sink{}, err
	}

	return forward.Sink{Publisher: pub}, nil
}

// Capabilities returns the capabilities of this sink.
func Capabilities() forward.Capabilities {
	return forward.IOCapabilities
}

// storedEvent is the JSON structure for persisted events.
type storedEvent struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata"`
	Payload  []byte            `json:"payload"`
	Topic    string            `json:"topic"`
}

// Publisher appends events to a file.
type Publisher struct {
	filePath string
	logger   watermill.LoggerAdapter
	mu       sync.Mutex
}

// Publish appends events to the file, one JSON line per event.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, msg := range messages {
		se := storedEvent{
			UUID:     msg.UUID,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
			Topic:    topic,
		}

		b, err := jsoncodec.Marshal(se)
		if err != nil {
			return err
		}

		if _, err := f.Write(b); err != nil {
			return err
		}
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return nil
}
