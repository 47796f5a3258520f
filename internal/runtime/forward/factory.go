package forward

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	sinks "github.com/drblury/larkflow/forward"
	"github.com/drblury/larkflow/internal/runtime/config"

	// Import all sink packages to register them.
	_ "github.com/drblury/larkflow/forward/aws"
	_ "github.com/drblury/larkflow/forward/channel"
	_ "github.com/drblury/larkflow/forward/http"
	_ "github.com/drblury/larkflow/forward/io"
	_ "github.com/drblury/larkflow/forward/jetstream"
	_ "github.com/drblury/larkflow/forward/kafka"
	_ "github.com/drblury/larkflow/forward/nats"
	_ "github.com/drblury/larkflow/forward/rabbitmq"
)

// Sink wraps the publisher produced by a factory.
type Sink struct {
	Publisher message.Publisher
}

// Factory abstracts how larkflow initialises forwarding sinks.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Sink, error)
}

// DefaultFactory returns the built-in factory that uses the modular sink
// registry.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Sink, error) {
	if conf == nil {
		return Sink{}, fmt.Errorf("config is required")
	}

	s, err := sinks.Build(ctx, conf, logger)
	if err != nil {
		return Sink{}, err
	}

	return Sink{Publisher: s.Publisher}, nil
}
