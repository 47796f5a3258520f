// Package channel provides an in-memory Go channel sink for larkflow.
// This sink is useful for testing and local development: forwarded events can
// be consumed in-process through Subscribe.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/larkflow/forward"
)

// SinkName is the name used to register this sink.
const SinkName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

func init() {
	Register()
}

// Register adds the sink to the default registry. Blank-importing the
// package does the same through init.
func Register() {
	forward.RegisterWithCapabilities(SinkName, Build, forward.ChannelCapabilities)
}

// Build creates a new Go channel sink.
func Build(ctx context.Context, cfg forward.Config, logger watermill.LoggerAdapter) (forward.Sink, error) {
	pubSub := Factory(gochannel.Config{}, logger)
	return forward.Sink{Publisher: pubSub}, nil
}

// Subscribe attaches an in-process consumer to a sink built by this package.
// It only works with the gochannel publisher produced by Build.
func Subscribe(ctx context.Context, sink forward.Sink, topic string) (<-chan *message.Message, bool) {
	pubSub, ok := sink.Publisher.(*gochannel.GoChannel)
	if !ok {
		return nil, false
	}
	ch, err := pubSub.Subscribe(ctx, topic)
	if err != nil {
		return nil, false
	}
	return ch, true
}

// Capabilities returns the capabilities of this sink.
func Capabilities() forward.Capabilities {
	return forward.ChannelCapabilities
}
