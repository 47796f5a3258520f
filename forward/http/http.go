// Package http provides an HTTP POST sink for larkflow. Each forwarded event
// becomes a POST to the configured base URL with the topic appended.
package http

import (
	"context"
	nethttp "net/http"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/larkflow/forward"
)

// SinkName is the name used to register this sink.
const SinkName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

func init() {
	Register()
}

// Register adds the sink to the default registry. Blank-importing the
// package does the same through init.
func Register() {
	forward.RegisterWithCapabilities(SinkName, Build, forward.HTTPCapabilities)
}

// Build creates a new HTTP sink.
func Build(ctx context.Context, cfg forward.Config, logger watermill.LoggerAdapter) (forward.Sink, error) {
	publisherURL := cfg.GetHTTPPublisherURL()

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				url := publisherURL + topic
				return http.DefaultMarshalMessageFunc(url, msg)
			},
		},
		logger,
	)
	if err != nil {
		return forward.Sink{}, err
	}

	return forward.Sink{Publisher: publisher}, nil
}

// Capabilities returns the capabilities of this sink.
func Capabilities() forward.Capabilities {
	return forward.HTTPCapabilities
}
