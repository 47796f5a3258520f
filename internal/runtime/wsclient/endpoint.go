// Package wsclient maintains the persistent event connection: it bootstraps
// the socket URL from the platform, dials it, heartbeats, reassembles
// fragmented events, dispatches them, and acknowledges each data frame on the
// same connection. Reconnection follows the server-pushed tuning.
package wsclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	errspkg "github.com/drblury/larkflow/internal/runtime/errors"
	"github.com/drblury/larkflow/internal/runtime/httpclient"
)

const (
	// DefaultDomain hosts the endpoint bootstrap for most tenants.
	DefaultDomain = "https://open.feishu.cn"

	// EndpointPath is the bootstrap route, relative to the domain.
	EndpointPath = "/callback/ws/endpoint"
)

// RemoteConfig is the connection tuning pushed by the server, first in the
// bootstrap response and later refreshed through pong payloads.
type RemoteConfig struct {
	// ReconnectCount bounds reconnect attempts. Negative means unlimited.
	ReconnectCount    int
	ReconnectInterval time.Duration
	ReconnectNonce    time.Duration
	PingInterval      time.Duration
}

// DefaultRemoteConfig returns the tuning used before the server pushes its own.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		ReconnectCount:    -1,
		ReconnectInterval: 2 * time.Minute,
		ReconnectNonce:    30 * time.Second,
		PingInterval:      2 * time.Minute,
	}
}

// Endpoint is one bootstrap result: the socket URL plus the identity baked
// into its query string.
type Endpoint struct {
	URL       string
	DeviceID  string
	ServiceID string
	Config    RemoteConfig
}

// FetchEndpoint asks the platform for a fresh connection endpoint. The
// credentials travel in the body, matching the platform contract.
func FetchEndpoint(ctx context.Context, hc *httpclient.Client, appID, appSecret string) (*Endpoint, error) {
	data, err := hc.DoJSON(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   EndpointPath,
		Header: http.Header{"locale": []string{"zh"}},
		Body:   map[string]any{"AppID": appID, "AppSecret": appSecret},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errspkg.ErrEndpoint, err)
	}
	return parseEndpointResponse(data)
}

func parseEndpointResponse(data map[string]any) (*Endpoint, error) {
	if code, ok := numberValue(data["code"]); !ok || code != 0 {
		msg, _ := data["msg"].(string)
		return nil, fmt.Errorf("%w: code %v: %s", errspkg.ErrEndpoint, data["code"], msg)
	}
	payload, ok := data["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing data", errspkg.ErrEndpoint)
	}
	rawURL, _ := payload["URL"].(string)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: missing URL", errspkg.ErrEndpoint)
	}

	ep := &Endpoint{URL: rawURL, Config: parseRemoteConfig(payload["ClientConfig"])}
	if parsed, err := url.Parse(rawURL); err == nil {
		query := parsed.Query()
		ep.DeviceID = query.Get("device_id")
		ep.ServiceID = query.Get("service_id")
	}
	return ep, nil
}

func parseRemoteConfig(value any) RemoteConfig {
	cfg := DefaultRemoteConfig()
	m, ok := value.(map[string]any)
	if !ok {
		return cfg
	}
	if v, ok := numberValue(m["ReconnectCount"]); ok {
		cfg.ReconnectCount = int(v)
	}
	if v, ok := numberValue(m["ReconnectInterval"]); ok {
		cfg.ReconnectInterval = secondsDuration(v)
	}
	if v, ok := numberValue(m["ReconnectNonce"]); ok {
		cfg.ReconnectNonce = secondsDuration(v)
	}
	if v, ok := numberValue(m["PingInterval"]); ok {
		cfg.PingInterval = secondsDuration(v)
	}
	return cfg
}

func numberValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

func secondsDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
