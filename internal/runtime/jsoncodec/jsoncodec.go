// Package jsoncodec is the single JSON entry point for larkflow. Event
// payloads are decoded on every webhook request and websocket frame, so the
// codec is backed by sonic rather than encoding/json.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// ConfigStd keeps encoding/json-compatible behavior (sorted map keys,
// HTML escaping) so golden payloads stay byte-stable.
var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// UnmarshalString decodes a JSON document carried inside another one, such
// as the content field of a message event, without re-slicing to bytes.
func UnmarshalString(data string, v any) error {
	return defaultConfig.UnmarshalFromString(data, v)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}
