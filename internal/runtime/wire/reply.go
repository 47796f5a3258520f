package wire

import (
	"encoding/base64"

	"github.com/drblury/larkflow/internal/runtime/jsoncodec"
)

// Reply codes acknowledged by the platform.
const (
	ReplyCodeSuccess = 200
	ReplyCodeError   = 500
)

// ReplyPayload builds the JSON acknowledgement body sent back on the same
// frame. A non-nil result is JSON-encoded and carried base64-encoded under
// "data" so the handler output survives the transport untouched.
func ReplyPayload(code int, result map[string]any) ([]byte, error) {
	body := map[string]any{"code": code}
	if result != nil {
		data, err := jsoncodec.Marshal(result)
		if err != nil {
			return nil, err
		}
		body["data"] = base64.StdEncoding.EncodeToString(data)
	}
	return jsoncodec.Marshal(body)
}

// SuccessReply acknowledges a frame, attaching the handler result when present.
func SuccessReply(result map[string]any) ([]byte, error) {
	return ReplyPayload(ReplyCodeSuccess, result)
}

// ErrorReply acknowledges a frame whose handler failed.
func ErrorReply() ([]byte, error) {
	return ReplyPayload(ReplyCodeError, nil)
}
