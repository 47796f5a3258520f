package receiver

import (
	"io"
	"net/http"

	"github.com/drblury/larkflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/larkflow/internal/runtime/logging"
)

// Handler adapts the receiver into an http.Handler. Pipeline failures map to
// HTTP 500 with the error message under "msg" so the platform retries the
// delivery.
func (r *Receiver) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(req.Body)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"msg": "failed to read request body"})
			return
		}

		result, err := r.Handle(req.Context(), req.Header, body)
		if err != nil {
			if r.logger != nil {
				r.logger.Error("Webhook delivery failed", err, loggingpkg.LogFields{"path": req.URL.Path})
			}
			writeJSON(w, http.StatusInternalServerError, map[string]any{"msg": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	encoded, err := jsoncodec.Marshal(body)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(encoded)
}
