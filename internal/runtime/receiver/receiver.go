// Package receiver implements the webhook ingestion pipeline: decode the
// (possibly encrypted) body, answer URL-verification handshakes, validate the
// verification token and request signature, then hand the event to the
// dispatch function and shape the handler result into the HTTP response body.
package receiver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/drblury/larkflow/internal/runtime/encryption"
	"github.com/drblury/larkflow/internal/runtime/envelope"
	errspkg "github.com/drblury/larkflow/internal/runtime/errors"
	"github.com/drblury/larkflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/larkflow/internal/runtime/logging"
	"github.com/drblury/larkflow/internal/runtime/security"
)

// Dispatch routes a decoded event to its registered handler and returns the
// handler result to embed in the HTTP response.
type Dispatch func(ctx context.Context, ev *envelope.Context) (map[string]any, error)

// Options configures a Receiver.
type Options struct {
	// EncryptKey decrypts "encrypt"-wrapped payloads and signs requests.
	// Leave empty when the platform app has encryption disabled.
	EncryptKey string

	// VerificationToken is compared against the token carried in event
	// payloads. Empty disables the check.
	VerificationToken string

	// IsCallback marks every event from this receiver as a callback, used
	// for endpoints that serve card interactions.
	IsCallback bool

	// SkipSignatureVerify disables signature and timestamp validation even
	// when EncryptKey is set.
	SkipSignatureVerify bool

	// TimestampTolerance bounds request timestamp skew. Zero selects the
	// default tolerance.
	TimestampTolerance time.Duration

	Dispatch Dispatch
	Logger   loggingpkg.ServiceLogger
}

// Receiver processes webhook deliveries.
type Receiver struct {
	encryptKey string
	token      string
	isCallback bool
	verifier   *security.Verifier
	dispatch   Dispatch
	logger     loggingpkg.ServiceLogger
}

// New builds a Receiver from opts.
func New(opts Options) *Receiver {
	r := &Receiver{
		encryptKey: opts.EncryptKey,
		token:      opts.VerificationToken,
		isCallback: opts.IsCallback,
		dispatch:   opts.Dispatch,
		logger:     opts.Logger,
	}
	if !opts.SkipSignatureVerify {
		r.verifier = security.NewVerifier(opts.EncryptKey)
		if opts.TimestampTolerance > 0 {
			r.verifier.Tolerance = opts.TimestampTolerance
		}
	}
	return r
}

// Handle runs the webhook pipeline for one delivery and returns the JSON
// object to send back. URL-verification handshakes are answered before any
// token or signature validation so endpoint setup works on fresh apps.
func (r *Receiver) Handle(ctx context.Context, headers http.Header, body []byte) (map[string]any, error) {
	payload, err := r.decodeBody(body)
	if err != nil {
		return nil, err
	}

	var ev *envelope.Context
	if r.isCallback {
		ev = envelope.NewCallbackContext(payload)
	} else {
		ev = envelope.NewContext(payload)
	}
	if r.logger != nil {
		ev.Logger = r.logger
	}

	if ev.Envelope.IsURLVerification() {
		return challengeResponse(ev.Envelope.Challenge)
	}

	if err := r.validateToken(ev.Envelope.Token); err != nil {
		return nil, err
	}
	if r.verifier != nil {
		if err := r.verifier.Verify(headers, body); err != nil {
			return nil, err
		}
	}

	result, err := r.dispatch(ctx, ev)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return map[string]any{"msg": "success"}, nil
	}
	return result, nil
}

func (r *Receiver) decodeBody(body []byte) (map[string]any, error) {
	payload, err := decodeJSONObject(body)
	if err != nil {
		return nil, err
	}
	encrypted, ok := payload["encrypt"].(string)
	if !ok || encrypted == "" {
		return payload, nil
	}
	if r.encryptKey == "" {
		return nil, fmt.Errorf("%w: encrypt key is required for encrypted payload", errspkg.ErrDecrypt)
	}
	plaintext, err := encryption.Decrypt(encrypted, r.encryptKey)
	if err != nil {
		return nil, err
	}
	return decodeJSONObject(plaintext)
}

func (r *Receiver) validateToken(incoming string) error {
	if r.token == "" {
		return nil
	}
	if incoming != "" && incoming != r.token {
		return errspkg.ErrToken
	}
	return nil
}

func challengeResponse(challenge string) (map[string]any, error) {
	if challenge == "" {
		return nil, errspkg.ErrChallenge
	}
	return map[string]any{"challenge": challenge}, nil
}

func decodeJSONObject(raw []byte) (map[string]any, error) {
	var payload map[string]any
	if err := jsoncodec.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: body is not a json object: %v", errspkg.ErrDecrypt, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: body is not a json object", errspkg.ErrDecrypt)
	}
	return payload, nil
}
