package errors

import sterrors "errors"

// Verification and transport failures. Wrap these with fmt.Errorf("...: %w", err)
// so callers can classify with errors.Is.
var (
	ErrDecrypt          = sterrors.New("larkflow: event payload decryption failed")
	ErrSignature        = sterrors.New("larkflow: signature verification failed")
	ErrTimestamp        = sterrors.New("larkflow: request timestamp outside tolerance")
	ErrToken            = sterrors.New("larkflow: verification token mismatch")
	ErrChallenge        = sterrors.New("larkflow: url verification challenge is empty")
	ErrHandlerNotFound  = sterrors.New("larkflow: no handler registered for event type")
	ErrCallbackResult   = sterrors.New("larkflow: callback handler must return a mapping result")
	ErrEndpoint         = sterrors.New("larkflow: connection endpoint request failed")
	ErrFrame            = sterrors.New("larkflow: malformed frame")
	ErrConnClosed       = sterrors.New("larkflow: connection closed")
	ErrRetriesExhausted = sterrors.New("larkflow: reconnect retries exhausted")
	ErrConfiguration    = sterrors.New("larkflow: missing required configuration")
)

// Registration failures.
var (
	ErrServiceRequired      = sterrors.New("larkflow: service is required")
	ErrHandlerRequired      = sterrors.New("larkflow: handler function is required")
	ErrEventTypeRequired    = sterrors.New("larkflow: event type is required")
	ErrHandlerPointerNeeded = sterrors.New("larkflow: typed event model must be a pointer")
	ErrPublisherRequired    = sterrors.New("larkflow: publisher is required")
	ErrTopicRequired        = sterrors.New("larkflow: topic is required")
	ErrLoggerRequired       = sterrors.New("larkflow: logger is required")
)

// ConfigValidationError wraps the error set returned by Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "larkflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
