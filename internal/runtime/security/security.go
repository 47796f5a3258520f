// Package security verifies webhook request authenticity: a freshness check
// on the request timestamp and a SHA-256 signature over the raw body.
package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	errspkg "github.com/drblury/larkflow/internal/runtime/errors"
)

// Signature headers sent by the platform. Lookup is case-insensitive.
const (
	HeaderTimestamp = "X-Lark-Request-Timestamp"
	HeaderNonce     = "X-Lark-Request-Nonce"
	HeaderSignature = "X-Lark-Signature"
)

// DefaultTolerance is the allowed clock skew between the request timestamp
// and local wall-clock time.
const DefaultTolerance = 300 * time.Second

// millisecondThreshold splits second- from millisecond-resolution
// timestamps: anything above it is treated as milliseconds.
const millisecondThreshold = 1e12

// ComputeSignature returns the hex SHA-256 of timestamp, nonce and key
// concatenated as text with the raw body bytes appended.
func ComputeSignature(timestamp, nonce, encryptKey string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(timestamp))
	h.Write([]byte(nonce))
	h.Write([]byte(encryptKey))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verifier checks request signatures against a shared encrypt key. The zero
// tolerance and clock default to DefaultTolerance and time.Now.
type Verifier struct {
	EncryptKey string
	Tolerance  time.Duration
	Now        func() time.Time
}

// NewVerifier builds a Verifier with the default tolerance.
func NewVerifier(encryptKey string) *Verifier {
	return &Verifier{EncryptKey: encryptKey, Tolerance: DefaultTolerance}
}

// Verify checks the three signature headers against the raw request body.
// A Verifier without an encrypt key accepts everything, matching platform
// apps that never enabled payload encryption.
func (v *Verifier) Verify(headers http.Header, body []byte) error {
	if v.EncryptKey == "" {
		return nil
	}
	timestamp := headers.Get(HeaderTimestamp)
	nonce := headers.Get(HeaderNonce)
	signature := headers.Get(HeaderSignature)
	return v.VerifyValues(timestamp, nonce, signature, body)
}

// VerifyValues checks already-extracted header values against the raw body.
func (v *Verifier) VerifyValues(timestamp, nonce, signature string, body []byte) error {
	if timestamp == "" || nonce == "" || signature == "" {
		return fmt.Errorf("%w: missing signature headers", errspkg.ErrSignature)
	}
	if err := v.VerifyTimestamp(timestamp); err != nil {
		return err
	}

	expected := ComputeSignature(timestamp, nonce, v.EncryptKey, body)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return errspkg.ErrSignature
	}
	return nil
}

// VerifyTimestamp checks that the request timestamp is within tolerance of
// the local clock. Values above 10^12 are treated as milliseconds.
func (v *Verifier) VerifyTimestamp(timestamp string) error {
	if timestamp == "" {
		return fmt.Errorf("%w: missing timestamp header", errspkg.ErrTimestamp)
	}
	value, err := strconv.ParseFloat(timestamp, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp header %q", errspkg.ErrTimestamp, timestamp)
	}
	if value > millisecondThreshold {
		value /= 1000
	}

	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}

	skew := math.Abs(float64(now().UnixMilli())/1000 - value)
	if skew > tolerance.Seconds() {
		return errspkg.ErrTimestamp
	}
	return nil
}
