package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-esim/core"
)

// SignatureScheme checks a signature header against the raw request body.
type SignatureScheme interface {
	Verify(body []byte, signatureHeader string, secret string, now time.Time) error
}

// HMACScheme is a plain HMAC-SHA256 of the body carried in a single header.
type HMACScheme struct {
	Prefix   string
	Encoding string // hex | base64
}

func (s HMACScheme) Verify(body []byte, signatureHeader string, secret string, _ time.Time) error {
	signature := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(signatureHeader), s.Prefix))
	if signature == "" {
		return signatureError("signature header is required")
	}
	expected := computeHMAC(secret, body)

	var decoded []byte
	var err error
	switch strings.ToLower(strings.TrimSpace(s.Encoding)) {
	case "base64":
		decoded, err = base64.StdEncoding.DecodeString(signature)
	default:
		decoded, err = hex.DecodeString(strings.ToLower(signature))
	}
	if err != nil {
		return signatureError("signature is not correctly encoded")
	}
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return signatureError("signature verification failed")
	}
	return nil
}

// TimestampedScheme verifies "t=<unix>,v1=<hex>" headers where the HMAC covers
// "<t>.<body>". Any matching v1 entry is accepted.
type TimestampedScheme struct {
	Tolerance time.Duration
}

const DefaultSignatureTolerance = 5 * time.Minute

func (s TimestampedScheme) Verify(body []byte, signatureHeader string, secret string, now time.Time) error {
	var timestamp string
	var candidates []string
	for _, part := range strings.Split(signatureHeader, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			timestamp = strings.TrimSpace(value)
		case "v1":
			candidates = append(candidates, strings.TrimSpace(value))
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return signatureError("signature header is missing timestamp or v1 signature")
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return signatureError("signature timestamp is not a unix time")
	}

	tolerance := s.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	signedAt := time.Unix(unix, 0).UTC()
	if age := now.Sub(signedAt); age > tolerance || age < -tolerance {
		return signatureError("signature timestamp is outside the tolerance window")
	}

	payload := make([]byte, 0, len(timestamp)+1+len(body))
	payload = append(payload, timestamp...)
	payload = append(payload, '.')
	payload = append(payload, body...)
	expected := computeHMAC(secret, payload)
	for _, candidate := range candidates {
		decoded, err := hex.DecodeString(strings.ToLower(candidate))
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare(decoded, expected) == 1 {
			return nil
		}
	}
	return signatureError("signature verification failed")
}

// SignTimestamped builds a header accepted by TimestampedScheme.
func SignTimestamped(body []byte, secret string, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	payload := append([]byte(timestamp+"."), body...)
	return "t=" + timestamp + ",v1=" + hex.EncodeToString(computeHMAC(secret, payload))
}

// SignHMAC builds a hex header accepted by HMACScheme.
func SignHMAC(body []byte, secret string) string {
	return hex.EncodeToString(computeHMAC(secret, body))
}

func computeHMAC(secret string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}

func signatureError(message string) error {
	return core.NewError(core.ErrorSignatureInvalid, "webhooks: "+message, nil)
}
