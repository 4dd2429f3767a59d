package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Webhook signature headers.
const (
	HeaderTimestamp = "X-Spotlight-Timestamp"
	HeaderSignature = "X-Spotlight-Signature"
)

// WebhookSigner signs outbound webhook bodies so receivers can check origin
// and freshness. The signature is hex(HMAC-SHA256(secret, timestamp + "." + body)).
type WebhookSigner struct {
	secret []byte
	now    func() time.Time
}

// NewWebhookSigner creates a signer for the shared secret.
func NewWebhookSigner(secret string) *WebhookSigner {
	return &WebhookSigner{secret: []byte(secret), now: time.Now}
}

// Headers returns the timestamp and signature headers for body.
func (w *WebhookSigner) Headers(body []byte) map[string]string {
	return w.HeadersAt(body, w.now().Unix())
}

// HeadersAt is like Headers with an explicit Unix timestamp.
func (w *WebhookSigner) HeadersAt(body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderTimestamp: ts,
		HeaderSignature: sign(w.secret, ts, body),
	}
}

// Verify checks a signature produced by HeadersAt for the same body.
func (w *WebhookSigner) Verify(body []byte, ts, signature string) bool {
	expected := sign(w.secret, ts, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func sign(secret []byte, ts string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
