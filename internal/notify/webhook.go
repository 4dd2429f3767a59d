package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alanyoungcy/spotlight/internal/crypto"
)

// WebhookSender posts JSON notifications to an arbitrary endpoint, signed
// with the shared secret so the receiver can authenticate them.
type WebhookSender struct {
	url    string
	signer *crypto.WebhookSigner
	client *http.Client
}

// NewWebhookSender creates a WebhookSender. An empty secret sends unsigned.
func NewWebhookSender(url, secret string) *WebhookSender {
	w := &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	if secret != "" {
		w.signer = crypto.NewWebhookSigner(secret)
	}
	return w
}

type webhookPayload struct {
	Event   string            `json:"event"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	SentAt  time.Time         `json:"sent_at"`
}

func (w *WebhookSender) Send(ctx context.Context, msg Message) error {
	payload := webhookPayload{
		Event:   msg.Event,
		Title:   msg.Title,
		Message: msg.Body,
		SentAt:  time.Now().UTC(),
	}
	if len(msg.Fields) > 0 {
		payload.Fields = make(map[string]string, len(msg.Fields))
		for _, f := range msg.Fields {
			payload.Fields[f.Name] = f.Value
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	header := http.Header{}
	if w.signer != nil {
		for k, v := range w.signer.Headers(body) {
			header.Set(k, v)
		}
	}
	if err := postJSON(ctx, w.client, w.url, body, header); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

func (w *WebhookSender) Name() string {
	return "webhook"
}
