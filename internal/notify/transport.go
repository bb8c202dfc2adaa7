package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Message is one rendered notification.
type Message struct {
	To       []string `json:"to"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	Scenario string   `json:"scenario"`
	CallID   string   `json:"call_id"`
	Urgent   bool     `json:"urgent"`
}

// Result reports the outcome of a send. Transports never return errors;
// failures are described here.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Transport delivers a Message.
type Transport interface {
	Send(ctx context.Context, msg Message) Result
}

// LogTransport writes notifications to the log instead of delivering them.
type LogTransport struct{}

func (LogTransport) Send(_ context.Context, msg Message) Result {
	zap.L().Info("notify: notification",
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("scenario", msg.Scenario),
		zap.String("call_id", msg.CallID),
		zap.Bool("urgent", msg.Urgent),
		zap.String("body", msg.Body),
	)
	return Result{OK: true, Message: "logged"}
}

// WebhookTransport POSTs the message as JSON to a relay (an n8n flow or
// similar) that fans out to email and SMS.
type WebhookTransport struct {
	url    string
	token  string
	client *http.Client
}

// NewWebhookTransport creates a WebhookTransport. token is sent as a bearer
// token when non-empty.
func NewWebhookTransport(url, token string) *WebhookTransport {
	return &WebhookTransport{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookTransport) Send(ctx context.Context, msg Message) Result {
	if err := w.post(ctx, msg); err != nil {
		return Result{OK: false, Message: err.Error()}
	}
	return Result{OK: true, Message: fmt.Sprintf("delivered to %d recipient(s)", len(msg.To))}
}

func (w *WebhookTransport) post(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return eris.Wrap(err, "notify: marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return eris.Errorf("notify: webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
