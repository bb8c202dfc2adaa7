// Package webhook exposes the voice vendor's webhook over HTTP.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/warranty-intake/internal/config"
	"github.com/sells-group/warranty-intake/internal/intake"
	"github.com/sells-group/warranty-intake/internal/metrics"
)

const defaultMaxBodyBytes = 2 << 20

// Processor runs one decoded delivery through the intake pipeline.
type Processor interface {
	Process(ctx context.Context, payload map[string]any) (*intake.Outcome, error)
}

// Handler authenticates and decodes webhook deliveries and hands them to a
// Processor. After authentication and decoding it always acknowledges with
// 200 so the vendor does not retry; failures are only logged.
type Handler struct {
	proc         Processor
	secret       []byte
	secretHeader string
	maxBodyBytes int64
	timeout      time.Duration
}

// NewHandler creates a Handler. timeout bounds processing of one delivery
// independently of the caller's connection.
func NewHandler(proc Processor, cfg config.WebhookConfig, timeout time.Duration) *Handler {
	h := &Handler{
		proc:         proc,
		secret:       []byte(cfg.Secret),
		secretHeader: cfg.SecretHeader,
		maxBodyBytes: cfg.MaxBodyBytes,
		timeout:      timeout,
	}
	if h.secretHeader == "" {
		h.secretHeader = "X-Vapi-Secret"
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = defaultMaxBodyBytes
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		metrics.RecordWebhook("unauthorized")
		zap.L().Warn("webhook: rejected delivery with bad secret", zap.String("remote", r.RemoteAddr))
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		metrics.RecordWebhook("bad_request")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable request body"})
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		metrics.RecordWebhook("bad_request")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	ctx := context.WithoutCancel(r.Context())
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	err = h.process(ctx, payload)
	switch {
	case errors.Is(err, intake.ErrMissingCallID):
		metrics.RecordWebhook("bad_request")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "call id is required"})
		return
	case err != nil:
		metrics.RecordWebhook("error")
		zap.L().Error("webhook: processing failed", zap.Error(err))
	default:
		metrics.RecordWebhook("ok")
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) authorized(r *http.Request) bool {
	if len(h.secret) == 0 {
		return false
	}
	got := []byte(r.Header.Get(h.secretHeader))
	return subtle.ConstantTimeCompare(got, h.secret) == 1
}

// process runs the pipeline, converting a panic into an error.
func (h *Handler) process(ctx context.Context, payload map[string]any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			zap.L().Error("webhook: recovered panic", zap.Any("panic", rec), zap.Stack("stack"))
			err = eris.Errorf("webhook: panic: %v", rec)
		}
	}()
	_, err = h.proc.Process(ctx, payload)
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
