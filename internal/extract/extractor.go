package extract

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/warranty-intake/internal/metrics"
	"github.com/sells-group/warranty-intake/internal/model"
	"github.com/sells-group/warranty-intake/internal/resilience"
	"github.com/sells-group/warranty-intake/pkg/vapi"
)

// DefaultRequiredFields are the fields whose absence triggers the vendor fallback.
var DefaultRequiredFields = []Field{FieldAddress, FieldIssue, FieldIntent}

// Config tunes the extractor.
type Config struct {
	// FallbackDelay is waited before calling the vendor, giving it time to
	// finish post-call analysis.
	FallbackDelay time.Duration
	// Timeout bounds the vendor request.
	Timeout time.Duration
	// MinIssueLength is the issue length (runes) above which a call with no
	// intent defaults to new-issue.
	MinIssueLength int
	// IntermediateEventTypes are mid-call events that never consult the
	// vendor. Nil selects model.DefaultIntermediateEventTypes.
	IntermediateEventTypes []string
}

// Extractor turns a raw webhook payload into an ExtractedCall, consulting the
// vendor's call-detail API when required fields are missing.
type Extractor struct {
	client  vapi.Client
	breaker *resilience.CircuitBreaker
	cfg     Config
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates an Extractor. A nil client disables the fallback; a nil
// breaker gets a default one.
func New(client vapi.Client, breaker *resilience.CircuitBreaker, cfg Config) *Extractor {
	if cfg.MinIssueLength <= 0 {
		cfg.MinIssueLength = 10
	}
	if cfg.IntermediateEventTypes == nil {
		cfg.IntermediateEventTypes = model.DefaultIntermediateEventTypes
	}
	if breaker == nil {
		breaker = NewVendorBreaker(0, 0)
	}
	return &Extractor{client: client, breaker: breaker, cfg: cfg, sleep: sleepCtx}
}

// NewVendorBreaker returns a breaker that trips only on vendor outages, so a
// 404 for an unknown call does not open it.
func NewVendorBreaker(failures int, reset time.Duration) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "vapi",
		FailureThreshold: failures,
		ResetTimeout:     reset,
		ShouldTrip:       resilience.IsTransient,
		OnStateChange: func(name string, from, to resilience.CircuitState) {
			metrics.RecordCircuitState(name, int(to))
			zap.L().Warn("extract: circuit state changed",
				zap.String("service", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// Extract never fails: missing data yields empty fields and fallback errors
// are logged.
func (e *Extractor) Extract(ctx context.Context, payload map[string]any, required []Field) model.ExtractedCall {
	f := probe(payload)
	callID := f.values[FieldCallID]

	usedFallback := false
	if missing := f.missing(required); len(missing) > 0 {
		if eventType := f.values[FieldEventType]; model.IsEventType(eventType, e.cfg.IntermediateEventTypes) {
			metrics.RecordFallback("skipped")
			zap.L().Debug("extract: mid-call event, not consulting vendor",
				zap.String("call_id", callID),
				zap.String("event_type", eventType),
			)
		} else {
			usedFallback = e.fallback(ctx, callID, missing, &f)
		}
	}

	return e.build(f, usedFallback)
}

// fallback fetches the call from the vendor and merges fields still empty.
// Reports whether the vendor was consulted successfully.
func (e *Extractor) fallback(ctx context.Context, callID string, missing []Field, f *facts) bool {
	log := zap.L().With(zap.String("call_id", callID))

	if callID == "" || e.client == nil {
		metrics.RecordFallback("skipped")
		return false
	}

	log.Debug("extract: required fields missing, consulting vendor",
		zap.Strings("missing", fieldNames(missing)),
		zap.Duration("delay", e.cfg.FallbackDelay),
	)

	if err := e.sleep(ctx, e.cfg.FallbackDelay); err != nil {
		metrics.RecordFallback("canceled")
		log.Warn("extract: fallback canceled before vendor call", zap.Error(err))
		return false
	}

	call, err := resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (map[string]any, error) {
		if e.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
			defer cancel()
		}
		return e.client.GetCall(ctx, callID)
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, resilience.ErrCircuitOpen) {
			outcome = "circuit_open"
		}
		metrics.RecordFallback(outcome)
		log.Warn("extract: vendor fallback failed", zap.Error(err))
		return false
	}

	metrics.RecordFallback("ok")
	*f = f.mergeMissing(probe(call))
	return true
}

func (e *Extractor) build(f facts, usedFallback bool) model.ExtractedCall {
	call := model.ExtractedCall{
		CallID:            f.values[FieldCallID],
		EventType:         f.values[FieldEventType],
		CallerName:        f.values[FieldCallerName],
		Phone:             f.values[FieldPhone],
		CallerIDNumber:    f.values[FieldCallerID],
		Address:           f.values[FieldAddress],
		Issue:             f.values[FieldIssue],
		Summary:           f.values[FieldSummary],
		Transcript:        f.values[FieldTranscript],
		RecordingURL:      f.values[FieldRecordingURL],
		Intent:            model.ParseIntent(f.values[FieldIntent]),
		HasStructuredData: f.has(FieldAddress) || f.has(FieldIntent),
		UsedFallback:      usedFallback,
	}

	if call.Phone == "" {
		call.Phone = call.CallerIDNumber
	}

	if call.Intent == "" {
		call.Intent = DefaultIntent(call.Issue, e.cfg.MinIssueLength)
		call.IntentDefaulted = true
	}

	call.Urgent = call.Intent == model.IntentEmergency || (f.urgent != nil && *f.urgent)
	return call
}

// DefaultIntent guesses an intent for a call that did not state one: a
// substantive issue description is treated as a new issue.
func DefaultIntent(issue string, minLength int) model.Intent {
	if utf8.RuneCountInString(strings.TrimSpace(issue)) > minLength {
		return model.IntentNewIssue
	}
	return model.IntentOther
}

func fieldNames(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
