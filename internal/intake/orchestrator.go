// Package intake runs the voice-call intake pipeline: extract call facts,
// match the caller to a homeowner, record the call, auto-create a claim when
// warranted, and notify staff once per call.
package intake

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/warranty-intake/internal/config"
	"github.com/sells-group/warranty-intake/internal/events"
	"github.com/sells-group/warranty-intake/internal/extract"
	"github.com/sells-group/warranty-intake/internal/homeowner"
	"github.com/sells-group/warranty-intake/internal/lock"
	"github.com/sells-group/warranty-intake/internal/metrics"
	"github.com/sells-group/warranty-intake/internal/model"
	"github.com/sells-group/warranty-intake/internal/notify"
	"github.com/sells-group/warranty-intake/internal/store"
)

// ErrMissingCallID is returned when a payload carries no call id. It is the
// only error Process returns.
var ErrMissingCallID = eris.New("intake: payload has no call id")

// EventEndOfCallReport is the vendor event type sent once a call has ended
// and been analyzed.
const EventEndOfCallReport = "end-of-call-report"

// DefaultAutoClaimIntents are the intents that open a claim automatically.
var DefaultAutoClaimIntents = []model.Intent{model.IntentNewIssue, model.IntentEmergency}

// Extractor pulls call facts out of a webhook payload.
type Extractor interface {
	Extract(ctx context.Context, payload map[string]any, required []extract.Field) model.ExtractedCall
}

// Notifier delivers the staff notification for a finalized call.
type Notifier interface {
	Notify(ctx context.Context, scenario model.Scenario, facts notify.Facts) notify.Result
}

// Config tunes the orchestrator.
type Config struct {
	MinSimilarity     float64
	DuplicateLookback time.Duration
	RequiredFields    []extract.Field
	AutoClaimIntents  []model.Intent
	FinalEventTypes   []string
	// IntermediateEventTypes never finalize a call. Nil selects
	// model.DefaultIntermediateEventTypes.
	IntermediateEventTypes []string
	ClaimLockTTL           time.Duration
}

// ConfigFromSettings converts loaded intake settings into a Config.
func ConfigFromSettings(s config.IntakeConfig) (Config, error) {
	cfg := Config{
		MinSimilarity:          s.MinSimilarity,
		DuplicateLookback:      s.DuplicateLookback,
		FinalEventTypes:        s.FinalEventTypes,
		ClaimLockTTL:           s.ClaimLockTTL,
		IntermediateEventTypes: s.IntermediateEventTypes,
	}

	if len(s.RequiredFields) > 0 {
		fields, err := extract.ParseFields(s.RequiredFields)
		if err != nil {
			return Config{}, eris.Wrap(err, "intake: required_fields")
		}
		cfg.RequiredFields = fields
	}

	for _, raw := range s.AutoClaimIntents {
		intent := model.ParseIntent(raw)
		if intent == "" {
			continue
		}
		if intent == model.IntentOther && !strings.EqualFold(strings.TrimSpace(raw), string(model.IntentOther)) {
			return Config{}, eris.Errorf("intake: unknown auto-claim intent %q", raw)
		}
		cfg.AutoClaimIntents = append(cfg.AutoClaimIntents, intent)
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = homeowner.DefaultMinSimilarity
	}
	if c.DuplicateLookback <= 0 {
		c.DuplicateLookback = DefaultDuplicateLookback
	}
	if c.RequiredFields == nil {
		c.RequiredFields = extract.DefaultRequiredFields
	}
	if len(c.AutoClaimIntents) == 0 {
		c.AutoClaimIntents = DefaultAutoClaimIntents
	}
	if len(c.FinalEventTypes) == 0 {
		c.FinalEventTypes = []string{EventEndOfCallReport}
	}
	if c.IntermediateEventTypes == nil {
		c.IntermediateEventTypes = model.DefaultIntermediateEventTypes
	}
	if c.ClaimLockTTL <= 0 {
		c.ClaimLockTTL = 10 * time.Second
	}
}

// Outcome describes what Process did with one delivery.
type Outcome struct {
	Call   model.ExtractedCall `json:"call"`
	Record *model.CallRecord   `json:"record,omitempty"`
	Match  *homeowner.Match    `json:"match,omitempty"`

	// Claim is the claim tied to this call, whether created now or by an
	// earlier delivery. ClaimCreated is true only for the former.
	Claim               *model.Claim `json:"claim,omitempty"`
	ClaimCreated        bool         `json:"claim_created"`
	DuplicateSuppressed bool         `json:"duplicate_suppressed"`

	Final    bool           `json:"final"`
	Scenario model.Scenario `json:"scenario,omitempty"`
	// Notified is true when this delivery made the notification attempt.
	Notified     bool           `json:"notified"`
	Notification *notify.Result `json:"notification,omitempty"`
}

// Orchestrator sequences one webhook delivery through the pipeline.
type Orchestrator struct {
	store     store.Store
	extractor Extractor
	resolver  *homeowner.Resolver
	guard     *Guard
	notifier  Notifier
	locker    lock.Locker
	events    events.Publisher
	cfg       Config
	now       func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLocker serializes claim numbering through l.
func WithLocker(l lock.Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

// WithPublisher emits an event for each finalized delivery.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
		o.guard.now = now
	}
}

// New creates an Orchestrator. candidates supplies the homeowners to match
// against; pass the store itself or a homeowner.CachedSource over it.
func New(st store.Store, ex Extractor, candidates homeowner.Source, n Notifier, cfg Config, opts ...Option) *Orchestrator {
	cfg.setDefaults()
	o := &Orchestrator{
		store:     st,
		extractor: ex,
		resolver:  homeowner.NewResolver(candidates, cfg.MinSimilarity),
		guard:     NewGuard(st),
		notifier:  n,
		locker:    lock.Nop{},
		events:    events.Nop{},
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs one delivery. Only a payload with no call id is an error;
// every later failure is logged, counted, and absorbed.
func (o *Orchestrator) Process(ctx context.Context, payload map[string]any) (*Outcome, error) {
	start := o.now()

	call := o.extractor.Extract(ctx, payload, o.cfg.RequiredFields)
	if call.CallID == "" {
		return nil, ErrMissingCallID
	}

	log := zap.L().With(zap.String("call_id", call.CallID), zap.String("event_type", call.EventType))
	out := &Outcome{Call: call}

	o.resolve(ctx, out, log)
	o.record(ctx, out, log)
	o.recallMatch(ctx, out, log)
	o.claim(ctx, out, log)

	out.Final = o.isFinal(call)
	if !out.Final {
		metrics.RecordCall("pending", false, o.now().Sub(start).Seconds())
		log.Debug("intake: non-final delivery recorded")
		return out, nil
	}

	out.Scenario = scenarioFor(out)
	o.notify(ctx, out, log)
	o.publish(ctx, out, log)

	metrics.RecordCall(string(out.Scenario), true, o.now().Sub(start).Seconds())
	log.Info("intake: call processed",
		zap.String("scenario", string(out.Scenario)),
		zap.Bool("claim_created", out.ClaimCreated),
		zap.Bool("notified", out.Notified),
	)
	return out, nil
}

func (o *Orchestrator) resolve(ctx context.Context, out *Outcome, log *zap.Logger) {
	if strings.TrimSpace(out.Call.Address) == "" {
		return
	}
	m, err := o.resolver.Match(ctx, out.Call.Address)
	if err != nil {
		metrics.RecordStepFailure("resolve")
		log.Warn("intake: homeowner candidates unavailable, treating as no match", zap.Error(err))
		return
	}
	if m != nil {
		metrics.MatchSimilarity.Observe(m.Similarity)
		log.Debug("intake: homeowner matched",
			zap.String("homeowner_id", m.Homeowner.ID),
			zap.Float64("similarity", m.Similarity),
		)
	}
	out.Match = m
}

func (o *Orchestrator) record(ctx context.Context, out *Outcome, log *zap.Logger) {
	var h *model.Homeowner
	var score float64
	if out.Match != nil {
		h = &out.Match.Homeowner
		score = out.Match.Similarity
	}
	rec, err := o.store.UpsertCallRecord(ctx, model.NewCallRecord(out.Call, h, score))
	if err != nil {
		metrics.RecordStepFailure("persist")
		log.Error("intake: upsert call record failed", zap.Error(err))
		return
	}
	out.Record = rec
}

// recallMatch restores the homeowner an earlier delivery of the same call
// matched, when this delivery carried no usable address.
func (o *Orchestrator) recallMatch(ctx context.Context, out *Outcome, log *zap.Logger) {
	if out.Match != nil || out.Record == nil || out.Record.HomeownerID == nil {
		return
	}
	h, err := o.store.GetHomeowner(ctx, *out.Record.HomeownerID)
	if err != nil {
		metrics.RecordStepFailure("resolve")
		log.Warn("intake: load previously matched homeowner", zap.Error(err))
		return
	}
	m := &homeowner.Match{Homeowner: *h}
	if out.Record.MatchConfidence != nil {
		m.Similarity = *out.Record.MatchConfidence
	}
	out.Match = m
}

func (o *Orchestrator) claim(ctx context.Context, out *Outcome, log *zap.Logger) {
	if out.Record != nil && out.Record.ClaimID != nil {
		c, err := o.store.GetClaim(ctx, *out.Record.ClaimID)
		if err != nil {
			metrics.RecordStepFailure("claim")
			log.Error("intake: load linked claim", zap.String("claim_id", *out.Record.ClaimID), zap.Error(err))
			return
		}
		out.Claim = c
		return
	}

	if out.Match == nil || !slices.Contains(o.cfg.AutoClaimIntents, out.Call.Intent) {
		return
	}
	homeownerID := out.Match.Homeowner.ID
	log = log.With(zap.String("homeowner_id", homeownerID))

	held, err := o.locker.Acquire(ctx, lock.ClaimKey(homeownerID), o.cfg.ClaimLockTTL)
	if err != nil {
		metrics.RecordStepFailure("lock")
		log.Warn("intake: claim lock unavailable, proceeding unlocked", zap.Error(err))
	} else {
		defer func() {
			if err := held.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("intake: release claim lock", zap.Error(err))
			}
		}()
	}

	dup, err := o.guard.HasRecentOpenClaim(ctx, homeownerID, o.cfg.DuplicateLookback)
	if err != nil {
		metrics.RecordStepFailure("guard")
		log.Error("intake: duplicate check failed, not creating claim", zap.Error(err))
		return
	}
	if dup {
		out.DuplicateSuppressed = true
		metrics.ClaimsSuppressed.Inc()
		log.Info("intake: recent open claim exists, skipping claim creation")
		return
	}

	n, err := o.store.NextClaimNumber(ctx, homeownerID)
	if err != nil {
		metrics.RecordStepFailure("claim")
		log.Error("intake: allocate claim number", zap.Error(err))
		return
	}

	created, err := o.store.CreateClaim(ctx, model.NewClaimFromCall(out.Match.Homeowner, out.Call, n))
	if err != nil {
		metrics.RecordStepFailure("claim")
		log.Error("intake: create claim", zap.Error(err))
		return
	}
	out.Claim = created
	out.ClaimCreated = true
	metrics.ClaimsCreated.Inc()
	log.Info("intake: claim created", zap.String("claim_id", created.ID), zap.Int("claim_number", created.ClaimNumber))

	if err := o.store.LinkClaim(ctx, out.Call.CallID, created.ID); err != nil {
		metrics.RecordStepFailure("link")
		log.Error("intake: link claim to call record", zap.Error(err))
		return
	}
	if out.Record != nil {
		id := created.ID
		out.Record.ClaimID = &id
	}
}

// isFinal trusts the event type when it is a known final or mid-call event.
// Structured data only finalizes deliveries with no or an unknown type.
func (o *Orchestrator) isFinal(call model.ExtractedCall) bool {
	switch {
	case model.IsEventType(call.EventType, o.cfg.FinalEventTypes):
		return true
	case model.IsEventType(call.EventType, o.cfg.IntermediateEventTypes):
		return false
	default:
		return call.HasStructuredData
	}
}

func scenarioFor(out *Outcome) model.Scenario {
	switch {
	case out.Claim != nil:
		return model.ScenarioClaimCreated
	case out.Match != nil:
		return model.ScenarioMatchNoClaim
	default:
		return model.ScenarioNoMatch
	}
}

func (o *Orchestrator) notify(ctx context.Context, out *Outcome, log *zap.Logger) {
	// Without a stored record there is nothing to dedupe against.
	if out.Record != nil {
		first, err := o.store.MarkNotified(ctx, out.Call.CallID, o.now().UTC())
		switch {
		case err != nil:
			metrics.RecordStepFailure("dedupe")
			log.Warn("intake: notification dedupe failed, notifying anyway", zap.Error(err))
		case !first:
			log.Info("intake: call already notified, skipping")
			return
		}
	}

	facts := notify.Facts{Call: out.Call, Claim: out.Claim}
	if out.Match != nil {
		facts.Homeowner = &out.Match.Homeowner
		facts.Similarity = out.Match.Similarity
	}
	res := o.notifier.Notify(ctx, out.Scenario, facts)
	out.Notified = true
	out.Notification = &res
	if !res.OK {
		metrics.RecordStepFailure("notify")
	}
}

func (o *Orchestrator) publish(ctx context.Context, out *Outcome, log *zap.Logger) {
	e := events.Event{
		Type:         events.TypeIntakeProcessed,
		CallID:       out.Call.CallID,
		EventType:    out.Call.EventType,
		Scenario:     string(out.Scenario),
		ClaimCreated: out.ClaimCreated,
		Urgent:       out.Call.Urgent,
		Notified:     out.Notified,
		OccurredAt:   o.now().UTC(),
	}
	if out.Match != nil {
		e.HomeownerID = out.Match.Homeowner.ID
		e.Similarity = out.Match.Similarity
	}
	if out.Claim != nil {
		e.ClaimID = out.Claim.ID
		e.ClaimNumber = out.Claim.ClaimNumber
	}
	if err := o.events.Publish(ctx, e); err != nil {
		metrics.RecordStepFailure("publish")
		log.Warn("intake: publish intake event", zap.Error(err))
	}
}
