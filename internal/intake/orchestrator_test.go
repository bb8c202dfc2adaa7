package intake

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/warranty-intake/internal/config"
	"github.com/sells-group/warranty-intake/internal/events"
	"github.com/sells-group/warranty-intake/internal/extract"
	"github.com/sells-group/warranty-intake/internal/lock"
	"github.com/sells-group/warranty-intake/internal/model"
	"github.com/sells-group/warranty-intake/internal/notify"
	"github.com/sells-group/warranty-intake/internal/store"
)

// --- fakes ---

type sentNotification struct {
	scenario model.Scenario
	facts    notify.Facts
}

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []sentNotification
	result notify.Result
}

func (f *fakeNotifier) Notify(_ context.Context, scenario model.Scenario, facts notify.Facts) notify.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotification{scenario: scenario, facts: facts})
	return f.result
}

type fakeLocker struct {
	err      error
	acquired []string
	released int
}

func (f *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (lock.Lock, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.acquired = append(f.acquired, key)
	return fakeLock{f}, nil
}

type fakeLock struct{ l *fakeLocker }

func (f fakeLock) Release(context.Context) error {
	f.l.released++
	return nil
}

type fakePublisher struct {
	events []events.Event
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, e events.Event) error {
	f.events = append(f.events, e)
	return f.err
}

func (f *fakePublisher) Close() error { return nil }

type failingSource struct{}

func (failingSource) ListHomeowners(context.Context) ([]model.Homeowner, error) {
	return nil, errors.New("directory offline")
}

// --- harness ---

type harness struct {
	st        *store.SQLiteStore
	notifier  *fakeNotifier
	locker    *fakeLocker
	publisher *fakePublisher
	orch      *Orchestrator
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "intake.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	_, err = st.UpsertHomeowners(context.Background(), []model.Homeowner{
		{ID: "ho-1", Name: "Dana Reyes", Email: "dana@example.com", Address: "123 Main St", BuilderName: "Crestline Homes"},
		{ID: "ho-2", Name: "Sam Ortiz", Address: "88 Willow Ln"},
	})
	require.NoError(t, err)

	h := &harness{
		st:        st,
		notifier:  &fakeNotifier{result: notify.Result{OK: true, Message: "sent"}},
		locker:    &fakeLocker{},
		publisher: &fakePublisher{},
	}
	all := append([]Option{WithLocker(h.locker), WithPublisher(h.publisher)}, opts...)
	h.orch = New(st, extract.New(nil, nil, extract.Config{}), st, h.notifier, Config{}, all...)
	return h
}

func payload(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

const newIssueReport = `{
  "message": {
    "type": "end-of-call-report",
    "call": {"id": "call-1", "customer": {"number": "+15125550100"}},
    "analysis": {
      "summary": "Leak under the kitchen sink.",
      "structuredData": {
        "callerName": "Dana Reyes",
        "address": "123 Main Street",
        "issue": "Water leaking under the kitchen sink",
        "intent": "new_issue"
      }
    }
  }
}`

// --- Process ---

func TestProcess_MatchedNewIssueCreatesClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.st.InsertClaimAt(ctx, model.Claim{HomeownerID: "ho-1", ClaimNumber: 2, Status: model.ClaimStatusCompleted}, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	out, err := h.orch.Process(ctx, payload(t, newIssueReport))
	require.NoError(t, err)

	assert.True(t, out.Final)
	assert.Equal(t, model.ScenarioClaimCreated, out.Scenario)
	require.NotNil(t, out.Match)
	assert.Equal(t, "ho-1", out.Match.Homeowner.ID)
	assert.GreaterOrEqual(t, out.Match.Similarity, 0.9)

	require.NotNil(t, out.Claim)
	assert.True(t, out.ClaimCreated)
	assert.Equal(t, 3, out.Claim.ClaimNumber)
	assert.Equal(t, model.ClaimStatusSubmitted, out.Claim.Status)
	assert.Equal(t, "Water leaking under the kitchen sink", out.Claim.Description)
	assert.Equal(t, "Dana Reyes", out.Claim.HomeownerName)
	assert.Equal(t, "123 Main St", out.Claim.HomeownerAddress)
	assert.Equal(t, "call-1", out.Claim.CallID)

	rec, err := h.st.GetCallRecord(ctx, "call-1")
	require.NoError(t, err)
	assert.True(t, rec.Verified)
	require.NotNil(t, rec.ClaimID)
	assert.Equal(t, out.Claim.ID, *rec.ClaimID)
	assert.NotNil(t, rec.NotifiedAt)

	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, model.ScenarioClaimCreated, h.notifier.sent[0].scenario)
	assert.Equal(t, 3, h.notifier.sent[0].facts.Claim.ClaimNumber)
	assert.True(t, out.Notified)

	assert.Equal(t, []string{"claims:ho-1"}, h.locker.acquired)
	assert.Equal(t, 1, h.locker.released)

	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, events.TypeIntakeProcessed, h.publisher.events[0].Type)
	assert.Equal(t, "CLAIM_CREATED", h.publisher.events[0].Scenario)
	assert.True(t, h.publisher.events[0].ClaimCreated)
}

func TestProcess_RedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.orch.Process(ctx, payload(t, newIssueReport))
	require.NoError(t, err)
	require.True(t, first.ClaimCreated)

	second, err := h.orch.Process(ctx, payload(t, newIssueReport))
	require.NoError(t, err)

	assert.False(t, second.ClaimCreated)
	require.NotNil(t, second.Claim)
	assert.Equal(t, first.Claim.ID, second.Claim.ID)
	assert.Equal(t, model.ScenarioClaimCreated, second.Scenario)
	assert.False(t, second.Notified)
	assert.Len(t, h.notifier.sent, 1)

	next, err := h.st.NextClaimNumber(ctx, "ho-1")
	require.NoError(t, err)
	assert.Equal(t, 2, next, "only one claim exists")

	assert.Equal(t, first.Record.ID, second.Record.ID)
}

func TestProcess_RecentOpenClaimSuppresses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.st.InsertClaimAt(ctx, model.Claim{HomeownerID: "ho-1", ClaimNumber: 1, Status: model.ClaimStatusReviewing}, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	out, err := h.orch.Process(ctx, payload(t, newIssueReport))
	require.NoError(t, err)

	assert.Nil(t, out.Claim)
	assert.False(t, out.ClaimCreated)
	assert.True(t, out.DuplicateSuppressed)
	assert.Equal(t, model.ScenarioMatchNoClaim, out.Scenario)
	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, model.ScenarioMatchNoClaim, h.notifier.sent[0].scenario)
}

func TestProcess_OldOpenClaimDoesNotSuppress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.st.InsertClaimAt(ctx, model.Claim{HomeownerID: "ho-1", ClaimNumber: 1, Status: model.ClaimStatusSubmitted}, time.Now().Add(-25*time.Hour))
	require.NoError(t, err)

	out, err := h.orch.Process(ctx, payload(t, newIssueReport))
	require.NoError(t, err)
	require.True(t, out.ClaimCreated)
	assert.Equal(t, 2, out.Claim.ClaimNumber)
}

func TestProcess_NoAddressIsNoMatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.orch.Process(ctx, payload(t, `{
	  "message": {
	    "type": "end-of-call-report",
	    "call": {"id": "call-2", "customer": {"number": "+15125550111"}},
	    "analysis": {"structuredData": {"issue": "Garage door will not close", "intent": "new_issue"}}
	  }
	}`))
	require.NoError(t, err)

	assert.Nil(t, out.Match)
	assert.Nil(t, out.Claim)
	assert.Equal(t, model.ScenarioNoMatch, out.Scenario)
	assert.Empty(t, h.locker.acquired)

	rec, err := h.st.GetCallRecord(ctx, "call-2")
	require.NoError(t, err)
	assert.False(t, rec.Verified)
	assert.Nil(t, rec.HomeownerID)
	assert.Equal(t, "+15125550111", rec.Phone)

	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, model.ScenarioNoMatch, h.notifier.sent[0].scenario)
}

func TestProcess_UnmatchedAddressIsNoMatch(t *testing.T) {
	h := newHarness(t)

	out, err := h.orch.Process(context.Background(), payload(t, `{
	  "message": {"type": "end-of-call-report", "call": {"id": "call-3"},
	    "analysis": {"structuredData": {"address": "999 Nowhere Ave", "intent": "new_issue", "issue": "Roof is leaking badly"}}}
	}`))
	require.NoError(t, err)
	assert.Nil(t, out.Match)
	assert.Equal(t, model.ScenarioNoMatch, out.Scenario)
}

func TestProcess_NonAutoClaimIntent(t *testing.T) {
	h := newHarness(t)

	out, err := h.orch.Process(context.Background(), payload(t, `{
	  "message": {"type": "end-of-call-report", "call": {"id": "call-4"},
	    "analysis": {"structuredData": {"address": "88 Willow Lane", "intent": "follow_up", "issue": "Checking on my claim"}}}
	}`))
	require.NoError(t, err)
	require.NotNil(t, out.Match)
	assert.Equal(t, "ho-2", out.Match.Homeowner.ID)
	assert.Nil(t, out.Claim)
	assert.False(t, out.DuplicateSuppressed)
	assert.Equal(t, model.ScenarioMatchNoClaim, out.Scenario)
	assert.Empty(t, h.locker.acquired)
}

func TestProcess_NonFinalNeverNotifies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.orch.Process(ctx, payload(t, `{
	  "message": {"type": "status-update", "call": {"id": "call-5"},
	    "analysis": {"structuredData": {"issue": "Cracked tile in the entry"}}}
	}`))
	require.NoError(t, err)

	assert.False(t, out.Final)
	assert.Empty(t, out.Scenario)
	assert.False(t, out.Notified)
	assert.Empty(t, h.notifier.sent)
	assert.Empty(t, h.publisher.events)

	rec, err := h.st.GetCallRecord(ctx, "call-5")
	require.NoError(t, err)
	assert.Nil(t, rec.NotifiedAt)
	assert.Equal(t, "Cracked tile in the entry", rec.Issue)
}

func TestProcess_StructuredDataIsFinalWithoutEventType(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.orch.Process(ctx, payload(t, `{
	  "message": {"call": {"id": "call-6"},
	    "analysis": {"structuredData": {"intent": "question"}}}
	}`))
	require.NoError(t, err)
	assert.True(t, out.Final)

	out, err = h.orch.Process(ctx, payload(t, `{
	  "message": {"type": "analysis-complete", "call": {"id": "call-6b"},
	    "analysis": {"structuredData": {"intent": "question"}}}
	}`))
	require.NoError(t, err)
	assert.True(t, out.Final)
	assert.Len(t, h.notifier.sent, 2)
}

func TestProcess_MidCallStructuredDataDoesNotFinalize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.orch.Process(ctx, payload(t, `{
	  "message": {"type": "status-update", "call": {"id": "call-6"},
	    "analysis": {"structuredData": {"address": "123 Main Street"}}}
	}`))
	require.NoError(t, err)
	assert.False(t, first.Final)
	assert.False(t, first.Notified)
	assert.Empty(t, h.notifier.sent)

	second, err := h.orch.Process(ctx, payload(t, `{
	  "message": {"type": "end-of-call-report", "call": {"id": "call-6"},
	    "analysis": {"structuredData": {"address": "123 Main Street", "intent": "new_issue", "issue": "Leak under the kitchen sink"}}}
	}`))
	require.NoError(t, err)
	assert.True(t, second.Final)
	assert.True(t, second.ClaimCreated)
	assert.True(t, second.Notified)
	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, model.ScenarioClaimCreated, h.notifier.sent[0].scenario)
}

func TestProcess_MissingCallID(t *testing.T) {
	h := newHarness(t)

	out, err := h.orch.Process(context.Background(), payload(t, `{"message": {"type": "end-of-call-report"}}`))
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrMissingCallID)
	assert.Empty(t, h.notifier.sent)
}

func TestProcess_LockFailureProceedsUnlocked(t *testing.T) {
	h := newHarness(t)
	h.locker.err = errors.New("redis unavailable")

	out, err := h.orch.Process(context.Background(), payload(t, newIssueReport))
	require.NoError(t, err)
	assert.True(t, out.ClaimCreated)
	assert.Equal(t, 0, h.locker.released)
}

func TestProcess_NotificationFailureAbsorbed(t *testing.T) {
	h := newHarness(t)
	h.notifier.result = notify.Result{OK: false, Message: "relay down"}

	out, err := h.orch.Process(context.Background(), payload(t, newIssueReport))
	require.NoError(t, err)
	require.NotNil(t, out.Notification)
	assert.False(t, out.Notification.OK)
	assert.True(t, out.Notified)
}

func TestProcess_PublishFailureAbsorbed(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.New("broker down")

	out, err := h.orch.Process(context.Background(), payload(t, newIssueReport))
	require.NoError(t, err)
	assert.Equal(t, model.ScenarioClaimCreated, out.Scenario)
}

func TestProcess_CandidateErrorTreatedAsNoMatch(t *testing.T) {
	h := newHarness(t)
	orch := New(h.st, extract.New(nil, nil, extract.Config{}), failingSource{}, h.notifier, Config{})

	out, err := orch.Process(context.Background(), payload(t, newIssueReport))
	require.NoError(t, err)
	assert.Nil(t, out.Match)
	assert.Equal(t, model.ScenarioNoMatch, out.Scenario)

	_, err = h.st.GetCallRecord(context.Background(), "call-1")
	assert.NoError(t, err)
}

func TestProcess_SparseRedeliveryKeepsMatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Process(ctx, payload(t, `{
	  "message": {"type": "end-of-call-report", "call": {"id": "call-7"},
	    "analysis": {"structuredData": {"address": "123 Main Street", "intent": "question"}}}
	}`))
	require.NoError(t, err)

	out, err := h.orch.Process(ctx, payload(t, `{"message": {"type": "end-of-call-report", "call": {"id": "call-7"}}}`))
	require.NoError(t, err)
	require.NotNil(t, out.Match)
	assert.Equal(t, "ho-1", out.Match.Homeowner.ID)
	assert.Equal(t, model.ScenarioMatchNoClaim, out.Scenario)
	assert.Equal(t, "123 Main Street", out.Record.Address)
	assert.Len(t, h.notifier.sent, 1)
}

func TestProcess_SparseRedeliveryKeepsStatedIntent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.orch.Process(ctx, payload(t, newIssueReport))
	require.NoError(t, err)
	require.True(t, first.ClaimCreated)

	out, err := h.orch.Process(ctx, payload(t, `{
	  "message": {"type": "end-of-call-report", "call": {"id": "call-1"},
	    "analysis": {"structuredData": {"address": "123 Main Street"}}}
	}`))
	require.NoError(t, err)
	assert.True(t, out.Call.IntentDefaulted)
	assert.Equal(t, model.IntentOther, out.Call.Intent)

	rec, err := h.st.GetCallRecord(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, model.IntentNewIssue, rec.Intent)
	require.NotNil(t, rec.ClaimID)
	assert.Equal(t, first.Claim.ID, *rec.ClaimID)
}

func TestProcess_EmergencyClaimIsUrgent(t *testing.T) {
	h := newHarness(t)

	out, err := h.orch.Process(context.Background(), payload(t, `{
	  "message": {"type": "end-of-call-report", "call": {"id": "call-8"},
	    "analysis": {"structuredData": {"address": "88 Willow Ln", "intent": "emergency", "issue": "Gas smell in the kitchen"}}}
	}`))
	require.NoError(t, err)
	require.True(t, out.ClaimCreated)
	assert.True(t, out.Claim.Urgent)
	assert.Equal(t, 1, out.Claim.ClaimNumber)
	assert.True(t, h.notifier.sent[0].facts.Call.Urgent)
}

// --- Config ---

func TestConfigFromSettings(t *testing.T) {
	cfg, err := ConfigFromSettings(config.IntakeConfig{
		MinSimilarity:    0.5,
		RequiredFields:   []string{"address", "issue"},
		AutoClaimIntents: []string{"new_issue", "emergency", ""},
		FinalEventTypes:  []string{"end-of-call-report"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.MinSimilarity)
	assert.Equal(t, []extract.Field{extract.FieldAddress, extract.FieldIssue}, cfg.RequiredFields)
	assert.Equal(t, []model.Intent{model.IntentNewIssue, model.IntentEmergency}, cfg.AutoClaimIntents)

	_, err = ConfigFromSettings(config.IntakeConfig{AutoClaimIntents: []string{"refund"}})
	assert.Error(t, err)

	_, err = ConfigFromSettings(config.IntakeConfig{RequiredFields: []string{"zipcode"}})
	assert.Error(t, err)
}

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	cfg.setDefaults()
	assert.Equal(t, 0.4, cfg.MinSimilarity)
	assert.Equal(t, 24*time.Hour, cfg.DuplicateLookback)
	assert.Equal(t, extract.DefaultRequiredFields, cfg.RequiredFields)
	assert.Equal(t, DefaultAutoClaimIntents, cfg.AutoClaimIntents)
	assert.Equal(t, []string{EventEndOfCallReport}, cfg.FinalEventTypes)
}
