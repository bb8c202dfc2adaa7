package model

import (
	"strings"
	"time"
)

// Intent classifies why a caller called.
type Intent string

const (
	IntentNewIssue  Intent = "new-issue"
	IntentEmergency Intent = "emergency"
	IntentFollowUp  Intent = "follow-up"
	IntentQuestion  Intent = "question"
	IntentOther     Intent = "other"
)

// intentAliases folds the spellings the voice assistant has used over time
// onto the canonical intent values.
var intentAliases = map[string]Intent{
	"new-issue":        IntentNewIssue,
	"new-claim":        IntentNewIssue,
	"warranty-issue":   IntentNewIssue,
	"warranty-claim":   IntentNewIssue,
	"emergency":        IntentEmergency,
	"urgent":           IntentEmergency,
	"follow-up":        IntentFollowUp,
	"followup":         IntentFollowUp,
	"existing-claim":   IntentFollowUp,
	"status-check":     IntentFollowUp,
	"question":         IntentQuestion,
	"general-question": IntentQuestion,
	"other":            IntentOther,
}

// ParseIntent normalizes a raw intent label. Empty input yields "", unknown
// non-empty labels yield IntentOther.
func ParseIntent(raw string) Intent {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	s = strings.NewReplacer("_", "-", " ", "-").Replace(s)
	if intent, ok := intentAliases[s]; ok {
		return intent
	}
	return IntentOther
}

// DefaultIntermediateEventTypes are vendor events sent while a call is still
// in progress. They never finalize a call, even when they carry structured
// data, and never trigger the vendor fallback.
var DefaultIntermediateEventTypes = []string{
	"status-update",
	"speech-update",
	"conversation-update",
	"transcript",
	"model-output",
	"user-interrupted",
	"voice-input",
	"hang",
	"function-call",
	"tool-calls",
}

// IsEventType reports whether eventType is one of types, ignoring case.
func IsEventType(eventType string, types []string) bool {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return false
	}
	for _, t := range types {
		if strings.EqualFold(eventType, t) {
			return true
		}
	}
	return false
}

// Scenario is the notification class chosen for a finalized call.
type Scenario string

const (
	ScenarioClaimCreated Scenario = "CLAIM_CREATED"
	ScenarioMatchNoClaim Scenario = "MATCH_NO_CLAIM"
	ScenarioNoMatch      Scenario = "NO_MATCH"
)

// ExtractedCall is the normalized set of facts pulled from a webhook payload
// (and the vendor API when the payload is incomplete).
type ExtractedCall struct {
	CallID         string `json:"call_id"`
	EventType      string `json:"event_type,omitempty"`
	CallerName     string `json:"caller_name,omitempty"`
	Phone          string `json:"phone,omitempty"`
	CallerIDNumber string `json:"caller_id_number,omitempty"`
	Address        string `json:"address,omitempty"`
	Issue          string `json:"issue,omitempty"`
	Summary        string `json:"summary,omitempty"`
	Intent         Intent `json:"intent,omitempty"`
	Urgent         bool   `json:"urgent"`
	Transcript     string `json:"transcript,omitempty"`
	RecordingURL   string `json:"recording_url,omitempty"`

	// IntentDefaulted is true when Intent was guessed from the issue rather
	// than stated by the payload or vendor.
	IntentDefaulted bool `json:"intent_defaulted"`
	// HasStructuredData is true when the address or intent came from the
	// payload or vendor rather than from defaulting.
	HasStructuredData bool `json:"has_structured_data"`
	// UsedFallback is true when the vendor call-detail API was consulted.
	UsedFallback bool `json:"used_fallback"`
}

// CallRecord is the persisted audit row for one external call.
type CallRecord struct {
	ID              string     `json:"id" db:"id"`
	CallID          string     `json:"call_id" db:"call_id"`
	HomeownerID     *string    `json:"homeowner_id,omitempty" db:"homeowner_id"`
	CallerName      string     `json:"caller_name,omitempty" db:"caller_name"`
	Phone           string     `json:"phone,omitempty" db:"phone"`
	Address         string     `json:"address,omitempty" db:"address"`
	Issue           string     `json:"issue,omitempty" db:"issue"`
	Summary         string     `json:"summary,omitempty" db:"summary"`
	Intent          Intent     `json:"intent,omitempty" db:"intent"`
	Urgent          bool       `json:"urgent" db:"urgent"`
	Verified        bool       `json:"verified" db:"verified"`
	MatchConfidence *float64   `json:"match_confidence,omitempty" db:"match_confidence"`
	Transcript      string     `json:"transcript,omitempty" db:"transcript"`
	RecordingURL    string     `json:"recording_url,omitempty" db:"recording_url"`
	EventType       string     `json:"event_type,omitempty" db:"event_type"`
	ClaimID         *string    `json:"claim_id,omitempty" db:"claim_id"`
	NotifiedAt      *time.Time `json:"notified_at,omitempty" db:"notified_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// NewCallRecord builds the record to upsert for a call and its match outcome.
// A nil homeowner leaves the record unverified.
func NewCallRecord(call ExtractedCall, h *Homeowner, similarity float64) CallRecord {
	rec := CallRecord{
		CallID:       call.CallID,
		CallerName:   call.CallerName,
		Phone:        call.Phone,
		Address:      call.Address,
		Issue:        call.Issue,
		Summary:      call.Summary,
		Urgent:       call.Urgent,
		Transcript:   call.Transcript,
		RecordingURL: call.RecordingURL,
		EventType:    call.EventType,
	}
	// A guessed intent is left blank so it never replaces a stated one.
	if !call.IntentDefaulted {
		rec.Intent = call.Intent
	}
	if h != nil {
		id := h.ID
		score := similarity
		rec.HomeownerID = &id
		rec.MatchConfidence = &score
		rec.Verified = true
	}
	return rec
}
