// Package extract pulls call facts out of voice-vendor webhook payloads.
package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"
	"github.com/rotisserie/eris"
)

// Field names a logical call fact.
type Field string

const (
	FieldCallID       Field = "call_id"
	FieldEventType    Field = "event_type"
	FieldCallerName   Field = "caller_name"
	FieldPhone        Field = "phone"
	FieldCallerID     Field = "caller_id_number"
	FieldAddress      Field = "address"
	FieldIssue        Field = "issue"
	FieldSummary      Field = "summary"
	FieldIntent       Field = "intent"
	FieldUrgent       Field = "urgent"
	FieldTranscript   Field = "transcript"
	FieldRecordingURL Field = "recording_url"
)

// AllFields lists every field in probe order.
var AllFields = []Field{
	FieldCallID, FieldEventType, FieldCallerName, FieldPhone, FieldCallerID,
	FieldAddress, FieldIssue, FieldSummary, FieldIntent, FieldUrgent,
	FieldTranscript, FieldRecordingURL,
}

// ParseFields converts configured field names, rejecting unknown ones.
func ParseFields(names []string) ([]Field, error) {
	known := make(map[Field]bool, len(AllFields))
	for _, f := range AllFields {
		known[f] = true
	}
	out := make([]Field, 0, len(names))
	for _, n := range names {
		f := Field(strings.ToLower(strings.TrimSpace(n)))
		if !known[f] {
			return nil, eris.Errorf("extract: unknown field %q", n)
		}
		out = append(out, f)
	}
	return out, nil
}

// structuredRoots are the places a vendor puts the assistant's structured
// output: webhook envelope, bare call object, and call nested in the envelope.
var structuredRoots = []string{
	"message.analysis.structuredData",
	"analysis.structuredData",
	"message.call.analysis.structuredData",
}

func structured(keys ...string) []string {
	exprs := make([]string, 0, len(structuredRoots)*len(keys))
	for _, root := range structuredRoots {
		for _, k := range keys {
			exprs = append(exprs, root+"."+k)
		}
	}
	return exprs
}

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

// accessorSource is the ordered list of JMESPath expressions probed per
// field. The first expression yielding a non-empty value wins.
var accessorSource = map[Field][]string{
	FieldCallID: {
		"message.call.id",
		"message.callId",
		"call.id",
		"callId",
		"id",
	},
	FieldEventType: {
		"message.type",
		"type",
	},
	FieldCallerName: concat(
		structured("callerName", "caller_name", "name", "homeownerName"),
		[]string{"message.call.customer.name", "message.customer.name", "customer.name"},
	),
	FieldPhone: structured("phone", "phoneNumber", "phone_number", "callbackNumber"),
	FieldCallerID: {
		"message.call.customer.number",
		"message.customer.number",
		"call.customer.number",
		"customer.number",
	},
	FieldAddress: structured("address", "propertyAddress", "property_address", "homeAddress"),
	FieldIssue:   structured("issue", "issueDescription", "issue_description", "description", "problem"),
	FieldSummary: concat(
		[]string{"message.analysis.summary", "analysis.summary", "message.call.analysis.summary", "message.summary", "summary"},
		structured("summary"),
	),
	FieldIntent: structured("intent", "callIntent", "call_intent", "callType"),
	FieldUrgent: structured("urgent", "isUrgent", "is_urgent", "emergency", "isEmergency"),
	FieldTranscript: {
		"message.artifact.transcript",
		"message.transcript",
		"artifact.transcript",
		"transcript",
	},
	FieldRecordingURL: {
		"message.artifact.recordingUrl",
		"message.recordingUrl",
		"artifact.recordingUrl",
		"recordingUrl",
		"message.artifact.recording.url",
	},
}

// accessors holds the compiled form of accessorSource.
var accessors = compileAccessors(accessorSource)

func compileAccessors(src map[Field][]string) map[Field][]*jmespath.JMESPath {
	out := make(map[Field][]*jmespath.JMESPath, len(src))
	for f, exprs := range src {
		compiled := make([]*jmespath.JMESPath, len(exprs))
		for i, e := range exprs {
			compiled[i] = jmespath.MustCompile(e)
		}
		out[f] = compiled
	}
	return out
}

// facts is the raw result of probing one document.
type facts struct {
	values map[Field]string
	urgent *bool
}

func newFacts() facts {
	return facts{values: make(map[Field]string)}
}

// probe runs every field's accessor list against doc.
func probe(doc any) facts {
	f := newFacts()
	if doc == nil {
		return f
	}
	for field, list := range accessors {
		for _, expr := range list {
			v, err := expr.Search(doc)
			if err != nil || v == nil {
				continue
			}
			if field == FieldUrgent {
				if b, ok := boolish(v); ok {
					f.urgent = &b
					break
				}
				continue
			}
			if s := stringify(v); s != "" {
				f.values[field] = s
				break
			}
		}
	}
	return f
}

// mergeMissing fills fields that are still empty from other.
func (f facts) mergeMissing(other facts) facts {
	for k, v := range other.values {
		if f.values[k] == "" {
			f.values[k] = v
		}
	}
	if f.urgent == nil {
		f.urgent = other.urgent
	}
	return f
}

func (f facts) has(field Field) bool {
	if field == FieldUrgent {
		return f.urgent != nil
	}
	return f.values[field] != ""
}

// missing returns the required fields not yet present.
func (f facts) missing(required []Field) []Field {
	var out []Field
	for _, r := range required {
		if r == FieldPhone && f.has(FieldCallerID) {
			continue
		}
		if !f.has(r) {
			out = append(out, r)
		}
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any, []any:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func boolish(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1", "urgent", "emergency":
			return true, true
		case "false", "no", "n", "0":
			return false, true
		}
	}
	return false, false
}
