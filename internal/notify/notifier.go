// Package notify renders and delivers the staff notification for a finalized call.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/warranty-intake/internal/metrics"
	"github.com/sells-group/warranty-intake/internal/model"
)

const unknownCaller = "Unknown caller"

// Facts is everything a template may mention.
type Facts struct {
	Call       model.ExtractedCall
	Homeowner  *model.Homeowner
	Similarity float64
	Claim      *model.Claim
}

// Notifier renders scenario templates and hands them to a Transport.
type Notifier struct {
	transport  Transport
	recipients []string
}

// New creates a Notifier. When recipients is empty every message goes to
// defaultRecipient.
func New(transport Transport, recipients []string, defaultRecipient string) *Notifier {
	var to []string
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			to = append(to, r)
		}
	}
	if len(to) == 0 && defaultRecipient != "" {
		to = []string{defaultRecipient}
	}
	return &Notifier{transport: transport, recipients: to}
}

// Notify renders the scenario and sends it. Failures are logged and reported
// in the Result only.
func (n *Notifier) Notify(ctx context.Context, scenario model.Scenario, facts Facts) Result {
	msg := Render(scenario, facts)
	msg.To = n.recipients

	res := n.transport.Send(ctx, msg)
	metrics.RecordNotification(string(scenario), res.OK)

	log := zap.L().With(
		zap.String("call_id", facts.Call.CallID),
		zap.String("scenario", string(scenario)),
	)
	if !res.OK {
		log.Error("notify: delivery failed", zap.String("result", res.Message))
	} else {
		log.Info("notify: delivered", zap.String("subject", msg.Subject), zap.String("result", res.Message))
	}
	return res
}

// Render builds the subject and body for a scenario.
func Render(scenario model.Scenario, f Facts) Message {
	var subject string
	switch scenario {
	case model.ScenarioClaimCreated:
		claimNumber := 0
		if f.Claim != nil {
			claimNumber = f.Claim.ClaimNumber
		}
		subject = fmt.Sprintf("New Warranty Claim #%d - %s", claimNumber, homeownerName(f))
	case model.ScenarioMatchNoClaim:
		subject = "Warranty Call from Verified Homeowner - " + homeownerName(f)
	default:
		subject = "Warranty Call - Unverified Caller - " + callerLabel(f.Call)
	}
	if f.Call.Urgent {
		subject = "[URGENT] " + subject
	}

	return Message{
		Subject:  subject,
		Body:     renderBody(scenario, f),
		Scenario: string(scenario),
		CallID:   f.Call.CallID,
		Urgent:   f.Call.Urgent,
	}
}

func renderBody(scenario model.Scenario, f Facts) string {
	var b strings.Builder
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}

	if f.Call.Urgent {
		b.WriteString("*** URGENT: caller reported an emergency. Respond immediately. ***\n\n")
	}

	switch scenario {
	case model.ScenarioClaimCreated:
		b.WriteString("A warranty claim was created from a phone call.\n\n")
	case model.ScenarioMatchNoClaim:
		b.WriteString("A verified homeowner called. No new claim was created.\n\n")
	default:
		b.WriteString("A caller could not be matched to a homeowner.\n\n")
	}

	if f.Claim != nil {
		line("Claim", fmt.Sprintf("#%d", f.Claim.ClaimNumber))
	}
	if f.Homeowner != nil {
		line("Homeowner", f.Homeowner.Name)
		line("Homeowner address", f.Homeowner.Address)
		line("Builder", f.Homeowner.BuilderName)
		line("Match confidence", fmt.Sprintf("%.0f%%", f.Similarity*100))
	}
	line("Caller", f.Call.CallerName)
	line("Phone", f.Call.Phone)
	line("Stated address", f.Call.Address)
	line("Issue", f.Call.Issue)
	line("Intent", string(f.Call.Intent))
	line("Summary", f.Call.Summary)
	line("Recording", f.Call.RecordingURL)
	line("Call ID", f.Call.CallID)

	return b.String()
}

func homeownerName(f Facts) string {
	if f.Homeowner != nil && f.Homeowner.Name != "" {
		return f.Homeowner.Name
	}
	if f.Claim != nil && f.Claim.HomeownerName != "" {
		return f.Claim.HomeownerName
	}
	return callerLabel(f.Call)
}

func callerLabel(c model.ExtractedCall) string {
	switch {
	case strings.TrimSpace(c.CallerName) != "":
		return strings.TrimSpace(c.CallerName)
	case strings.TrimSpace(c.Phone) != "":
		return strings.TrimSpace(c.Phone)
	default:
		return unknownCaller
	}
}
