package model

import "time"

// ClaimStatus represents where a warranty claim sits in its lifecycle.
type ClaimStatus string

const (
	ClaimStatusSubmitted  ClaimStatus = "submitted"
	ClaimStatusReviewing  ClaimStatus = "reviewing"
	ClaimStatusScheduling ClaimStatus = "scheduling"
	ClaimStatusScheduled  ClaimStatus = "scheduled"
	ClaimStatusCompleted  ClaimStatus = "completed"
	ClaimStatusDenied     ClaimStatus = "denied"
	ClaimStatusClosed     ClaimStatus = "closed"
)

// OpenClaimStatuses lists the statuses that count as an open claim.
var OpenClaimStatuses = []ClaimStatus{
	ClaimStatusSubmitted,
	ClaimStatusReviewing,
	ClaimStatusScheduling,
	ClaimStatusScheduled,
}

// IsOpen reports whether the status is in the open subset.
func (s ClaimStatus) IsOpen() bool {
	for _, open := range OpenClaimStatuses {
		if s == open {
			return true
		}
	}
	return false
}

// ClaimSourceVoice marks claims created by the voice intake channel.
const ClaimSourceVoice = "voice"

// Claim is a warranty claim. The homeowner fields are a snapshot taken when
// the claim was created.
type Claim struct {
	ID               string      `json:"id" db:"id"`
	HomeownerID      string      `json:"homeowner_id" db:"homeowner_id"`
	ClaimNumber      int         `json:"claim_number" db:"claim_number"`
	Status           ClaimStatus `json:"status" db:"status"`
	Description      string      `json:"description" db:"description"`
	HomeownerName    string      `json:"homeowner_name" db:"homeowner_name"`
	HomeownerEmail   string      `json:"homeowner_email,omitempty" db:"homeowner_email"`
	HomeownerAddress string      `json:"homeowner_address" db:"homeowner_address"`
	BuilderName      string      `json:"builder_name,omitempty" db:"builder_name"`
	Source           string      `json:"source" db:"source"`
	CallID           string      `json:"call_id,omitempty" db:"call_id"`
	Urgent           bool        `json:"urgent" db:"urgent"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

// NewClaimFromCall builds a submitted claim for a homeowner from the facts of a call.
func NewClaimFromCall(h Homeowner, call ExtractedCall, claimNumber int) Claim {
	return Claim{
		HomeownerID:      h.ID,
		ClaimNumber:      claimNumber,
		Status:           ClaimStatusSubmitted,
		Description:      call.Issue,
		HomeownerName:    h.Name,
		HomeownerEmail:   h.Email,
		HomeownerAddress: h.Address,
		BuilderName:      h.BuilderName,
		Source:           ClaimSourceVoice,
		CallID:           call.CallID,
		Urgent:           call.Urgent,
	}
}
