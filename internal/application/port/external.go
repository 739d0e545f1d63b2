package port

import (
	"context"
	"time"
)

// InquiryOutcome classifies a tax-authority answer that is not transient
type InquiryOutcome string

const (
	InquirySuccess        InquiryOutcome = "SUCCESS"
	InquiryDataNotFound   InquiryOutcome = "DATA_NOT_FOUND"
	InquiryInvalidRequest InquiryOutcome = "INVALID_REQUEST"
)

// InquiryResult is the typed answer of an ISEE inquiry
type InquiryResult struct {
	Outcome          InquiryOutcome
	RequestID        string
	ISEEType         string
	ISEEValue        float64
	DSUProtocolID    string
	DSUCreatedAt     time.Time
	HasDiscrepancies bool
	FamilyMembers    []string
	Message          string
}

// InquiryClient queries the tax authority. A returned error is transient.
type InquiryClient interface {
	Inquire(ctx context.Context, applicantID string) (*InquiryResult, error)
}

// GrantSnapshot is the bonus payload submitted to the grant authority
type GrantSnapshot struct {
	BonusID       string    `json:"bonus_id"`
	ApplicantID   string    `json:"applicant_id"`
	FamilyHash    string    `json:"family_hash"`
	FamilyMembers []string  `json:"family_members"`
	Amount        int       `json:"amount"`
	TaxBenefit    int       `json:"tax_benefit"`
	CreatedAt     time.Time `json:"created_at"`
}

// GrantResult is the typed answer of the grant authority
type GrantResult struct {
	Granted bool
	// Reason is set when the request was rejected permanently
	Reason string
}

// GrantClient submits a signed snapshot. A returned error is transient.
type GrantClient interface {
	Grant(ctx context.Context, snapshot *GrantSnapshot) (*GrantResult, error)
}

// NotificationSender delivers a message to an applicant and returns the
// provider status code.
type NotificationSender interface {
	Send(ctx context.Context, applicantID, content string) (int, error)
}

// OpsAlerter posts operational alerts to the on-call channel
type OpsAlerter interface {
	Alert(ctx context.Context, text string) error
}
