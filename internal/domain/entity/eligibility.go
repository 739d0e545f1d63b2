package entity

import "time"

// ISEEThreshold is the ISEE value (euros) at or above which an applicant is ineligible
const ISEEThreshold = 40000.0

// DSURequest is the snapshot of the tax-authority answer stored with a check
type DSURequest struct {
	RequestID        string    `json:"request_id"`
	ISEEType         string    `json:"isee_type"`
	ISEEValue        float64   `json:"isee_value"`
	DSUProtocolID    string    `json:"dsu_protocol_id"`
	DSUCreatedAt     time.Time `json:"dsu_created_at"`
	HasDiscrepancies bool      `json:"has_discrepancies"`
	FamilyMembers    []string  `json:"family_members"`
	MaxAmount        int       `json:"max_amount"`
	MaxTaxBenefit    int       `json:"max_tax_benefit"`
}

// EligibilityCheck is the per-applicant eligibility record. ID is the
// applicant fiscal code, so a new check overwrites the previous one.
type EligibilityCheck struct {
	ID               string            `json:"id"`
	Status           EligibilityStatus `json:"status"`
	ValidBefore      time.Time         `json:"valid_before"`
	Error            EligibilityError  `json:"error,omitempty"`
	ErrorDescription string            `json:"error_description,omitempty"`
	DSU              *DSURequest       `json:"dsu,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// IsExpired reports whether the check can no longer be used to start an activation
func (c *EligibilityCheck) IsExpired(now time.Time) bool {
	return !now.Before(c.ValidBefore)
}

// BonusAmount returns the bonus and tax benefit in euros for a family size.
// The tax benefit is 20% of the bonus.
func BonusAmount(familySize int) (amount, taxBenefit int) {
	switch {
	case familySize <= 0:
		return 0, 0
	case familySize == 1:
		amount = 150
	case familySize == 2:
		amount = 250
	default:
		amount = 500
	}
	return amount, amount / 5
}
