package entity

import "time"

// BonusActivation is one granted or attempted bonus. ID is the bonus code.
// Records are never deleted.
type BonusActivation struct {
	ID          string           `json:"id"`
	ApplicantID string           `json:"applicant_id"`
	FamilyHash  string           `json:"family_hash"`
	Status      ActivationStatus `json:"status"`
	DSU         DSURequest       `json:"dsu"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// UserBonus indexes an active bonus by family member
type UserBonus struct {
	BonusID     string    `json:"bonus_id"`
	FiscalCode  string    `json:"fiscal_code"`
	IsApplicant bool      `json:"is_applicant"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserBonusesFor builds the index rows written once an activation is ACTIVE
func UserBonusesFor(a *BonusActivation, now time.Time) []*UserBonus {
	rows := make([]*UserBonus, 0, len(a.DSU.FamilyMembers))
	for _, member := range a.DSU.FamilyMembers {
		rows = append(rows, &UserBonus{
			BonusID:     a.ID,
			FiscalCode:  member,
			IsApplicant: member == a.ApplicantID,
			CreatedAt:   now,
		})
	}
	return rows
}
