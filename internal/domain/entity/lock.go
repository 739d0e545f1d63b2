package entity

import "time"

// FamilyLease marks a family unit as mid-activation. ID is the family hash.
type FamilyLease struct {
	ID          string    `json:"id"`
	ApplicantID string    `json:"applicant_id"`
	BonusID     string    `json:"bonus_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProcessingMark marks an applicant as having an activation in flight.
// ID is the applicant fiscal code.
type ProcessingMark struct {
	ID        string    `json:"id"`
	BonusID   string    `json:"bonus_id"`
	CreatedAt time.Time `json:"created_at"`
}
