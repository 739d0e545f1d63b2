package service

import "errors"

var (
	ErrInvalidApplicant     = errors.New("invalid applicant id")
	ErrActivationInProgress = errors.New("bonus activation already in progress")
	ErrCheckInProgress      = errors.New("eligibility check already in progress")
	ErrEligibilityNotFound  = errors.New("eligibility check not found")
	ErrNotEligible          = errors.New("applicant is not eligible")
	ErrEligibilityExpired   = errors.New("eligibility check expired")
	ErrFamilyAlreadyLeased  = errors.New("a bonus is already being activated for the family")
	ErrBonusNotFound        = errors.New("bonus not found")
	ErrBonusCodeExhausted   = errors.New("could not generate a unique bonus code")
)
