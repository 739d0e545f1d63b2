package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// Italian codice fiscale, omocodia digits included
	fiscalCodeRegex = regexp.MustCompile(`^[A-Z]{6}[0-9LMNPQRSTUV]{2}[A-Z][0-9LMNPQRSTUV]{2}[A-Z][0-9LMNPQRSTUV]{3}[A-Z]$`)
	bonusCodeRegex  = regexp.MustCompile(`^[ABCDEFGHJKLMNPQRSTUVWXYZ2-9]{12}$`)
	controlChars    = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// NormalizeFiscalCode trims and upper-cases a fiscal code
func NormalizeFiscalCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateFiscalCode validates an already normalized fiscal code
func ValidateFiscalCode(code string) error {
	if len(code) != 16 {
		return fmt.Errorf("fiscal code must be 16 characters: %q", code)
	}
	if !fiscalCodeRegex.MatchString(code) {
		return fmt.Errorf("invalid fiscal code format: %q", code)
	}
	return nil
}

// ValidateBonusCode validates a bonus code as issued by the service
func ValidateBonusCode(code string) error {
	if !bonusCodeRegex.MatchString(code) {
		return fmt.Errorf("invalid bonus code: %q", code)
	}
	return nil
}

// SanitizeString removes control characters
func SanitizeString(s string) string {
	return controlChars.ReplaceAllString(s, "")
}
