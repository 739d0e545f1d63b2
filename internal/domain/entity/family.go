package entity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// FamilyHash returns the lowercase hex SHA-256 of the sorted member ids
// concatenated without a separator. Comparison is case sensitive.
func FamilyHash(members []string) string {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "")))
	return hex.EncodeToString(sum[:])
}

const (
	bonusCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	BonusCodeLength   = 12
)

// GenerateBonusCode returns a random code drawn from an alphabet without
// look-alike characters (no I, O, 0, 1).
func GenerateBonusCode() (string, error) {
	buf := make([]byte, BonusCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	code := make([]byte, BonusCodeLength)
	for i, b := range buf {
		// 256 is a multiple of the alphabet size, so the modulo is unbiased
		code[i] = bonusCodeAlphabet[int(b)%len(bonusCodeAlphabet)]
	}
	return string(code), nil
}
