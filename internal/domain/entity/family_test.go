package entity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFamilyHash(t *testing.T) {
	t.Run("sorted concatenation without separator", func(t *testing.T) {
		got := FamilyHash([]string{"BBBBBB00B00B000B", "AAAAAA00A00A000A"})
		assert.Equal(t, "4a474d85d7ff76fd5f562b0a56c3442041c156737b17408f55d63d1086915a91", got)
	})

	t.Run("order independent", func(t *testing.T) {
		a := FamilyHash([]string{"X1", "Y2", "Z3"})
		b := FamilyHash([]string{"Z3", "X1", "Y2"})
		assert.Equal(t, a, b)
	})

	t.Run("case sensitive", func(t *testing.T) {
		assert.NotEqual(t, FamilyHash([]string{"abc"}), FamilyHash([]string{"ABC"}))
	})

	t.Run("single member", func(t *testing.T) {
		assert.Equal(t, "559aead08264d5795d3909718cdd05abd49572e84fe55590eef31a88a08fdffd", FamilyHash([]string{"A"}))
	})

	t.Run("does not reorder caller slice", func(t *testing.T) {
		members := []string{"B", "A"}
		FamilyHash(members)
		assert.Equal(t, []string{"B", "A"}, members)
	})
}

func TestGenerateBonusCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := GenerateBonusCode()
		require.NoError(t, err)
		require.Len(t, code, BonusCodeLength)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(bonusCodeAlphabet, r), "unexpected rune %q", r)
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 190)
}

func TestBonusAmount(t *testing.T) {
	tests := []struct {
		size       int
		amount     int
		taxBenefit int
	}{
		{0, 0, 0},
		{1, 150, 30},
		{2, 250, 50},
		{3, 500, 100},
		{7, 500, 100},
	}

	for _, tt := range tests {
		amount, benefit := BonusAmount(tt.size)
		assert.Equal(t, tt.amount, amount, "size %d", tt.size)
		assert.Equal(t, tt.taxBenefit, benefit, "size %d", tt.size)
	}
}

func TestRuntimeStatus_IsTerminal(t *testing.T) {
	assert.False(t, RuntimePending.IsTerminal())
	assert.False(t, RuntimeRunning.IsTerminal())
	assert.True(t, RuntimeCompleted.IsTerminal())
	assert.True(t, RuntimeFailed.IsTerminal())
	assert.True(t, RuntimeTerminated.IsTerminal())
}

func TestUserBonusesFor(t *testing.T) {
	a := &BonusActivation{
		ID:          "CODE",
		ApplicantID: "A",
		DSU:         DSURequest{FamilyMembers: []string{"A", "B"}},
	}
	rows := UserBonusesFor(a, a.CreatedAt)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].IsApplicant)
	assert.False(t, rows[1].IsApplicant)
	assert.Equal(t, "CODE", rows[1].BonusID)
}
