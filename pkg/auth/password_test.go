package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndComparePassword(t *testing.T) {
	hash, err := HashPassword("Tr0ub4dour&Horse!")
	require.NoError(t, err)
	assert.NotEqual(t, "Tr0ub4dour&Horse!", hash)

	assert.NoError(t, ComparePassword(hash, "Tr0ub4dour&Horse!"))
	assert.Error(t, ComparePassword(hash, "wrong"))
}

func TestHashPassword_Empty(t *testing.T) {
	_, err := HashPassword("")
	assert.Error(t, err)
}

func TestValidatePassword_AllRulesHold(t *testing.T) {
	check := ValidatePassword("Vx9!mRk#2pLw", &PolicyContext{})
	assert.True(t, check.Valid)
	assert.Empty(t, check.Errors)
	assert.Greater(t, check.Strength, 0)
}

func TestValidatePassword_RuleViolations(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  string
	}{
		{"too short", "Vx9!m", "at least"},
		{"no uppercase", "vx9!mrk#2plw", "uppercase"},
		{"no lowercase", "VX9!MRK#2PLW", "lowercase"},
		{"no digit", "Vxq!mRk#xpLw", "digit"},
		{"no symbol", "Vx9amRkc2pLw", "symbol"},
		{"forbidden substring", "MyPassword9!xK", "password"},
		{"repeated run", "Vx9!mRaaa2pLw", "repeated"},
		{"ascending digits", "Vx1234!mRkpLw", "ascending"},
		{"ascending letters", "Vxabcd9!mRkLw", "ascending"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := ValidatePassword(tt.password, &PolicyContext{})
			assert.False(t, check.Valid)

			found := false
			for _, e := range check.Errors {
				if strings.Contains(e, tt.wantErr) {
					found = true
				}
			}
			assert.True(t, found, "expected error containing %q, got %v", tt.wantErr, check.Errors)
		})
	}
}

func TestValidatePassword_RejectsAccountContext(t *testing.T) {
	policyCtx := &PolicyContext{
		AccountName: "Hollis",
		Email:       "hollis.grey@example.com",
	}

	check := ValidatePassword("Xk2!hollisWq#9", policyCtx)
	assert.False(t, check.Valid)

	check = ValidatePassword("Xk2!hollis.greyW#9", policyCtx)
	assert.False(t, check.Valid)

	check = ValidatePassword("Xk2!wRbn#9qLzt", policyCtx)
	assert.True(t, check.Valid)
}

func TestValidatePassword_RejectsHistory(t *testing.T) {
	oldHash, err := HashPassword("OldSecret#9xLw")
	require.NoError(t, err)

	policyCtx := &PolicyContext{History: []string{oldHash}}

	check := ValidatePassword("OldSecret#9xLw", policyCtx)
	assert.False(t, check.Valid)
	assert.Contains(t, check.Errors[len(check.Errors)-1], "recently used")

	check = ValidatePassword("NewSecret#7qRz", policyCtx)
	assert.True(t, check.Valid)
}

func TestValidatePassword_StrengthBounds(t *testing.T) {
	// Strength stays in [0,100] even for pathological inputs
	weak := ValidatePassword("password123", &PolicyContext{})
	assert.GreaterOrEqual(t, weak.Strength, 0)
	assert.LessOrEqual(t, weak.Strength, 100)

	strong := ValidatePassword("Vq7!xKm#2rWp9tLz&Bd", &PolicyContext{})
	assert.GreaterOrEqual(t, strong.Strength, 0)
	assert.LessOrEqual(t, strong.Strength, 100)
	assert.Greater(t, strong.Strength, weak.Strength)
}

func TestValidatePassword_StrengthIsAdvisory(t *testing.T) {
	// A valid password with a low score is still valid
	check := ValidatePassword("Vx9!mRk#2pLw", &PolicyContext{})
	assert.True(t, check.Valid)
}

func TestValidatePassword_NilContextPanics(t *testing.T) {
	assert.Panics(t, func() {
		ValidatePassword("Vx9!mRk#2pLw", nil)
	})
}

func TestDeviceFingerprint_Deterministic(t *testing.T) {
	fp1 := DeviceFingerprint("203.0.113.7", "Mozilla/5.0", "salt")
	fp2 := DeviceFingerprint("203.0.113.7", "Mozilla/5.0", "salt")
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 32)

	assert.NotEqual(t, fp1, DeviceFingerprint("203.0.113.8", "Mozilla/5.0", "salt"))
	assert.NotEqual(t, fp1, DeviceFingerprint("203.0.113.7", "curl/8.0", "salt"))
	assert.NotEqual(t, fp1, DeviceFingerprint("203.0.113.7", "Mozilla/5.0", "other"))
}

func TestGenerateSessionToken(t *testing.T) {
	plaintext, hash, err := GenerateSessionToken()
	require.NoError(t, err)
	assert.NotEmpty(t, plaintext)
	assert.Equal(t, HashSessionToken(plaintext), hash)

	plaintext2, _, err := GenerateSessionToken()
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, plaintext2)
}
