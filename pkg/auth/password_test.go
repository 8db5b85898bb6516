package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateComplexity(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		hint       string
		violations []string
	}{
		{
			name:       "valid strong password",
			password:   "Str0ng!Pass",
			hint:       "a@b.com",
			violations: []string{},
		},
		{
			name:       "short lowercase only",
			password:   "abc",
			violations: []string{ViolationLength, ViolationUppercase, ViolationDigit, ViolationSymbol},
		},
		{
			name:       "too long",
			password:   "Abcdefgh1!abcdefg",
			violations: []string{ViolationLength},
		},
		{
			name:       "exactly sixteen characters",
			password:   "Abcdefgh1!abcdef",
			violations: []string{},
		},
		{
			name:       "missing uppercase",
			password:   "securep@ss1",
			violations: []string{ViolationUppercase},
		},
		{
			name:       "missing lowercase",
			password:   "SECUREP@SS1",
			violations: []string{ViolationLowercase},
		},
		{
			name:       "missing digit",
			password:   "SecureP@ss",
			violations: []string{ViolationDigit},
		},
		{
			name:       "missing special character",
			password:   "SecurePass1",
			violations: []string{ViolationSymbol},
		},
		{
			name:       "symbol outside the accepted set",
			password:   "SecurePass1~",
			violations: []string{ViolationSymbol},
		},
		{
			name:       "equals identity case-insensitively",
			password:   "Ab1!cd@x.io",
			hint:       "ab1!CD@X.IO",
			violations: []string{ViolationIdentity},
		},
		{
			name:       "empty password fails every character rule",
			password:   "",
			violations: []string{ViolationLength, ViolationLowercase, ViolationUppercase, ViolationDigit, ViolationSymbol},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateComplexity(tt.password, tt.hint)

			assert.Equal(t, len(tt.violations) == 0, result.Valid)
			assert.ElementsMatch(t, tt.violations, result.Violations)
		})
	}
}

func TestStrengthScore(t *testing.T) {
	tests := []struct {
		password string
		score    int
		label    string
	}{
		{"", 0, "Very Weak"},
		{"abc", 1, "Very Weak"},
		{"abcdefgh", 2, "Weak"},
		{"abcdefgH", 3, "Fair"},
		{"abcdefH1", 4, "Good"},
		{"Str0ng!Pass", 5, "Strong"},
		{"Abcdefgh1!abcdefghij", 5, "Strong"},
	}

	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			score := StrengthScore(tt.password)
			assert.Equal(t, tt.score, score)
			assert.Equal(t, tt.label, StrengthLabel(score))
		})
	}
}

func TestStrengthScore_DoesNotGate(t *testing.T) {
	// a five-point password can still violate the length ceiling
	pwd := "Abcdefgh1!" + strings.Repeat("x", 10)
	assert.Equal(t, 5, StrengthScore(pwd))
	assert.False(t, ValidateComplexity(pwd, "").Valid)
}
