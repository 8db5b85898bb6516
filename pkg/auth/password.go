package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MinPasswordLen = 8
	MaxPasswordLen = 16
)

// SymbolSet is the punctuation accepted as a special character
const SymbolSet = `!@#$%^&*()_+-=[]{};':"\|,.<>/?`

// Violation messages returned by ValidateComplexity
const (
	ViolationLength    = "Password must be between 8 and 16 characters"
	ViolationLowercase = "Password must contain at least one lowercase letter"
	ViolationUppercase = "Password must contain at least one uppercase letter"
	ViolationDigit     = "Password must contain at least one number"
	ViolationSymbol    = "Password must contain at least one special character"
	ViolationIdentity  = "Password cannot be the same as username"
)

// ComplexityResult holds every rule the password failed
type ComplexityResult struct {
	Valid      bool
	Violations []string
}

type charClasses struct {
	lower, upper, digit, symbol bool
}

func classify(password string) charClasses {
	var c charClasses
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			c.lower = true
		case r >= 'A' && r <= 'Z':
			c.upper = true
		case unicode.IsDigit(r) && r < utf8.RuneSelf:
			c.digit = true
		case strings.ContainsRune(SymbolSet, r):
			c.symbol = true
		}
	}
	return c
}

// ValidateComplexity checks every rule and collects all violations.
// identityHint is usually the account email.
func ValidateComplexity(password, identityHint string) ComplexityResult {
	violations := make([]string, 0)

	n := utf8.RuneCountInString(password)
	if n < MinPasswordLen || n > MaxPasswordLen {
		violations = append(violations, ViolationLength)
	}

	c := classify(password)
	if !c.lower {
		violations = append(violations, ViolationLowercase)
	}
	if !c.upper {
		violations = append(violations, ViolationUppercase)
	}
	if !c.digit {
		violations = append(violations, ViolationDigit)
	}
	if !c.symbol {
		violations = append(violations, ViolationSymbol)
	}

	if identityHint != "" && strings.EqualFold(password, identityHint) {
		violations = append(violations, ViolationIdentity)
	}

	return ComplexityResult{
		Valid:      len(violations) == 0,
		Violations: violations,
	}
}

// StrengthScore is advisory only: one point each for length, lower, upper, digit, symbol
func StrengthScore(password string) int {
	score := 0
	if utf8.RuneCountInString(password) >= MinPasswordLen {
		score++
	}

	c := classify(password)
	for _, ok := range []bool{c.lower, c.upper, c.digit, c.symbol} {
		if ok {
			score++
		}
	}
	return score
}

// StrengthLabel maps a score to the label shown by clients
func StrengthLabel(score int) string {
	switch {
	case score <= 1:
		return "Very Weak"
	case score == 2:
		return "Weak"
	case score == 3:
		return "Fair"
	case score == 4:
		return "Good"
	default:
		return "Strong"
	}
}
