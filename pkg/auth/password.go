package auth

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost       = 14 // bcrypt cost for interactive logins
	DefaultMinLength = 12
	DefaultMaxLength = 128
)

// PolicyContext carries the account-specific inputs for credential
// validation. History holds the account's last K password hashes.
type PolicyContext struct {
	AccountName string
	Email       string
	History     []string
	MinLength   int
	MaxLength   int
}

// PasswordCheck is the outcome of a policy validation. Strength is
// advisory only; the Errors list alone decides Valid.
type PasswordCheck struct {
	Valid    bool
	Errors   []string
	Strength int // 0..100
}

// Forbidden substrings rejected regardless of the rest of the password
var forbiddenSubstrings = []string{
	"password", "qwerty", "letmein", "welcome", "iloveyou",
	"admin", "monkey", "dragon", "master", "sunshine",
	"princess", "starwars", "football", "trustno1", "abc123",
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// ValidatePassword checks a candidate password against the credential
// policy. All rules must hold for Valid=true. The strength score is
// surfaced to the caller but never itself blocks authentication.
// policyCtx must not be nil: the name, email, and history rules are
// meaningless without it, so a nil context is a caller bug.
func ValidatePassword(password string, policyCtx *PolicyContext) PasswordCheck {
	if policyCtx == nil {
		panic("auth: ValidatePassword called with nil policy context")
	}

	minLen := policyCtx.MinLength
	if minLen == 0 {
		minLen = DefaultMinLength
	}
	maxLen := policyCtx.MaxLength
	if maxLen == 0 {
		maxLen = DefaultMaxLength
	}

	check := PasswordCheck{}
	penalties := 0

	if len(password) < minLen {
		check.Errors = append(check.Errors, fmt.Sprintf("must be at least %d characters", minLen))
	}
	if len(password) > maxLen {
		check.Errors = append(check.Errors, fmt.Sprintf("must be at most %d characters", maxLen))
	}

	hasUpper, hasLower, hasDigit, hasSymbol := classCoverage(password)
	if !hasUpper {
		check.Errors = append(check.Errors, "must contain at least one uppercase letter")
	}
	if !hasLower {
		check.Errors = append(check.Errors, "must contain at least one lowercase letter")
	}
	if !hasDigit {
		check.Errors = append(check.Errors, "must contain at least one digit")
	}
	if !hasSymbol {
		check.Errors = append(check.Errors, "must contain at least one symbol")
	}

	lower := strings.ToLower(password)

	for _, forbidden := range forbiddenSubstrings {
		if strings.Contains(lower, forbidden) {
			check.Errors = append(check.Errors, fmt.Sprintf("must not contain %q", forbidden))
			penalties++
		}
	}

	if hasRepeatedRun(password, 3) {
		check.Errors = append(check.Errors, "must not contain 3 or more repeated characters")
		penalties++
	}

	if hasAscendingRun(lower, 4) {
		check.Errors = append(check.Errors, "must not contain ascending character sequences")
		penalties++
	}

	if name := strings.ToLower(strings.TrimSpace(policyCtx.AccountName)); name != "" && strings.Contains(lower, name) {
		check.Errors = append(check.Errors, "must not contain your account name")
		penalties++
	}

	if local := emailLocalPart(policyCtx.Email); local != "" && strings.Contains(lower, local) {
		check.Errors = append(check.Errors, "must not contain your email address")
		penalties++
	}

	for _, oldHash := range policyCtx.History {
		if bcrypt.CompareHashAndPassword([]byte(oldHash), []byte(password)) == nil {
			check.Errors = append(check.Errors, "must not match a recently used password")
			break
		}
	}

	check.Strength = strengthScore(password, hasUpper, hasLower, hasDigit, hasSymbol, penalties)
	check.Valid = len(check.Errors) == 0

	return check
}

func classCoverage(password string) (hasUpper, hasLower, hasDigit, hasSymbol bool) {
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return
}

// strengthScore: length-weighted base plus a bonus per character class,
// penalized per forbidden-pattern match, clamped to [0,100].
func strengthScore(password string, hasUpper, hasLower, hasDigit, hasSymbol bool, penalties int) int {
	score := len(password) * 40 / 16
	if score > 40 {
		score = 40
	}

	for _, present := range []bool{hasUpper, hasLower, hasDigit, hasSymbol} {
		if present {
			score += 10
		}
	}

	if len(password) >= 16 {
		score += 15
	}

	score -= penalties * 25

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// hasRepeatedRun reports whether any character repeats n or more times in a row
func hasRepeatedRun(s string, n int) bool {
	run := 1
	var prev rune
	for i, r := range s {
		if i > 0 && r == prev {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 1
		}
		prev = r
	}
	return false
}

// hasAscendingRun reports whether s contains n consecutive ascending
// digits or letters ("1234", "abcd")
func hasAscendingRun(s string, n int) bool {
	runes := []rune(s)
	run := 1
	for i := 1; i < len(runes); i++ {
		sameClass := (isDigitRune(runes[i]) && isDigitRune(runes[i-1])) ||
			(isLetterRune(runes[i]) && isLetterRune(runes[i-1]))
		if sameClass && runes[i] == runes[i-1]+1 {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

func isDigitRune(r rune) bool  { return r >= '0' && r <= '9' }
func isLetterRune(r rune) bool { return r >= 'a' && r <= 'z' }

func emailLocalPart(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.Index(email, "@")
	if at <= 0 {
		return ""
	}
	return email[:at]
}
