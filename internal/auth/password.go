package auth

import (
	"regexp"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

var (
	upperPattern   = regexp.MustCompile(`[A-Z]`)
	lowerPattern   = regexp.MustCompile(`[a-z]`)
	digitPattern   = regexp.MustCompile(`\d`)
	specialPattern = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)
)

// HashPassword hashes a plaintext password with configured cost.
func HashPassword(password string, cost int) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ComparePassword verifies a password against its hashed value.
func ComparePassword(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}

// CheckPasswordStrength returns a human readable reason the password is too
// weak, or "" when it satisfies every rule.
func CheckPasswordStrength(password string) string {
	switch {
	case utf8.RuneCountInString(password) < MinPasswordLength:
		return "Password must be at least 8 characters long"
	case !upperPattern.MatchString(password):
		return "Password must contain at least one uppercase letter"
	case !lowerPattern.MatchString(password):
		return "Password must contain at least one lowercase letter"
	case !digitPattern.MatchString(password):
		return "Password must contain at least one number"
	case !specialPattern.MatchString(password):
		return "Password must contain at least one special character"
	}
	return ""
}
