package notify

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// NormalizeEmail trims and lowercases an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail checks basic address syntax plus the stricter dot rules: no
// consecutive dots and no dot next to '@' or at either end.
func ValidEmail(email string) bool {
	if email == "" {
		return false
	}
	if err := validate.Var(email, "required,email"); err != nil {
		return false
	}
	if strings.Contains(email, "..") {
		return false
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	local, domain := email[:at], email[at+1:]
	for _, part := range []string{local, domain} {
		if strings.HasPrefix(part, ".") || strings.HasSuffix(part, ".") {
			return false
		}
	}
	return true
}
