package lifecycle

import (
	"regexp"

	"github.com/painelssh/sshpanel/internal/apperr"
)

// Logins and secrets travel unquoted inside agent shell commands, so both
// are restricted to characters the shell passes through verbatim.
var (
	loginPattern  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.-]{1,31}$`)
	secretPattern = regexp.MustCompile(`^[a-zA-Z0-9@%+=:,._-]{6,64}$`)
)

const (
	maxConnectionsLimit = 100
	maxRenewDays        = 3650
)

func validateLogin(login string) error {
	if !loginPattern.MatchString(login) {
		return apperr.Invalid("login", "must be 2-32 characters of letters, digits, '_', '.' or '-', starting with a letter or '_'")
	}
	return nil
}

func validateSecret(secret string) error {
	if !secretPattern.MatchString(secret) {
		return apperr.Invalid("secret", "must be 6-64 characters without spaces or shell metacharacters")
	}
	return nil
}

func validateMaxConnections(n int) error {
	if n < 1 || n > maxConnectionsLimit {
		return apperr.Invalid("max_connections", "must be between 1 and %d", maxConnectionsLimit)
	}
	return nil
}

func validateDays(days int) error {
	if days < 1 || days > maxRenewDays {
		return apperr.Invalid("days", "must be between 1 and %d", maxRenewDays)
	}
	return nil
}
