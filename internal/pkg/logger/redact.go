package logger

import "strings"

// RedactEmail masks an address down to a two-character hint and the domain,
// so delivery logs stay correlatable per recipient without storing the
// address itself. Local parts of two characters or fewer are fully masked.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "***@***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}
