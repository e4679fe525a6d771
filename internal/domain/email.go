package domain

import (
	"fmt"
	"regexp"
)

// RecipientEmail is a syntactically valid subscriber address. Queue rows
// store raw strings, so the worker re-parses every address before handing
// it to the email client.
type RecipientEmail string

var recipientRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ParseRecipient validates a stored subscriber address.
func ParseRecipient(s string) (RecipientEmail, error) {
	if !recipientRegex.MatchString(s) {
		return "", fmt.Errorf("invalid recipient address")
	}
	return RecipientEmail(s), nil
}

func (e RecipientEmail) String() string { return string(e) }
