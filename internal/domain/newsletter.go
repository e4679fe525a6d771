package domain

import (
	"errors"
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
)

const (
	maxTitleGraphemes = 200
	maxHTMLLength     = 100000
	maxTextLength     = 50000
)

// Newsletter is a fully validated newsletter payload, ready to be stored
// as an immutable issue.
type Newsletter struct {
	Title NewsletterTitle
	HTML  NewsletterHTML
	Text  NewsletterText
}

// NewNewsletter validates all three content parts and returns the first
// validation error encountered.
func NewNewsletter(title, html, text string) (*Newsletter, error) {
	t, err := ParseTitle(title)
	if err != nil {
		return nil, err
	}
	h, err := ParseHTML(html)
	if err != nil {
		return nil, err
	}
	x, err := ParseText(text)
	if err != nil {
		return nil, err
	}
	return &Newsletter{Title: t, HTML: h, Text: x}, nil
}

// NewsletterTitle is a non-empty subject line of at most 200 user-perceived
// characters that is not purely numeric.
type NewsletterTitle string

// ParseTitle validates a newsletter title.
func ParseTitle(s string) (NewsletterTitle, error) {
	trimmed := strings.TrimSpace(s)

	if trimmed == "" {
		return "", errors.New("invalid newsletter title: cannot be empty")
	}
	if uniseg.GraphemeClusterCount(trimmed) > maxTitleGraphemes {
		return "", errors.New("invalid newsletter title: cannot be longer than 200 characters")
	}

	hasNonNumeric := false
	for _, r := range trimmed {
		if !unicode.IsNumber(r) && !unicode.IsSpace(r) {
			hasNonNumeric = true
			break
		}
	}
	if !hasNonNumeric {
		return "", errors.New("invalid newsletter title: cannot contain only numbers")
	}

	return NewsletterTitle(trimmed), nil
}

func (t NewsletterTitle) String() string { return string(t) }

// NewsletterHTML is a non-empty HTML body of at most 100,000 characters
// containing at least one real tag.
type NewsletterHTML string

// ParseHTML validates a newsletter HTML body.
func ParseHTML(s string) (NewsletterHTML, error) {
	trimmed := strings.TrimSpace(s)

	if trimmed == "" {
		return "", errors.New("invalid newsletter HTML: cannot be empty")
	}
	if len(trimmed) > maxHTMLLength {
		return "", errors.New("invalid newsletter HTML: cannot be longer than 100,000 characters")
	}
	if !containsHTMLTag(trimmed) {
		return "", errors.New("invalid newsletter HTML: must contain valid HTML tags")
	}

	return NewsletterHTML(trimmed), nil
}

func (h NewsletterHTML) String() string { return string(h) }

// NewsletterText is a non-empty plain-text body of at most 50,000 characters.
type NewsletterText string

// ParseText validates a newsletter plain-text body.
func ParseText(s string) (NewsletterText, error) {
	trimmed := strings.TrimSpace(s)

	if trimmed == "" {
		return "", errors.New("invalid newsletter text: cannot be empty")
	}
	if len(trimmed) > maxTextLength {
		return "", errors.New("invalid newsletter text: cannot be longer than 50,000 characters")
	}

	return NewsletterText(trimmed), nil
}

func (t NewsletterText) String() string { return string(t) }

// containsHTMLTag reports whether s contains at least one <tag> with real
// content between the brackets. Plain text like "a < b > c" does not count.
func containsHTMLTag(s string) bool {
	inTag := false
	hasTagContent := false

	for _, c := range s {
		switch {
		case c == '<':
			inTag = true
			hasTagContent = false
		case c == '>' && inTag:
			if hasTagContent {
				return true
			}
			inTag = false
		case inTag && (unicode.IsLetter(c) || unicode.IsDigit(c) || c == '/' || c == '!'):
			hasTagContent = true
		}
	}

	return false
}
