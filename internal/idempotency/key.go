// Package idempotency implements the publish deduplication boundary: a
// (user, key) pair maps to at most one recorded HTTP response, and the
// record row itself doubles as a cross-process mutual-exclusion lock while
// the first request is still in flight.
package idempotency

import (
	"errors"
	"fmt"
)

const maxKeyLength = 50

// Key is a validated caller-supplied idempotency token.
type Key string

// ParseKey validates the Idempotency-Key header value. An absent or empty
// key is a client error — requests are never silently deduplicated-off.
func ParseKey(s string) (Key, error) {
	if s == "" {
		return "", errors.New("the idempotency key cannot be empty")
	}
	if len(s) > maxKeyLength {
		return "", fmt.Errorf("the idempotency key must be shorter than %d characters", maxKeyLength)
	}
	return Key(s), nil
}

func (k Key) String() string { return string(k) }
