// Package idgen generates identifiers for requests, deliveries and journal
// entries. UUIDv7 is the default: time-sortable, so journal rows stay in
// insertion order when sorted by id.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID
// (e.g. "req_", "drop_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the generator used by New.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Request is the generator for inbound control-API request IDs.
var Request = Prefixed("req_", UUIDv7())

// Parse validates a UUID string, optionally carrying a "xxx_" prefix, and
// returns it unchanged.
func Parse(s string) (string, error) {
	raw := s
	for i := 0; i < len(s) && i < 8; i++ {
		if s[i] == '_' {
			raw = s[i+1:]
			break
		}
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", fmt.Errorf("idgen: invalid id %q: %w", s, err)
	}
	return s, nil
}
