// Package settings is the key-value store shared by every chatdrop context.
//
// Two tiers exist. The synced tier holds user configuration (backend URLs,
// prompt preferences, API credentials) and is the one whose changes the
// background worker reacts to. The local tier holds derived, per-device
// state (the resolved active endpoint, pending flags). Values are strings;
// structured values are stored as JSON.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Tier selects a settings namespace.
type Tier string

const (
	Synced Tier = "sync"
	Local  Tier = "local"
)

// Synced-tier keys.
const (
	KeyPrimaryURL            = "primaryUrl"
	KeyFallbackURL           = "fallbackUrl"
	KeySummaryLanguage       = "summaryLanguage"
	KeyOverridePrompt        = "overridePrompt"
	KeyCustomPrompt          = "customPrompt"
	KeyEnableAPIAccess       = "enableApiAccess"
	KeyAPIKey                = "apiKey"
	KeyKnowledgeCollectionID = "knowledgeCollectionId"
	KeyLastReachabilityCheck = "lastReachabilityCheck"
)

// Local-tier keys.
const (
	KeyActiveURL            = "activeUrl"
	KeyActiveURLSource      = "activeUrlSource"
	KeyLastURLCheck         = "lastUrlCheck"
	KeyPendingSummary       = "pendingSummaryFlag"
	KeyLastUsedCollectionID = "lastUsedCollectionId"
)

// Delta describes how one key changed.
type Delta struct {
	Old     string
	New     string
	Deleted bool
}

// Change is delivered to subscribers after a write commits.
type Change struct {
	Tier   Tier
	Deltas map[string]Delta
}

// Touches reports whether any of keys changed.
func (c Change) Touches(keys ...string) bool {
	for _, k := range keys {
		if _, ok := c.Deltas[k]; ok {
			return true
		}
	}
	return false
}

// Store is implemented by Memory and SQLite.
//
// Subscribers run on the goroutine that committed the write and must not
// block; hand long work to another goroutine.
type Store interface {
	// Get returns the present values among keys. Missing keys are absent
	// from the map.
	Get(ctx context.Context, tier Tier, keys ...string) (map[string]string, error)
	Set(ctx context.Context, tier Tier, values map[string]string) error
	Remove(ctx context.Context, tier Tier, keys ...string) error
	Subscribe(fn func(Change)) (unsubscribe func())
}

// String returns one value, or "" when missing.
func String(ctx context.Context, s Store, tier Tier, key string) (string, error) {
	m, err := s.Get(ctx, tier, key)
	if err != nil {
		return "", err
	}
	return m[key], nil
}

// Bool parses a stored boolean. Missing or unparsable values are false.
func Bool(ctx context.Context, s Store, tier Tier, key string) (bool, error) {
	v, err := String(ctx, s, tier, key)
	if err != nil {
		return false, err
	}
	b, _ := strconv.ParseBool(v)
	return b, nil
}

// FormatBool is the storage form of a boolean.
func FormatBool(b bool) string { return strconv.FormatBool(b) }

// GetJSON decodes a JSON value into dst. It reports false when the key is
// missing.
func GetJSON(ctx context.Context, s Store, tier Tier, key string, dst any) (bool, error) {
	m, err := s.Get(ctx, tier, key)
	if err != nil {
		return false, err
	}
	raw, ok := m[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("settings: decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v as JSON under key.
func SetJSON(ctx context.Context, s Store, tier Tier, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("settings: encode %s: %w", key, err)
	}
	return s.Set(ctx, tier, map[string]string{key: string(data)})
}

// subscribers is the fan-out shared by both store implementations.
type subscribers struct {
	next int
	fns  map[int]func(Change)
}

func (s *subscribers) add(fn func(Change)) int {
	if s.fns == nil {
		s.fns = make(map[int]func(Change))
	}
	s.next++
	s.fns[s.next] = fn
	return s.next
}

func (s *subscribers) snapshot() []func(Change) {
	out := make([]func(Change), 0, len(s.fns))
	for i := 1; i <= s.next; i++ {
		if fn, ok := s.fns[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}
