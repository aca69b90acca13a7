package endpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/chatdrop/settings"
)

// Options is the full user configuration edited as one unit.
type Options struct {
	PrimaryURL            string `json:"primaryUrl" yaml:"primary_url"`
	FallbackURL           string `json:"fallbackUrl" yaml:"fallback_url"`
	SummaryLanguage       string `json:"summaryLanguage" yaml:"summary_language"`
	OverridePrompt        bool   `json:"overridePrompt" yaml:"override_prompt"`
	CustomPrompt          string `json:"customPrompt" yaml:"custom_prompt"`
	EnableAPIAccess       bool   `json:"enableApiAccess" yaml:"enable_api_access"`
	APIKey                string `json:"apiKey,omitempty" yaml:"api_key"`
	KnowledgeCollectionID string `json:"knowledgeCollectionId" yaml:"knowledge_collection_id"`
}

// ReachabilityCheck records what was observed the last time Options were
// saved. It is informational; resolution always probes afresh.
type ReachabilityCheck struct {
	Internal  bool  `json:"internal"`
	External  bool  `json:"external"`
	Timestamp int64 `json:"timestamp"`
}

// SaveReport lists the URLs that did not answer at save time.
type SaveReport struct {
	Check    ReachabilityCheck `json:"check"`
	Warnings []string          `json:"warnings,omitempty"`
}

// LoadOptions reads Options from the synced tier, applying the defaults a
// fresh install starts with.
func LoadOptions(ctx context.Context, store settings.Store) (Options, error) {
	m, err := store.Get(ctx, settings.Synced,
		settings.KeyPrimaryURL, settings.KeyFallbackURL, settings.KeySummaryLanguage,
		settings.KeyOverridePrompt, settings.KeyCustomPrompt, settings.KeyEnableAPIAccess,
		settings.KeyAPIKey, settings.KeyKnowledgeCollectionID)
	if err != nil {
		return Options{}, fmt.Errorf("endpoint: load options: %w", err)
	}
	o := Options{
		PrimaryURL:            PlaceholderURL,
		FallbackURL:           m[settings.KeyFallbackURL],
		SummaryLanguage:       "en",
		OverridePrompt:        m[settings.KeyOverridePrompt] == "true",
		CustomPrompt:          m[settings.KeyCustomPrompt],
		EnableAPIAccess:       m[settings.KeyEnableAPIAccess] == "true",
		APIKey:                m[settings.KeyAPIKey],
		KnowledgeCollectionID: m[settings.KeyKnowledgeCollectionID],
	}
	if v, ok := m[settings.KeyPrimaryURL]; ok {
		o.PrimaryURL = v
	}
	if v := m[settings.KeySummaryLanguage]; v != "" {
		o.SummaryLanguage = v
	}
	return o, nil
}

// SaveOptions probes each configured URL, then stores every field plus a
// ReachabilityCheck. Unreachable URLs are saved anyway and reported as
// warnings.
func SaveOptions(ctx context.Context, store settings.Store, p Prober, o Options) (*SaveReport, error) {
	rep := &SaveReport{}
	if o.PrimaryURL != "" {
		rep.Check.Internal = p.ProbablyReachable(ctx, o.PrimaryURL)
		if !rep.Check.Internal {
			rep.Warnings = append(rep.Warnings, "Internal URL is not reachable. It will be saved but may not work.")
		}
	}
	if o.FallbackURL != "" {
		rep.Check.External = p.ProbablyReachable(ctx, o.FallbackURL)
		if !rep.Check.External {
			rep.Warnings = append(rep.Warnings, "External URL is not reachable. It will be saved but may not work.")
		}
	}
	rep.Check.Timestamp = time.Now().UnixMilli()

	if err := store.Set(ctx, settings.Synced, map[string]string{
		settings.KeyPrimaryURL:            o.PrimaryURL,
		settings.KeyFallbackURL:           o.FallbackURL,
		settings.KeySummaryLanguage:       o.SummaryLanguage,
		settings.KeyOverridePrompt:        settings.FormatBool(o.OverridePrompt),
		settings.KeyCustomPrompt:          o.CustomPrompt,
		settings.KeyEnableAPIAccess:       settings.FormatBool(o.EnableAPIAccess),
		settings.KeyAPIKey:                o.APIKey,
		settings.KeyKnowledgeCollectionID: o.KnowledgeCollectionID,
	}); err != nil {
		return nil, fmt.Errorf("endpoint: save options: %w", err)
	}
	if err := settings.SetJSON(ctx, store, settings.Synced, settings.KeyLastReachabilityCheck, rep.Check); err != nil {
		return nil, err
	}
	return rep, nil
}
