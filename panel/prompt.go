package panel

import (
	"context"
	"fmt"

	"github.com/hazyhaar/chatdrop/settings"
)

// Languages maps summaryLanguage codes to the language named in the
// default prompt. Unknown codes fall back to English.
var Languages = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
	"ru": "Russian",
	"ja": "Japanese",
	"ko": "Korean",
	"zh": "Chinese",
	"ar": "Arabic",
	"hi": "Hindi",
	"nl": "Dutch",
	"sv": "Swedish",
	"pl": "Polish",
}

// SummaryPrompt returns the custom prompt when overridePrompt is on and
// customPrompt is set, else "Summarize this in <language>".
func SummaryPrompt(ctx context.Context, store settings.Store) (string, error) {
	m, err := store.Get(ctx, settings.Synced,
		settings.KeyOverridePrompt, settings.KeyCustomPrompt, settings.KeySummaryLanguage)
	if err != nil {
		return "", fmt.Errorf("panel: load prompt settings: %w", err)
	}
	if m[settings.KeyOverridePrompt] == "true" && m[settings.KeyCustomPrompt] != "" {
		return m[settings.KeyCustomPrompt], nil
	}
	lang, ok := Languages[m[settings.KeySummaryLanguage]]
	if !ok {
		lang = "English"
	}
	return "Summarize this in " + lang, nil
}
