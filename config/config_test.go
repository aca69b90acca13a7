package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/chatdrop/settings"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("listen: ':9000'\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9000" || cfg.Name != "chatdrop" || cfg.Database != "data/chatdrop.db" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.Browser.Headless || !cfg.Browser.Stealth {
		t.Fatalf("browser = %+v", cfg.Browser)
	}
	if cfg.Router.CallTimeout != 35*time.Second || cfg.Detection.Timeout != 30*time.Second || cfg.Detection.QuietPeriod != 5*time.Second {
		t.Fatalf("timeouts = %+v %+v", cfg.Router, cfg.Detection)
	}
	if cfg.Heartbeat.Stale != 2*time.Minute {
		t.Fatalf("stale = %s", cfg.Heartbeat.Stale)
	}
}

func TestParse_Full(t *testing.T) {
	yml := `
name: desk
token: abc
browser:
  headless: false
  remote_url: ws://127.0.0.1:9222/devtools/browser/x
  resource_blocking: [images, fonts]
router:
  call_timeout: 60s
detection:
  timeout: 45s
knowledge:
  markdown: true
acquire:
  bearer_token: sk-1
  bearer_hosts: [files.chat.local]
seed:
  primary_url: https://chat.local
  fallback_url: https://chat.example.org
  summary_language: fr
`
	cfg, err := Parse([]byte(yml))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Browser.Headless || cfg.Browser.RemoteURL == "" || len(cfg.Browser.ResourceBlocking) != 2 {
		t.Fatalf("browser = %+v", cfg.Browser)
	}
	if cfg.Router.CallTimeout != time.Minute || cfg.Detection.Timeout != 45*time.Second || !cfg.Knowledge.Markdown {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Acquire.BearerToken != "sk-1" || len(cfg.Acquire.BearerHosts) != 1 || cfg.Acquire.NoBrowserCookies {
		t.Fatalf("acquire = %+v", cfg.Acquire)
	}
	if cfg.Seed == nil || cfg.Seed.FallbackURL != "https://chat.example.org" || cfg.Seed.SummaryLanguage != "fr" {
		t.Fatalf("seed = %+v", cfg.Seed)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":             "listen: [",
		"detection too long":   "detection:\n  timeout: 40s\n",
		"quiet exceeds window": "detection:\n  timeout: 10s\n  quiet_period: 10s\n",
	}
	for name, yml := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(yml)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatdrop.yaml")
	if err := os.WriteFile(path, []byte("name: from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "from-file" {
		t.Fatalf("name = %q", cfg.Name)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "config: read") {
		t.Fatalf("missing file: %v", err)
	}
}

type noProbe struct{}

func (noProbe) ProbablyReachable(context.Context, string) bool { return false }

func TestSeedSettings(t *testing.T) {
	ctx := context.Background()
	cfg, err := Parse([]byte("seed:\n  primary_url: https://chat.local\n"))
	if err != nil {
		t.Fatal(err)
	}
	store := settings.NewMemory()

	wrote, err := cfg.SeedSettings(ctx, store, noProbe{})
	if err != nil || !wrote {
		t.Fatalf("first seed: wrote=%v err=%v", wrote, err)
	}
	if got, _ := settings.String(ctx, store, settings.Synced, settings.KeyPrimaryURL); got != "https://chat.local" {
		t.Fatalf("primary = %q", got)
	}

	store.Set(ctx, settings.Synced, map[string]string{settings.KeyPrimaryURL: "https://user.choice"})
	wrote, err = cfg.SeedSettings(ctx, store, noProbe{})
	if err != nil || wrote {
		t.Fatalf("second seed: wrote=%v err=%v", wrote, err)
	}
	if got, _ := settings.String(ctx, store, settings.Synced, settings.KeyPrimaryURL); got != "https://user.choice" {
		t.Fatalf("user setting overwritten: %q", got)
	}
}
