package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RELAY_HTTP_ADDR", "")
	t.Setenv("RELAY_RULES_FILE", "")
	t.Setenv("RELAY_ARCHIVE_SQLITE_PATH", "")
	t.Setenv("RELAY_ARCHIVE_BATCH_SIZE", "")
	t.Setenv("RELAY_ARCHIVE_FLUSH_MAX_MS", "")
	t.Setenv("RELAY_HTTP_TIMEOUT_MS", "")
	t.Setenv("RELAY_DISCOVERY_INTERVAL_MS", "")
	t.Setenv("RELAY_WATCH", "")

	cfg := Load()
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("unexpected http addr: %q", cfg.HTTP.Addr)
	}
	if cfg.RulesFile != "rules.yaml" {
		t.Fatalf("unexpected rules file: %q", cfg.RulesFile)
	}
	if cfg.ArchiveEnabled() {
		t.Fatalf("archive should be disabled without a path")
	}
	if cfg.Batch() != 1 {
		t.Fatalf("expected default batch size 1, got %d", cfg.Batch())
	}
	if cfg.FlushInterval() != 0 {
		t.Fatalf("expected zero flush interval, got %s", cfg.FlushInterval())
	}
	if cfg.HTTPTimeout() != 15*time.Second {
		t.Fatalf("expected default http timeout 15s, got %s", cfg.HTTPTimeout())
	}
	if cfg.DiscoveryInterval() != time.Minute {
		t.Fatalf("expected default discovery interval 60s, got %s", cfg.DiscoveryInterval())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RELAY_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("RELAY_RULES_FILE", "/etc/relay/rules.yaml")
	t.Setenv("RELAY_ARCHIVE_SQLITE_PATH", "/data/relay.db")
	t.Setenv("RELAY_ARCHIVE_BATCH_SIZE", "25")
	t.Setenv("RELAY_ARCHIVE_FLUSH_MAX_MS", "250")
	t.Setenv("RELAY_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("RELAY_MEMBER_CHANNEL_IDS", "UCaaa, UCbbb, UCaaa")
	t.Setenv("RELAY_WATCH", "dQw4w9WgXcQ")
	t.Setenv("RELAY_TRACE_EVENTS", "true")

	cfg := Load()
	if cfg.HTTP.Addr != "127.0.0.1:9999" {
		t.Fatalf("http addr not applied: %q", cfg.HTTP.Addr)
	}
	if !cfg.ArchiveEnabled() || cfg.Archive.SQLitePath != "/data/relay.db" {
		t.Fatalf("archive config not applied: %+v", cfg.Archive)
	}
	if cfg.Batch() != 25 || cfg.FlushInterval() != 250*time.Millisecond {
		t.Fatalf("archive tuning not applied: %+v", cfg.Archive)
	}
	if len(cfg.YouTube.MemberChannelIDs) != 2 {
		t.Fatalf("member ids not deduped: %v", cfg.YouTube.MemberChannelIDs)
	}
	if len(cfg.Watch) != 1 || cfg.Watch[0] != "dQw4w9WgXcQ" {
		t.Fatalf("watch list not applied: %v", cfg.Watch)
	}
	if !cfg.TraceAll {
		t.Fatalf("trace flag not applied")
	}
}

func TestRedactedHidesToken(t *testing.T) {
	t.Setenv("RELAY_TELEGRAM_TOKEN", "123456:supersecret")
	cfg := Load()
	out := string(cfg.RedactedJSON())
	if strings.Contains(out, "supersecret") {
		t.Fatalf("token leaked into redacted output")
	}
	if !strings.Contains(out, "REDACTED") {
		t.Fatalf("redaction marker missing: %s", out)
	}
}

const testRules = `destinations:
  D1: -1001234
tracks:
  - destinationId: D1
    allowNormalChat: true
    filterKeywords: [release]
discoveryChannelIds: [UCaaa]
allowedAuthorChannelIds: [UCbbb]
`

func writeRules(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func TestLoadRules(t *testing.T) {
	rules, err := LoadRules(writeRules(t, testRules))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rules.Destinations["D1"] != -1001234 {
		t.Fatalf("destinations = %v", rules.Destinations)
	}
	if len(rules.Tracks) != 1 || rules.Tracks[0].FilterKeywords[0] != "release" {
		t.Fatalf("tracks = %+v", rules.Tracks)
	}
	if len(rules.DiscoveryChannelIDs) != 1 || len(rules.AllowedAuthorChannelIDs) != 1 {
		t.Fatalf("channel lists = %+v", rules)
	}
}

func TestLoadRulesRejectsUnknownDestination(t *testing.T) {
	body := `destinations:
  D1: -1
tracks:
  - destinationId: D9
    allowNormalChat: true
`
	if _, err := LoadRules(writeRules(t, body)); err == nil {
		t.Fatalf("expected unknown destination error")
	}
}

func TestLoadRulesRejectsDeadTrack(t *testing.T) {
	body := `destinations:
  D1: -1
tracks:
  - destinationId: D1
`
	if _, err := LoadRules(writeRules(t, body)); err == nil {
		t.Fatalf("expected error for track allowing no chat mode")
	}
}

func TestWatchRulesFileReloads(t *testing.T) {
	path := writeRules(t, testRules)

	var applied atomic.Int64
	if err := WatchRulesFile(path, func(Rules) { applied.Add(1) }); err != nil {
		t.Fatalf("watch: %v", err)
	}

	updated := strings.Replace(testRules, "release", "launch", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite rules: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for applied.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("rules change never applied")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
