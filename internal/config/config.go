package config

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTP      HTTPConfig
	YouTube   YouTubeConfig
	Telegram  TelegramConfig
	Archive   ArchiveConfig
	Discovery DiscoveryConfig
	RulesFile string
	Watch     []string
	TraceAll  bool
}

type HTTPConfig struct {
	Addr string
}

type YouTubeConfig struct {
	BaseURL          string
	CookieFile       string
	HTTPTimeoutMS    int
	MemberChannelIDs []string
}

type TelegramConfig struct {
	Token string
}

type ArchiveConfig struct {
	SQLitePath string
	BatchSize  int
	FlushMaxMS int
}

type DiscoveryConfig struct {
	IntervalMS    int
	MaxLookups    int
	MaxBootstraps int
}

const (
	defaultHTTPAddr          = ":8080"
	defaultRulesFile         = "rules.yaml"
	defaultBatchSize         = 1
	defaultFlushMS           = 0
	defaultHTTPTimeoutMS     = 15000
	defaultDiscoveryInterval = 60000
	defaultMaxLookups        = 3
	defaultMaxBootstraps     = 3
)

func Load() Config {
	cfg := Config{}

	cfg.HTTP.Addr = strings.TrimSpace(os.Getenv("RELAY_HTTP_ADDR"))
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = defaultHTTPAddr
	}

	cfg.YouTube.BaseURL = strings.TrimSpace(os.Getenv("RELAY_YT_BASE_URL"))
	cfg.YouTube.CookieFile = strings.TrimSpace(os.Getenv("RELAY_COOKIE_FILE"))
	cfg.YouTube.HTTPTimeoutMS = readInt("RELAY_HTTP_TIMEOUT_MS", defaultHTTPTimeoutMS)
	cfg.YouTube.MemberChannelIDs = splitList(os.Getenv("RELAY_MEMBER_CHANNEL_IDS"))

	cfg.Telegram.Token = strings.TrimSpace(os.Getenv("RELAY_TELEGRAM_TOKEN"))

	cfg.Archive.SQLitePath = strings.TrimSpace(os.Getenv("RELAY_ARCHIVE_SQLITE_PATH"))
	cfg.Archive.BatchSize = readInt("RELAY_ARCHIVE_BATCH_SIZE", defaultBatchSize)
	cfg.Archive.FlushMaxMS = readInt("RELAY_ARCHIVE_FLUSH_MAX_MS", defaultFlushMS)

	cfg.Discovery.IntervalMS = readInt("RELAY_DISCOVERY_INTERVAL_MS", defaultDiscoveryInterval)
	cfg.Discovery.MaxLookups = readInt("RELAY_DISCOVERY_MAX_LOOKUPS", defaultMaxLookups)
	cfg.Discovery.MaxBootstraps = readInt("RELAY_DISCOVERY_MAX_BOOTSTRAPS", defaultMaxBootstraps)

	cfg.RulesFile = strings.TrimSpace(os.Getenv("RELAY_RULES_FILE"))
	if cfg.RulesFile == "" {
		cfg.RulesFile = defaultRulesFile
	}
	cfg.Watch = splitList(os.Getenv("RELAY_WATCH"))
	cfg.TraceAll = readBool("RELAY_TRACE_EVENTS", false)

	return cfg
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return dedupe(out)
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.TrimSpace(v)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.YouTube.HTTPTimeoutMS) * time.Millisecond
}

func (c Config) DiscoveryInterval() time.Duration {
	return time.Duration(c.Discovery.IntervalMS) * time.Millisecond
}

func (c Config) FlushInterval() time.Duration {
	if c.Archive.FlushMaxMS <= 0 {
		return 0
	}
	return time.Duration(c.Archive.FlushMaxMS) * time.Millisecond
}

func (c Config) Batch() int {
	if c.Archive.BatchSize <= 0 {
		return defaultBatchSize
	}
	return c.Archive.BatchSize
}

func (c Config) ArchiveEnabled() bool {
	return c.Archive.SQLitePath != ""
}

func (c Config) Redacted() map[string]any {
	payload := map[string]any{
		"http": map[string]any{
			"addr": c.HTTP.Addr,
		},
		"youtube": map[string]any{
			"base_url":        c.YouTube.BaseURL,
			"cookie_file":     c.YouTube.CookieFile,
			"http_timeout_ms": c.YouTube.HTTPTimeoutMS,
			"member_channels": len(c.YouTube.MemberChannelIDs),
		},
		"telegram": map[string]any{
			"token": redactString(c.Telegram.Token),
		},
		"archive": map[string]any{
			"sqlite_path": c.Archive.SQLitePath,
			"batch_size":  c.Archive.BatchSize,
			"flush_ms":    c.Archive.FlushMaxMS,
			"enabled":     c.ArchiveEnabled(),
		},
		"discovery": map[string]any{
			"interval_ms":    c.Discovery.IntervalMS,
			"max_lookups":    c.Discovery.MaxLookups,
			"max_bootstraps": c.Discovery.MaxBootstraps,
		},
		"rules_file":   c.RulesFile,
		"watch":        append([]string(nil), c.Watch...),
		"trace_events": c.TraceAll,
	}
	return payload
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}
