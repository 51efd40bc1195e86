package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/you/chat-relay/internal/archive"
	"github.com/you/chat-relay/internal/config"
	"github.com/you/chat-relay/internal/core"
	"github.com/you/chat-relay/internal/discovery"
	"github.com/you/chat-relay/internal/httpapi"
	"github.com/you/chat-relay/internal/registry"
	"github.com/you/chat-relay/internal/relay"
	"github.com/you/chat-relay/internal/router"
	"github.com/you/chat-relay/internal/telegram"
	"github.com/you/chat-relay/internal/version"
	"github.com/you/chat-relay/internal/ytauth"
	"github.com/you/chat-relay/internal/ytchat"
)

// logSender stands in when no Telegram token is configured: deliveries go to
// the log instead of a chat.
type logSender struct {
	log *slog.Logger
}

func (s logSender) SendToDestination(destinationID, text string) error {
	s.log.Info("delivery", "destination", destinationID, "text", text)
	return nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		versionFlag     bool
		rulesPath       string
		httpAddr        string
		httpCorsOrigins string
		httpRateRPS     int
		httpRateBurst   int
		sqlitePath      string
		watchList       string
		debugLog        bool
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&rulesPath, "rules", "", "Path to the routing rules YAML file")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP API listen address (e.g., :8080)")
	flag.StringVar(&httpCorsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRateRPS, "http-rate-rps", 20, "Maximum HTTP requests per second per client")
	flag.IntVar(&httpRateBurst, "http-rate-burst", 40, "Burst size for HTTP rate limiter")
	flag.StringVar(&sqlitePath, "sqlite", "", "Path to the SQLite archive database")
	flag.StringVar(&watchList, "watch", "", "Comma-separated video ids or URLs to watch at startup")
	flag.BoolVar(&debugLog, "debug", false, "Enable debug logging")
	flag.Parse()

	if versionFlag {
		fmt.Printf("chat-relay version: %s (rev %s, built %s)\n",
			version.Version, version.Revision, version.BuiltAt)
		os.Exit(0)
	}

	level := slog.LevelInfo
	if debugLog {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { overrides[f.Name] = true })

	cfg := config.Load()
	if overrides["rules"] {
		cfg.RulesFile = strings.TrimSpace(rulesPath)
	}
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["sqlite"] {
		cfg.Archive.SQLitePath = strings.TrimSpace(sqlitePath)
	}
	if overrides["watch"] {
		for _, raw := range strings.Split(watchList, ",") {
			if v := strings.TrimSpace(raw); v != "" {
				cfg.Watch = append(cfg.Watch, v)
			}
		}
	}

	log.Printf("%s", cfg.RedactedJSON())

	rules, err := config.LoadRules(cfg.RulesFile)
	switch {
	case err == nil:
		log.Printf("relay: loaded %d tracks, %d destinations, %d discovery channels from %s",
			len(rules.Tracks), len(rules.Destinations), len(rules.DiscoveryChannelIDs), cfg.RulesFile)
	case errors.Is(err, fs.ErrNotExist):
		log.Printf("relay: rules file %s not found; starting with empty rules", cfg.RulesFile)
	default:
		log.Fatalf("relay: rules: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("relay: received %s, shutting down", sig)
		cancel()
	}()

	auth := ytauth.NewProvider(cfg.YouTube.CookieFile)
	if cfg.YouTube.CookieFile != "" && !auth.CanAuthorize() {
		log.Printf("relay: cookie file %s has no SAPISID; members-only sessions unavailable", cfg.YouTube.CookieFile)
	}
	client := ytchat.NewClient(ytchat.Config{
		BaseURL:          cfg.YouTube.BaseURL,
		HTTPTimeout:      cfg.HTTPTimeout(),
		MemberChannelIDs: cfg.YouTube.MemberChannelIDs,
	}, auth, logger)

	rt := router.New(rules.Tracks, rules.AllowedAuthorChannelIDs)

	var sender relay.Sender = logSender{log: logger}
	if cfg.Telegram.Token != "" {
		tg, err := telegram.New(cfg.Telegram.Token, rules.Destinations, logger)
		if err != nil {
			log.Fatalf("relay: telegram: %v", err)
		}
		sender = tg
	} else {
		log.Printf("relay: no telegram token configured; deliveries go to the log")
	}

	var (
		store    *archive.Store
		sink     archive.Appender
		buffered *archive.Buffered
	)
	if cfg.ArchiveEnabled() {
		store, err = archive.Open(cfg.Archive.SQLitePath)
		if err != nil {
			log.Fatalf("relay: open archive: %v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("relay: closing archive: %v", err)
			}
		}()
		if err := store.Ping(); err != nil {
			log.Fatalf("relay: ping archive: %v", err)
		}
		sink = store
		if cfg.Batch() > 1 || cfg.FlushInterval() > 0 {
			buffered = archive.NewBuffered(store, archive.BufferedOptions{
				BatchSize:     cfg.Batch(),
				FlushInterval: cfg.FlushInterval(),
			})
			sink = buffered
		}
		log.Printf("relay: archive enabled at %s", cfg.Archive.SQLitePath)
	}

	promReg := prometheus.NewRegistry()
	rel := relay.New(relay.Options{
		Router:   rt,
		Sender:   sender,
		Sink:     sink,
		Metrics:  relay.NewMetrics(promReg),
		Log:      logger,
		TraceAll: cfg.TraceAll,
	})

	// The API server is assigned below, before any session can start.
	var api *httpapi.Server
	hookFactory := func(s *ytchat.Session) ytchat.Hooks {
		hooks := rel.Hooks(s)
		onEvent := hooks.OnEvent
		videoID := s.VideoID()
		hooks.OnEvent = func(ev core.ChatEvent) {
			onEvent(ev)
			api.Broadcast(httpapi.StreamEvent{
				VideoID: videoID,
				Kind:    ev.Kind,
				Author:  ev.AuthorName,
				Message: ev.Message,
				Amount:  ev.PurchaseAmount,
				Ts:      ev.Ts,
			})
		}
		return hooks
	}

	reg := registry.New(ctx, client, hookFactory, logger)
	relay.RegisterSessionGauge(promReg, reg.Len)

	var corsOrigins []string
	for _, origin := range strings.Split(httpCorsOrigins, ",") {
		if o := strings.TrimSpace(origin); o != "" {
			corsOrigins = append(corsOrigins, o)
		}
	}

	var transcripts httpapi.TranscriptStore
	if store != nil {
		transcripts = store
	}
	api = httpapi.New(reg, rel, transcripts, httpapi.Options{
		Addr:          cfg.HTTP.Addr,
		RateRPS:       httpRateRPS,
		RateBurst:     httpRateBurst,
		CORSOrigins:   corsOrigins,
		ConfigSummary: cfg.RedactedJSON(),
		PromRegistry:  promReg,
	})
	go func() {
		if err := api.Start(); err != nil {
			log.Fatalf("relay: http api: %v", err)
		}
	}()

	// Track destination maps and discovery channels bind at startup; the
	// watcher hot-reloads only the routing rules themselves.
	if err := config.WatchRulesFile(cfg.RulesFile, func(r config.Rules) {
		rt.SetTracks(r.Tracks)
		rt.SetAllowedAuthors(r.AllowedAuthorChannelIDs)
	}); err != nil {
		log.Printf("relay: rules watch unavailable: %v", err)
	}

	disco := discovery.New(discovery.Config{
		ChannelIDs:        rules.DiscoveryChannelIDs,
		Interval:          cfg.DiscoveryInterval(),
		MaxChannelLookups: int64(cfg.Discovery.MaxLookups),
		MaxBootstraps:     int64(cfg.Discovery.MaxBootstraps),
	}, client, reg, logger)
	go disco.Run(ctx)

	for _, raw := range cfg.Watch {
		if _, err := reg.Add(ctx, raw, true); err != nil {
			log.Printf("relay: startup watch %s: %v", raw, err)
		}
	}

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Printf("relay: http api shutdown: %v", err)
	}
	cancelShutdown()

	reg.Shutdown()

	if buffered != nil {
		if err := buffered.Close(); err != nil {
			log.Printf("relay: flush archive: %v", err)
		}
	}
	log.Printf("relay: shutdown complete")
}
