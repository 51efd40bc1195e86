// Package discovery polls configured source channels for live or upcoming
// broadcasts and feeds them to the session registry.
package discovery

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/you/chat-relay/internal/ytchat"
)

// Lister resolves a channel's currently live or upcoming broadcasts.
type Lister interface {
	ChannelBroadcasts(ctx context.Context, channelID string) ([]ytchat.ChannelBroadcast, error)
}

// Adder registers a discovered broadcast for chat relaying.
type Adder interface {
	Announce(ctx context.Context, videoID string, live bool) (*ytchat.Session, error)
}

type Config struct {
	ChannelIDs []string
	Interval   time.Duration
	// MaxChannelLookups bounds concurrent channel page fetches.
	MaxChannelLookups int64
	// MaxBootstraps bounds concurrent session bootstraps. Separate from the
	// lookup bound so a stall in one pool does not starve the other.
	MaxBootstraps int64
}

type Scheduler struct {
	cfg    Config
	lister Lister
	adder  Adder
	log    *slog.Logger

	lookupSem *semaphore.Weighted
	bootSem   *semaphore.Weighted
}

func New(cfg Config, lister Lister, adder Adder, log *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxChannelLookups <= 0 {
		cfg.MaxChannelLookups = 3
	}
	if cfg.MaxBootstraps <= 0 {
		cfg.MaxBootstraps = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cfg:       cfg,
		lister:    lister,
		adder:     adder,
		log:       log,
		lookupSem: semaphore.NewWeighted(cfg.MaxChannelLookups),
		bootSem:   semaphore.NewWeighted(cfg.MaxBootstraps),
	}
}

// Run sweeps all channels, then reschedules after the interval regardless of
// per-channel outcomes, until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.cfg.ChannelIDs) == 0 {
		s.log.Info("discovery disabled, no source channels configured")
		return
	}
	s.log.Info("discovery started",
		"channels", len(s.cfg.ChannelIDs), "interval", s.cfg.Interval.String())

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.sweep(ctx)
		timer.Reset(s.cfg.Interval)
	}
}

// sweep fans out one lookup per channel and waits for all of them.
func (s *Scheduler) sweep(ctx context.Context) {
	done := make(chan struct{}, len(s.cfg.ChannelIDs))
	for _, channelID := range s.cfg.ChannelIDs {
		channelID := channelID
		go func() {
			defer func() { done <- struct{}{} }()
			s.pollChannel(ctx, channelID)
		}()
	}
	for range s.cfg.ChannelIDs {
		select {
		case <-ctx.Done():
			return
		case <-done:
		}
	}
}

func (s *Scheduler) pollChannel(ctx context.Context, channelID string) {
	if err := s.lookupSem.Acquire(ctx, 1); err != nil {
		return
	}
	broadcasts, err := s.lister.ChannelBroadcasts(ctx, channelID)
	s.lookupSem.Release(1)
	if err != nil {
		s.log.Error("channel lookup failed", "channel_id", channelID, "err", err)
		return
	}
	s.log.Debug("channel lookup", "channel_id", channelID, "videos", len(broadcasts))

	for _, b := range broadcasts {
		if err := s.bootSem.Acquire(ctx, 1); err != nil {
			return
		}
		if _, err := s.adder.Announce(ctx, b.VideoID, b.Live); err != nil {
			s.log.Warn("discovered video not added", "video_id", b.VideoID, "err", err)
		}
		s.bootSem.Release(1)
	}
}
