// Package relay wires session output to destinations and the archive. One
// Relay serves every session; per-session state lives in the hook closures.
package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/you/chat-relay/internal/archive"
	"github.com/you/chat-relay/internal/core"
	"github.com/you/chat-relay/internal/router"
	"github.com/you/chat-relay/internal/ytchat"
)

// Sender delivers one rendered line to a named destination. Failures are
// logged, never retried.
type Sender interface {
	SendToDestination(destinationID, text string) error
}

type Relay struct {
	router  *router.Router
	sender  Sender
	sink    archive.Appender
	metrics *Metrics
	log     *slog.Logger

	// traceAll logs a full pipeline trace per event. Debug aid, very noisy.
	traceAll bool

	mu   sync.Mutex
	subs map[string]map[string]struct{} // video id -> destination ids
}

type Options struct {
	Router   *router.Router
	Sender   Sender
	Sink     archive.Appender // optional
	Metrics  *Metrics         // optional
	Log      *slog.Logger
	TraceAll bool
}

func New(opts Options) *Relay {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		router:   opts.Router,
		sender:   opts.Sender,
		sink:     opts.Sink,
		metrics:  opts.Metrics,
		log:      log,
		traceAll: opts.TraceAll,
		subs:     make(map[string]map[string]struct{}),
	}
}

// Subscribe adds a per-video destination subscription: every event of that
// session is relayed to the destination, independent of track rules.
func (r *Relay) Subscribe(videoID, destinationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.subs[videoID]
	if set == nil {
		set = make(map[string]struct{})
		r.subs[videoID] = set
	}
	set[destinationID] = struct{}{}
}

// Unsubscribe removes a per-video subscription. No-op when absent.
func (r *Relay) Unsubscribe(videoID, destinationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.subs[videoID]
	delete(set, destinationID)
	if len(set) == 0 {
		delete(r.subs, videoID)
	}
}

// Subscriptions returns the sorted destination ids subscribed to a video.
func (r *Relay) Subscriptions(videoID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.subs[videoID]))
	for id := range r.subs[videoID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Hooks builds the per-session hook set. Hook calls for one session arrive
// from a single goroutine in server order.
func (r *Relay) Hooks(s *ytchat.Session) ytchat.Hooks {
	meta := s.Meta()
	// The poller emits the typed event before the raw item, so the raw hook
	// can reuse the event's id as the archive key.
	var lastEventID string

	return ytchat.Hooks{
		OnEvent: func(ev core.ChatEvent) {
			lastEventID = ev.ID
			r.handleEvent(meta, ev)
		},
		OnRaw: func(item json.RawMessage) {
			r.archiveRaw(meta.VideoID, lastEventID, item)
		},
		OnEnd: func(reason core.EndReason) {
			r.handleEnd(meta, reason)
		},
	}
}

func (r *Relay) handleEvent(meta core.VideoMeta, ev core.ChatEvent) {
	r.metrics.IncEvent(ev.Kind)

	var trace *EventTrace
	if r.traceAll {
		trace = NewTraceFromPollerEvent(meta.VideoID, ev.AuthorName, snippet(ev.Message))
	}

	deliveries := r.router.Route(meta, ev)
	seen := make(map[string]struct{}, len(deliveries))
	for _, d := range deliveries {
		seen[d.DestinationID] = struct{}{}
	}
	for _, dest := range r.Subscriptions(meta.VideoID) {
		if _, dup := seen[dest]; dup {
			continue
		}
		deliveries = append(deliveries, router.Delivery{
			DestinationID: dest,
			Text:          router.RenderSubscribed(meta, ev),
		})
	}
	if trace != nil && len(deliveries) > 0 {
		trace.IncCounter(StageRouted)
	}

	// Fan-out is independent per destination.
	for _, d := range deliveries {
		if err := r.sender.SendToDestination(d.DestinationID, d.Text); err != nil {
			r.metrics.IncDeliveryError(d.DestinationID)
			r.log.Error("destination send failed",
				"video_id", meta.VideoID, "destination", d.DestinationID, "err", err)
			continue
		}
		r.metrics.IncDelivery(d.DestinationID)
		if trace != nil {
			trace.IncCounter(StageDelivered)
		}
	}

	r.archiveLine(meta.VideoID, ev)
	if trace != nil {
		trace.IncCounter(StageArchived)
		trace.LogTrace(r.log, "event relayed")
	}
}

func (r *Relay) handleEnd(meta core.VideoMeta, reason core.EndReason) {
	r.metrics.IncSessionEnd(reason)

	deliveries := r.router.RouteEnd(meta, reason)
	seen := make(map[string]struct{}, len(deliveries))
	for _, d := range deliveries {
		seen[d.DestinationID] = struct{}{}
	}
	text := router.RenderEnd(meta, reason)
	for _, dest := range r.Subscriptions(meta.VideoID) {
		if _, dup := seen[dest]; dup {
			continue
		}
		deliveries = append(deliveries, router.Delivery{DestinationID: dest, Text: text})
	}

	for _, d := range deliveries {
		if err := r.sender.SendToDestination(d.DestinationID, d.Text); err != nil {
			r.metrics.IncDeliveryError(d.DestinationID)
			r.log.Error("end notification failed",
				"video_id", meta.VideoID, "destination", d.DestinationID, "err", err)
			continue
		}
		r.metrics.IncDelivery(d.DestinationID)
	}

	// Subscriptions die with the session.
	r.mu.Lock()
	delete(r.subs, meta.VideoID)
	r.mu.Unlock()

	r.log.Info("session ended", "video_id", meta.VideoID, "reason", string(reason))
}

func (r *Relay) archiveLine(videoID string, ev core.ChatEvent) {
	if r.sink == nil {
		return
	}
	cat := archive.CategoryChat
	line := fmt.Sprintf("%s: %s", ev.AuthorName, ev.Message)
	if ev.Kind == core.KindPaidMessage {
		cat = archive.CategoryPaid
		line = fmt.Sprintf("%s: [%s] %s", ev.AuthorName, ev.PurchaseAmount, ev.Message)
	}
	if err := r.sink.Append(archive.Entry{SessionID: videoID, Category: cat, Line: line}); err != nil {
		r.metrics.IncArchiveError()
		r.log.Error("archive line failed", "video_id", videoID, "err", err)
	}
}

func (r *Relay) archiveRaw(videoID, itemID string, item json.RawMessage) {
	if r.sink == nil {
		return
	}
	if err := r.sink.Append(archive.Entry{SessionID: videoID, ItemID: itemID, ItemJSON: item}); err != nil {
		r.metrics.IncArchiveError()
		r.log.Error("archive raw item failed", "video_id", videoID, "err", err)
	}
}

func snippet(s string) string {
	const max = 48
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
