package relay

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
)

// Stage represents a pipeline stage used for tracking event processing.
type Stage string

const (
	StageSeenFromPoller Stage = "seen_from_poller"
	StageRouted         Stage = "routed"
	StageDelivered      Stage = "delivered"
	StageArchived       Stage = "archived"

	StageDroppedPrefix = "dropped_"
)

// StageDropped creates a Stage for a dropped event with the given reason.
func StageDropped(reason string) Stage {
	return Stage(fmt.Sprintf("%s%s", StageDroppedPrefix, reason))
}

// EventTrace captures trace metadata for an event throughout the relay
// pipeline.
type EventTrace struct {
	VideoID string
	Author  string
	Snippet string
	TraceID string

	mu       sync.Mutex
	counters map[Stage]int64
}

// NewTraceFromPollerEvent constructs a trace from poller metadata and seeds
// the seen_from_poller counter.
func NewTraceFromPollerEvent(videoID, author, snippet string) *EventTrace {
	trace := &EventTrace{
		VideoID:  videoID,
		Author:   author,
		Snippet:  snippet,
		TraceID:  computeTraceID(videoID, author, snippet),
		counters: make(map[Stage]int64),
	}

	trace.counters[StageSeenFromPoller] = 1
	return trace
}

// IncCounter increments the counter for the provided stage and returns the
// updated value.
func (t *EventTrace) IncCounter(stage Stage) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counters[stage]++
	return t.counters[stage]
}

// LogTrace logs the trace metadata and counters using structured logging.
func (t *EventTrace) LogTrace(logger *slog.Logger, msg string) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info(msg,
		"trace_id", t.TraceID,
		"video_id", t.VideoID,
		"author", t.Author,
		"snippet", t.Snippet,
		"counters", t.snapshotCounters(),
	)
}

func (t *EventTrace) snapshotCounters() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	copy := make(map[Stage]int64, len(t.counters))
	for stage, count := range t.counters {
		copy[stage] = count
	}

	return copy
}

func computeTraceID(videoID, author, snippet string) string {
	digest := sha256.Sum256([]byte(videoID + "\x1f" + author + "\x1f" + snippet))
	return hex.EncodeToString(digest[:])
}
