package ytchat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/you/chat-relay/internal/core"
)

// State is the session lifecycle as observable from outside the loop.
type State string

const (
	StateBootstrapped State = "bootstrapped"
	StatePolling      State = "polling"
	StateEndedStream  State = "ended:stream"
	StateEndedVideo   State = "ended:video"
	StateStopped      State = "stopped"
	StateRemoved      State = "removed"
)

// ContinuationState is the platform-issued cursor plus the server-suggested
// delay before the next fetch is legal. Zero delay means poll immediately.
// A token is consumed by exactly one successful fetch.
type ContinuationState struct {
	Token     string
	TimeoutMS int
}

// Hooks receive the session's output. All callbacks run on the session's own
// loop, so delivery is ordered and single-consumer per session.
type Hooks struct {
	// OnEvent receives each normalized event in server order.
	OnEvent func(core.ChatEvent)
	// OnRaw receives the redacted pre-normalization item for archival.
	OnRaw func(json.RawMessage)
	// OnEnd fires once with the terminal reason. It does not fire when the
	// loop is cancelled via context (explicit removal).
	OnEnd func(core.EndReason)
}

// Session is one bootstrapped video chat session. It is mutated only by its
// own Run loop; accessors exported for introspection are safe concurrently.
type Session struct {
	meta         core.VideoMeta
	client       *Client
	log          *slog.Logger
	norm         *Normalizer
	apiKey       string
	innertubeCtx json.RawMessage
	endpoint     string
	privileged   bool

	cont           ContinuationState
	initialActions []any

	state  atomic.Value // State as string
	polls  atomic.Int64
	events atomic.Int64
}

func (s *Session) VideoID() string      { return s.meta.VideoID }
func (s *Session) Meta() core.VideoMeta { return s.meta }

func (s *Session) State() State {
	if v, ok := s.state.Load().(string); ok {
		return State(v)
	}
	return StateBootstrapped
}

// Stats reports poll and event counts since bootstrap.
func (s *Session) Stats() (polls, events int64) {
	return s.polls.Load(), s.events.Load()
}

// Run drives the polling loop until a terminal state or context
// cancellation. The loop never has two batches in flight: each iteration
// sleeps the server-suggested delay, consumes the held continuation once,
// and either replaces it or terminates.
func (s *Session) Run(ctx context.Context, hooks Hooks) error {
	s.state.Store(string(StatePolling))

	// The bootstrap page already carried the first batch.
	s.emitActions(s.initialActions, hooks)
	s.initialActions = nil

	for {
		if !sleepContext(ctx, time.Duration(s.cont.TimeoutMS)*time.Millisecond) {
			s.state.Store(string(StateRemoved))
			return ctx.Err()
		}

		payload, err := s.client.poll(ctx, s.endpoint, s.apiKey, s.innertubeCtx, s.cont.Token, s.privileged)
		s.polls.Add(1)
		if err != nil {
			if ctx.Err() != nil {
				s.state.Store(string(StateRemoved))
				return ctx.Err()
			}
			if isNotFound(err) {
				// Video removed or made unavailable; retrying cannot help.
				s.log.Warn("chat poll returned 404, stopping", "err", err)
				s.finish(StateStopped, core.EndStopped, hooks)
				return nil
			}
			// Transient failure: keep the held continuation and retry after
			// the same delay. Long-lived streams must self-heal, so retries
			// are unbounded.
			s.log.Warn("chat poll failed, retrying", "err", err)
			continue
		}

		lc := digMap(payload, "continuationContents", "liveChatContinuation")
		if lc == nil {
			// Completion signal from the server.
			if s.meta.IsLive {
				s.log.Info("stream ended")
				s.finish(StateEndedStream, core.EndStream, hooks)
			} else {
				s.log.Info("replay fully consumed")
				s.finish(StateEndedVideo, core.EndVideo, hooks)
			}
			return nil
		}

		s.emitActions(digSlice(lc, "actions"), hooks)

		next, ok := continuationFrom(digSlice(lc, "continuations"))
		if !ok {
			if s.meta.IsLive {
				// Valid response without a usable continuation is a protocol
				// desync; spinning on a dead token would hammer the endpoint.
				s.log.Warn("no continuation in valid live response, stopping")
				s.finish(StateStopped, core.EndStopped, hooks)
			} else {
				s.log.Info("replay reached final batch")
				s.finish(StateEndedVideo, core.EndVideo, hooks)
			}
			return nil
		}
		s.cont = next
	}
}

func (s *Session) emitActions(actions []any, hooks Hooks) {
	if len(actions) == 0 {
		return
	}
	s.norm.Actions(actions, func(ev core.ChatEvent, raw *RawItem) {
		s.events.Add(1)
		// Typed event first, archival hook second.
		if hooks.OnEvent != nil {
			hooks.OnEvent(ev)
		}
		if hooks.OnRaw != nil && raw != nil {
			hooks.OnRaw(raw.JSON)
		}
	})
}

func (s *Session) finish(state State, reason core.EndReason, hooks Hooks) {
	s.state.Store(string(state))
	if hooks.OnEnd != nil {
		hooks.OnEnd(reason)
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
