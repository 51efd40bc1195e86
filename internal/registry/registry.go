// Package registry tracks active chat sessions, one per video id.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/you/chat-relay/internal/core"
	"github.com/you/chat-relay/internal/ytchat"
)

// ErrBlocked is returned for videos remembered as failed; discovery skips
// them, while an explicit operator watch can force a retry.
var ErrBlocked = errors.New("registry: video previously failed")

// Bootstrapper resolves a video id to a pollable session.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, videoID string) (*ytchat.Session, error)
}

// HookFactory builds the per-session event hooks. The registry wraps the
// returned OnEnd so the session is deregistered before the hook runs.
type HookFactory func(s *ytchat.Session) ytchat.Hooks

// Registry is the only state mutated from multiple concurrent contexts:
// operator commands, discovery, and poller-completion callbacks. All map
// mutations hold the mutex; session loops run outside it.
type Registry struct {
	boot  Bootstrapper
	hooks HookFactory
	log   *slog.Logger

	// base is the lifetime context for session loops, independent of the
	// caller context used for bootstrap.
	base context.Context

	mu       sync.Mutex
	sessions map[string]*entry
	inflight map[string]chan struct{}
	blocked  map[string]blockInfo
}

type entry struct {
	session *ytchat.Session
	cancel  context.CancelFunc
	done    chan struct{}
}

type blockInfo struct {
	reason string
	at     time.Time
}

func New(base context.Context, boot Bootstrapper, hooks HookFactory, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if base == nil {
		base = context.Background()
	}
	return &Registry{
		boot:     boot,
		hooks:    hooks,
		log:      log,
		base:     base,
		sessions: make(map[string]*entry),
		inflight: make(map[string]chan struct{}),
		blocked:  make(map[string]blockInfo),
	}
}

// Add resolves raw (id or URL) and ensures a session exists for it. Add is
// idempotent: an existing session is returned as-is. Concurrent Adds for the
// same video share one bootstrap. A session is registered only after its
// bootstrap succeeded. force clears a failure block first.
func (r *Registry) Add(ctx context.Context, raw string, force bool) (*ytchat.Session, error) {
	videoID, err := ytchat.CanonicalVideoID(raw)
	if err != nil {
		return nil, err
	}

	for {
		r.mu.Lock()
		if e, ok := r.sessions[videoID]; ok {
			r.mu.Unlock()
			return e.session, nil
		}
		if info, ok := r.blocked[videoID]; ok {
			if !force {
				r.mu.Unlock()
				return nil, ErrBlocked
			}
			r.log.Info("clearing failure block", "video_id", videoID, "reason", info.reason)
			delete(r.blocked, videoID)
		}
		if waiting, ok := r.inflight[videoID]; ok {
			r.mu.Unlock()
			select {
			case <-waiting:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		gate := make(chan struct{})
		r.inflight[videoID] = gate
		r.mu.Unlock()

		session, err := r.bootstrapAndStart(ctx, videoID)

		r.mu.Lock()
		delete(r.inflight, videoID)
		close(gate)
		r.mu.Unlock()
		return session, err
	}
}

func (r *Registry) bootstrapAndStart(ctx context.Context, videoID string) (*ytchat.Session, error) {
	session, err := r.boot.Bootstrap(ctx, videoID)
	if err != nil {
		if errors.Is(err, ytchat.ErrVideoNotFound) || errors.Is(err, ytchat.ErrAuthRequired) {
			r.block(videoID, err.Error())
		}
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(r.base)
	e := &entry{session: session, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.sessions[videoID] = e
	r.mu.Unlock()

	hooks := ytchat.Hooks{}
	if r.hooks != nil {
		hooks = r.hooks(session)
	}
	userEnd := hooks.OnEnd
	hooks.OnEnd = func(reason core.EndReason) {
		// Deregister before the end event is routed anywhere.
		r.remove(videoID)
		if reason == core.EndStopped {
			r.block(videoID, string(reason))
		}
		if userEnd != nil {
			userEnd(reason)
		}
	}

	go func() {
		defer close(e.done)
		defer cancel()
		if err := session.Run(loopCtx, hooks); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error("session loop exited", "video_id", videoID, "err", err)
		}
		r.remove(videoID)
	}()

	return session, nil
}

// Remove stops the session's loop at its next safe point and drops it from
// the registry. Removing an absent id is a no-op. Remove does not wait for
// an in-flight poll to finish.
func (r *Registry) Remove(videoID string) {
	r.mu.Lock()
	e, ok := r.sessions[videoID]
	if ok {
		delete(r.sessions, videoID)
	}
	r.mu.Unlock()
	if ok {
		e.cancel()
	}
}

func (r *Registry) remove(videoID string) {
	r.mu.Lock()
	e, ok := r.sessions[videoID]
	if ok {
		delete(r.sessions, videoID)
	}
	r.mu.Unlock()
	if ok {
		e.cancel()
	}
}

// Lookup returns the active session for a video id, if any.
func (r *Registry) Lookup(videoID string) (*ytchat.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[videoID]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Sessions returns a stable-ordered snapshot of active sessions.
func (r *Registry) Sessions() []*ytchat.Session {
	r.mu.Lock()
	out := make([]*ytchat.Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.session)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].VideoID() < out[j].VideoID() })
	return out
}

// Len reports the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) block(videoID, reason string) {
	r.mu.Lock()
	r.blocked[videoID] = blockInfo{reason: reason, at: time.Now()}
	r.mu.Unlock()
}

// Announce registers a discovered broadcast. A live announcement clears a
// prior stopped block, since the stream coming back on air supersedes it.
// Auth and not-found blocks persist until an operator forces the video.
func (r *Registry) Announce(ctx context.Context, videoID string, live bool) (*ytchat.Session, error) {
	if live {
		r.mu.Lock()
		if info, ok := r.blocked[videoID]; ok && info.reason == string(core.EndStopped) {
			r.log.Info("clearing stopped block on live announcement", "video_id", videoID)
			delete(r.blocked, videoID)
		}
		r.mu.Unlock()
	}
	return r.Add(ctx, videoID, false)
}

// Shutdown cancels every session loop and waits for them to drain.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.sessions))
	for id, e := range r.sessions {
		entries = append(entries, e)
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	for _, e := range entries {
		e.cancel()
	}
	for _, e := range entries {
		<-e.done
	}
}
