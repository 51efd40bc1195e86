// Package router evaluates track rules against normalized chat events and
// renders the outgoing message per matched destination.
package router

import (
	"strings"
	"sync"

	"github.com/you/chat-relay/internal/core"
)

// Delivery is one rendered message bound for one destination.
type Delivery struct {
	DestinationID string
	Text          string
}

// authorShape is the closed set of author-gate matcher strategies. Deriving
// the shape once from the track's fields prevents invalid flag combinations.
type authorShape int

const (
	// shapePinned: track pinned to a source channel; matches the host's own
	// messages, an explicitly filtered author, or a globally allow-listed
	// author appearing in that channel.
	shapePinned authorShape = iota
	// shapeAuthorAnywhere: no channel pin, one author id; matches that author
	// in any session whose channel differs from the author.
	shapeAuthorAnywhere
	// shapeAll: neither pin nor author filter; matches every event.
	shapeAll
)

func shapeOf(t core.Track) authorShape {
	switch {
	case t.OwnerChannelID != "":
		return shapePinned
	case t.FilterAuthorChannelID != "":
		return shapeAuthorAnywhere
	default:
		return shapeAll
	}
}

// Router matches events against the configured track list. Tracks are
// replaceable at runtime (config hot reload); evaluation itself is pure.
type Router struct {
	mu          sync.RWMutex
	tracks      []core.Track
	allowedAuth map[string]struct{}
}

// New builds a router. allowedAuthors is the global discovery allow-list:
// authors a pinned track accepts even without an explicit filter.
func New(tracks []core.Track, allowedAuthors []string) *Router {
	r := &Router{}
	r.SetTracks(tracks)
	r.SetAllowedAuthors(allowedAuthors)
	return r
}

// SetTracks swaps the track list.
func (r *Router) SetTracks(tracks []core.Track) {
	copied := make([]core.Track, len(tracks))
	copy(copied, tracks)
	r.mu.Lock()
	r.tracks = copied
	r.mu.Unlock()
}

// SetAllowedAuthors swaps the global author allow-list.
func (r *Router) SetAllowedAuthors(ids []string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	r.mu.Lock()
	r.allowedAuth = set
	r.mu.Unlock()
}

// Tracks returns a snapshot of the current track list.
func (r *Router) Tracks() []core.Track {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Track, len(r.tracks))
	copy(out, r.tracks)
	return out
}

// Route computes the deliveries for one event. Gate order is fixed:
// destination, mode, keyword, author.
func (r *Router) Route(meta core.VideoMeta, ev core.ChatEvent) []Delivery {
	r.mu.RLock()
	tracks := r.tracks
	allowed := r.allowedAuth
	r.mu.RUnlock()

	var out []Delivery
	for _, t := range tracks {
		if !modeGate(t, meta) {
			continue
		}
		if !keywordGate(t, ev.Message) {
			continue
		}
		if !authorGate(t, meta, ev, allowed) {
			continue
		}
		out = append(out, Delivery{DestinationID: t.DestinationID, Text: RenderEvent(meta, ev, t)})
	}
	return out
}

// RouteEnd computes the session-end notification deliveries: the union of
// destinations across tracks passing the destination and mode gates only.
func (r *Router) RouteEnd(meta core.VideoMeta, reason core.EndReason) []Delivery {
	r.mu.RLock()
	tracks := r.tracks
	r.mu.RUnlock()

	text := RenderEnd(meta, reason)
	seen := make(map[string]struct{})
	var out []Delivery
	for _, t := range tracks {
		if !modeGate(t, meta) {
			continue
		}
		if _, dup := seen[t.DestinationID]; dup {
			continue
		}
		seen[t.DestinationID] = struct{}{}
		out = append(out, Delivery{DestinationID: t.DestinationID, Text: text})
	}
	return out
}

// modeGate covers gates 1 and 2: a configured destination, replay/live
// allowance, and the normal-vs-member chat allowance.
func modeGate(t core.Track, meta core.VideoMeta) bool {
	if t.DestinationID == "" {
		return false
	}
	if !t.AllowReplay && !meta.IsLive {
		return false
	}
	if meta.IsMembersOnly {
		return t.AllowMemberChat
	}
	return t.AllowNormalChat
}

// keywordGate passes when the track declares no keywords, or at least one
// matches the message case-insensitively.
func keywordGate(t core.Track, message string) bool {
	if len(t.FilterKeywords) == 0 {
		return true
	}
	lowered := strings.ToLower(message)
	for _, kw := range t.FilterKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func authorGate(t core.Track, meta core.VideoMeta, ev core.ChatEvent, allowed map[string]struct{}) bool {
	switch shapeOf(t) {
	case shapePinned:
		if t.OwnerChannelID != meta.ChannelID {
			return false
		}
		if ev.AuthorChannelID == meta.ChannelID {
			return true
		}
		if t.FilterAuthorChannelID != "" && ev.AuthorChannelID == t.FilterAuthorChannelID {
			return true
		}
		_, ok := allowed[ev.AuthorChannelID]
		return ok
	case shapeAuthorAnywhere:
		return ev.AuthorChannelID == t.FilterAuthorChannelID && meta.ChannelID != ev.AuthorChannelID
	default:
		return true
	}
}
