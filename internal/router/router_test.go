package router

import (
	"strings"
	"testing"

	"github.com/you/chat-relay/internal/core"
)

func liveMeta() core.VideoMeta {
	return core.VideoMeta{
		VideoID:     "dQw4w9WgXcQ",
		ChannelID:   "UChost000000000000000000",
		ChannelName: "Host Channel",
		IsLive:      true,
	}
}

func textEvent(author, name, msg string) core.ChatEvent {
	return core.ChatEvent{
		Kind:            core.KindTextMessage,
		AuthorChannelID: author,
		AuthorName:      name,
		Message:         msg,
	}
}

func TestRouteCatchAllTrack(t *testing.T) {
	r := New([]core.Track{{
		DestinationID:   "D1",
		AllowNormalChat: true,
	}}, nil)

	ds := r.Route(liveMeta(), textEvent("UCx", "X", "hello"))
	if len(ds) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(ds))
	}
	if ds[0].DestinationID != "D1" {
		t.Fatalf("destination = %q, want D1", ds[0].DestinationID)
	}
	want := "💬 X: **hello**"
	if !strings.HasPrefix(ds[0].Text, want) {
		t.Fatalf("text = %q, want prefix %q", ds[0].Text, want)
	}
	// Track is not pinned to the session channel, so a source line follows.
	if !strings.Contains(ds[0].Text, "\n↪️ Host Channel <https://youtu.be/dQw4w9WgXcQ>") {
		t.Fatalf("missing source-channel line in %q", ds[0].Text)
	}
}

func TestRouteReplayGate(t *testing.T) {
	r := New([]core.Track{{
		DestinationID:   "D1",
		AllowNormalChat: true,
	}}, nil)

	meta := liveMeta()
	meta.IsLive = false
	if ds := r.Route(meta, textEvent("UCx", "X", "hello")); len(ds) != 0 {
		t.Fatalf("replay matched %d tracks, want 0", len(ds))
	}

	r.SetTracks([]core.Track{{
		DestinationID:   "D1",
		AllowNormalChat: true,
		AllowReplay:     true,
	}})
	if ds := r.Route(meta, textEvent("UCx", "X", "hello")); len(ds) != 1 {
		t.Fatalf("replay-allowed track matched %d, want 1", len(ds))
	}
}

func TestRouteMemberGate(t *testing.T) {
	meta := liveMeta()
	meta.IsMembersOnly = true

	r := New([]core.Track{{
		DestinationID:   "D1",
		AllowNormalChat: true,
	}}, nil)
	if ds := r.Route(meta, textEvent("UCx", "X", "hi")); len(ds) != 0 {
		t.Fatalf("members-only chat matched normal-only track")
	}

	r.SetTracks([]core.Track{{
		DestinationID:   "D1",
		AllowMemberChat: true,
	}})
	if ds := r.Route(meta, textEvent("UCx", "X", "hi")); len(ds) != 1 {
		t.Fatalf("members-only chat did not match member track")
	}
}

func TestRouteKeywordGate(t *testing.T) {
	r := New([]core.Track{{
		DestinationID:   "D1",
		AllowNormalChat: true,
		FilterKeywords:  []string{"RELEASE", "announce"},
	}}, nil)

	meta := liveMeta()
	if ds := r.Route(meta, textEvent("UCx", "X", "big release today")); len(ds) != 1 {
		t.Fatalf("case-insensitive keyword did not match")
	}
	if ds := r.Route(meta, textEvent("UCx", "X", "nothing relevant")); len(ds) != 0 {
		t.Fatalf("non-matching message matched keyword track")
	}
}

func TestRouteAuthorShapes(t *testing.T) {
	meta := liveMeta()
	host := meta.ChannelID
	tracked := "UCtracked0000000000000000"

	// Host chat: pinned track, author is the channel itself.
	r := New([]core.Track{{
		DestinationID:   "D1",
		AllowNormalChat: true,
		OwnerChannelID:  host,
	}}, nil)
	if ds := r.Route(meta, textEvent(host, "Host", "yo")); len(ds) != 1 {
		t.Fatalf("host chat did not match pinned track")
	}
	if ds := r.Route(meta, textEvent("UCother", "Other", "yo")); len(ds) != 0 {
		t.Fatalf("stranger matched pinned track without filter")
	}

	// Pinned track with an explicit author filter.
	r.SetTracks([]core.Track{{
		DestinationID:         "D1",
		AllowNormalChat:       true,
		OwnerChannelID:        host,
		FilterAuthorChannelID: tracked,
	}})
	if ds := r.Route(meta, textEvent(tracked, "T", "yo")); len(ds) != 1 {
		t.Fatalf("filtered author did not match pinned track")
	}

	// Pinned track, author on the global allow-list.
	r.SetTracks([]core.Track{{
		DestinationID:   "D1",
		AllowNormalChat: true,
		OwnerChannelID:  host,
	}})
	r.SetAllowedAuthors([]string{tracked})
	if ds := r.Route(meta, textEvent(tracked, "T", "yo")); len(ds) != 1 {
		t.Fatalf("allow-listed author did not match pinned track")
	}

	// Tracked user anywhere: no pin, author filter only. Does not match when
	// the author is the session's own channel.
	r.SetTracks([]core.Track{{
		DestinationID:         "D1",
		AllowNormalChat:       true,
		FilterAuthorChannelID: tracked,
	}})
	r.SetAllowedAuthors(nil)
	if ds := r.Route(meta, textEvent(tracked, "T", "yo")); len(ds) != 1 {
		t.Fatalf("anywhere-filter did not match in foreign channel")
	}
	ownMeta := meta
	ownMeta.ChannelID = tracked
	if ds := r.Route(ownMeta, textEvent(tracked, "T", "yo")); len(ds) != 0 {
		t.Fatalf("anywhere-filter matched the author's own channel")
	}
}

func TestRouteWrongChannelPin(t *testing.T) {
	r := New([]core.Track{{
		DestinationID:   "D1",
		AllowNormalChat: true,
		OwnerChannelID:  "UCsomeoneelse000000000000",
	}}, nil)
	meta := liveMeta()
	if ds := r.Route(meta, textEvent(meta.ChannelID, "Host", "yo")); len(ds) != 0 {
		t.Fatalf("track pinned to another channel matched this session")
	}
}

func TestRouteDeterministic(t *testing.T) {
	r := New([]core.Track{
		{DestinationID: "D1", AllowNormalChat: true},
		{DestinationID: "D2", AllowNormalChat: true, FilterKeywords: []string{"hello"}},
	}, nil)
	meta := liveMeta()
	ev := textEvent("UCx", "X", "hello")

	first := r.Route(meta, ev)
	for i := 0; i < 10; i++ {
		again := r.Route(meta, ev)
		if len(again) != len(first) {
			t.Fatalf("delivery count changed between evaluations")
		}
		for j := range again {
			if again[j] != first[j] {
				t.Fatalf("delivery %d changed: %+v vs %+v", j, again[j], first[j])
			}
		}
	}
}

func TestRenderPaidMessage(t *testing.T) {
	meta := liveMeta()
	ev := core.ChatEvent{
		Kind:            core.KindPaidMessage,
		AuthorChannelID: "UCy",
		AuthorName:      "Y",
		Message:         "thanks",
		PurchaseAmount:  "$5.00",
		Color:           core.ColorGreen,
	}
	got := RenderEvent(meta, ev, core.Track{})
	for _, want := range []string{"💴", "🟢", "[$5.00]", "Y: ", "**thanks**"} {
		if !strings.Contains(got, want) {
			t.Fatalf("paid rendering %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "💬") {
		t.Fatalf("paid rendering %q carries the chat marker", got)
	}
	if !strings.HasPrefix(got, "💴 ") {
		t.Fatalf("paid rendering %q does not start with the money marker", got)
	}

	plain := RenderEvent(meta, textEvent("UCy", "Y", "thanks"), core.Track{})
	if got == plain {
		t.Fatalf("paid rendering identical to plain rendering: %q", got)
	}
}

func TestRenderRoleMarkers(t *testing.T) {
	meta := liveMeta()
	tr := core.Track{OwnerChannelID: meta.ChannelID}

	owner := textEvent(meta.ChannelID, "Host", "hi")
	owner.IsOwner = true
	if got := RenderEvent(meta, owner, tr); !strings.HasPrefix(got, "▶️ ") {
		t.Fatalf("owner marker missing: %q", got)
	}

	mod := textEvent("UCm", "Mod", "hi")
	mod.IsModerator = true
	if got := RenderEvent(meta, mod, tr); !strings.HasPrefix(got, "🔧 ") {
		t.Fatalf("moderator marker missing: %q", got)
	}

	// Pinned track suppresses the tracked-message marker.
	if got := RenderEvent(meta, textEvent("UCm", "M", "hi"), tr); strings.HasPrefix(got, "💬") {
		t.Fatalf("tracked marker present on pinned track: %q", got)
	}
	// Pinned announcements use the pin marker regardless of role flags.
	pin := core.ChatEvent{Kind: core.KindPinnedAnnouncement, AuthorName: "Mod", Message: "read this", IsModerator: true}
	if got := RenderEvent(meta, pin, tr); !strings.HasPrefix(got, "📌 ") {
		t.Fatalf("pin marker missing: %q", got)
	}
}

func TestRenderSourceLineOnlyWhenUnpinned(t *testing.T) {
	meta := liveMeta()
	pinned := RenderEvent(meta, textEvent(meta.ChannelID, "Host", "hi"), core.Track{OwnerChannelID: meta.ChannelID})
	if strings.Contains(pinned, "↪️") {
		t.Fatalf("pinned track rendering carries a source line: %q", pinned)
	}
	unpinned := RenderEvent(meta, textEvent("UCx", "X", "hi"), core.Track{})
	if !strings.Contains(unpinned, "↪️ Host Channel") {
		t.Fatalf("unpinned track rendering lacks source line: %q", unpinned)
	}
}

func TestRouteEnd(t *testing.T) {
	r := New([]core.Track{
		{DestinationID: "D1", AllowNormalChat: true},
		{DestinationID: "D1", AllowNormalChat: true, FilterKeywords: []string{"x"}},
		{DestinationID: "D2", AllowNormalChat: true, AllowReplay: true},
		{DestinationID: "D3", AllowMemberChat: true},
	}, nil)

	meta := liveMeta()
	ds := r.RouteEnd(meta, core.EndStream)
	if len(ds) != 2 {
		t.Fatalf("end deliveries = %d, want 2 (D1 deduped, D3 member-gated)", len(ds))
	}
	want := "[dQw4w9WgXcQ] end: stream"
	for _, d := range ds {
		if d.Text != want {
			t.Fatalf("end text = %q, want %q", d.Text, want)
		}
	}

	meta.IsLive = false
	ds = r.RouteEnd(meta, core.EndVideo)
	if len(ds) != 1 || ds[0].DestinationID != "D2" {
		t.Fatalf("replay end deliveries = %+v, want only D2", ds)
	}
}
