package router

import (
	"fmt"
	"strings"

	"github.com/you/chat-relay/internal/core"
	"github.com/you/chat-relay/internal/ytchat"
)

var colorEmoji = map[core.PaidColor]string{
	core.ColorBlue:      "🔵",
	core.ColorLightBlue: "🔵",
	core.ColorGreen:     "🟢",
	core.ColorYellow:    "🟡",
	core.ColorOrange:    "🟠",
	core.ColorMagenta:   "🟣",
	core.ColorRed:       "🔴",
}

// RenderEvent builds the outgoing line for one matched event. Layout:
// role markers, author, message in bold, then a source-channel line when the
// track is not pinned to the session's own channel.
func RenderEvent(meta core.VideoMeta, ev core.ChatEvent, t core.Track) string {
	var b strings.Builder

	switch {
	case ev.Kind == core.KindPinnedAnnouncement:
		b.WriteString("📌 ")
	case ev.IsOwner:
		b.WriteString("▶️ ")
	case ev.IsModerator:
		b.WriteString("🔧 ")
	case t.OwnerChannelID == "" && ev.Kind != core.KindPaidMessage:
		// Paid messages carry the money marker below instead of the chat one.
		b.WriteString("💬 ")
	}
	if ev.Kind == core.KindPaidMessage {
		b.WriteString("💴 ")
		if emoji, ok := colorEmoji[ev.Color]; ok {
			b.WriteString(emoji + " ")
		}
	}

	b.WriteString(ev.AuthorName)
	b.WriteString(": ")
	if ev.Kind == core.KindPaidMessage && ev.PurchaseAmount != "" {
		fmt.Fprintf(&b, "[%s] ", ev.PurchaseAmount)
	}
	if ev.Kind == core.KindMembershipEvent && ev.IsJoin {
		b.WriteString(ev.Message)
	} else {
		fmt.Fprintf(&b, "**%s**", ev.Message)
	}

	if t.OwnerChannelID != meta.ChannelID {
		fmt.Fprintf(&b, "\n↪️ %s <%s>", meta.ChannelName, ytchat.ShortVideoURL(meta.VideoID))
	}
	return b.String()
}

// RenderSubscribed renders an event for a per-video destination subscription.
// Subscriptions behave like an unpinned catch-all track.
func RenderSubscribed(meta core.VideoMeta, ev core.ChatEvent) string {
	return RenderEvent(meta, ev, core.Track{})
}

// RenderEnd builds the session-end notification line.
func RenderEnd(meta core.VideoMeta, reason core.EndReason) string {
	return fmt.Sprintf("[%s] end: %s", meta.VideoID, reason)
}
