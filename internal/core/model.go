package core

import "time"

// EventKind tags the closed set of normalized chat event variants.
type EventKind string

const (
	KindTextMessage        EventKind = "text"
	KindPaidMessage        EventKind = "paid"
	KindMembershipEvent    EventKind = "membership"
	KindPinnedAnnouncement EventKind = "pinned"
	KindUnhandled          EventKind = "unhandled"
)

// PaidColor classifies a paid message tier by its header background color.
type PaidColor string

const (
	ColorBlue      PaidColor = "blue"
	ColorLightBlue PaidColor = "lightblue"
	ColorGreen     PaidColor = "green"
	ColorYellow    PaidColor = "yellow"
	ColorOrange    PaidColor = "orange"
	ColorMagenta   PaidColor = "magenta"
	ColorRed       PaidColor = "red"
)

// ChatEvent is the unified structure emitted by the action normalizer and
// consumed by the router and the archive. Events are value objects; the
// poller never mutates one after emitting it.
type ChatEvent struct {
	Kind            EventKind
	ID              string // platform-native item ID (or composed)
	AuthorChannelID string
	AuthorName      string
	IsOwner         bool
	IsModerator     bool
	IsMember        bool
	Ts              time.Time
	Message         string // runs flattened to plain text

	// Paid message fields.
	PurchaseAmount string // currency-formatted, e.g. "$5.00"
	Color          PaidColor

	// Membership fields.
	IsJoin bool // membership item with no message body

	Pinned bool
}

// EndReason records why a session loop terminated.
type EndReason string

const (
	// EndStream is a live stream ending naturally.
	EndStream EndReason = "stream"
	// EndVideo is a finite replay fully consumed.
	EndVideo EndReason = "video"
	// EndStopped is an abnormal stop: video gone (404) or protocol desync.
	EndStopped EndReason = "stopped"
	// EndRemoved is an explicit operator removal.
	EndRemoved EndReason = "removed"
)

// VideoMeta is the metadata resolved for a video during session bootstrap.
// Fields extracted from page markup may be absent; absence is tolerated.
type VideoMeta struct {
	VideoID       string
	ChannelID     string
	ChannelName   string
	Title         string
	IsLive        bool
	IsMembersOnly bool
	Duration      string
	DatePublished string
}

// IsReplay reports whether the session reads a finished broadcast's chat.
func (m VideoMeta) IsReplay() bool { return !m.IsLive }

// Track is one declarative routing rule mapping chat events to a destination.
// Tracks are read-only configuration; the router only evaluates them.
type Track struct {
	DestinationID         string   `yaml:"destinationId"`
	AllowReplay           bool     `yaml:"allowReplay"`
	AllowNormalChat       bool     `yaml:"allowNormalChat"`
	AllowMemberChat       bool     `yaml:"allowMemberChat"`
	OwnerChannelID        string   `yaml:"ownerChannelId,omitempty"`
	FilterAuthorChannelID string   `yaml:"filterAuthorChannelId,omitempty"`
	FilterKeywords        []string `yaml:"filterKeywords,omitempty"`
}
