package ytchat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/you/chat-relay/internal/core"
)

// trackingFields are stripped recursively from every raw item before it is
// handed to an archival hook. They carry telemetry only and dominate payload
// size.
var trackingFields = map[string]struct{}{
	"clickTrackingParams":      {},
	"contextMenuAccessibility": {},
	"contextMenuEndpoint":      {},
	"trackingParams":           {},
}

// Normalizer converts raw heterogeneous action payloads into typed chat
// events. Unknown action kinds are dropped with a low-severity log; they
// never abort a batch.
type Normalizer struct {
	log *slog.Logger
}

func NewNormalizer(log *slog.Logger) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{log: log}
}

// RawItem pairs a normalized event with its redacted pre-normalization
// payload so an archival collaborator can keep the original shape.
type RawItem struct {
	JSON json.RawMessage
}

// Emit receives normalizer output in server order.
type Emit func(ev core.ChatEvent, raw *RawItem)

// Actions maps a batch of raw actions to events, preserving order. Replay
// responses nest historical batches inside wrapper actions; those are
// unwrapped recursively.
func (n *Normalizer) Actions(actions []any, emit Emit) {
	for _, raw := range actions {
		action, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		n.action(action, emit)
	}
}

func (n *Normalizer) action(action map[string]any, emit Emit) {
	switch {
	case action["replayChatItemAction"] != nil:
		if wrapped, ok := action["replayChatItemAction"].(map[string]any); ok {
			n.Actions(digSlice(wrapped, "actions"), emit)
		}
	case action["addChatItemAction"] != nil:
		n.addChatItem(digMap(action, "addChatItemAction", "item"), emit)
	case action["addBannerToLiveChatCommand"] != nil:
		n.addBanner(digMap(action, "addBannerToLiveChatCommand"), emit)
	case action["addLiveChatTickerItemAction"] != nil:
		// Ticker items duplicate data already delivered via addChatItemAction.
	case action["markChatItemAsDeletedAction"] != nil,
		action["markChatItemsByAuthorAsDeletedAction"] != nil:
		// Deletions are not retracted from already-forwarded destinations.
	case action["replaceChatItemAction"] != nil,
		action["replaceLiveChatRendererAction"] != nil,
		action["showLiveChatTooltipCommand"] != nil:
	case len(action) == 1 && action["clickTrackingParams"] != nil:
	default:
		n.log.Debug("unhandled chat action", "keys", mapKeys(action))
	}
}

func (n *Normalizer) addChatItem(item map[string]any, emit Emit) {
	if item == nil {
		return
	}
	raw := redactedItem(item)

	if renderer := digMap(item, "liveChatTextMessageRenderer"); renderer != nil {
		ev := baseEvent(renderer, core.KindTextMessage)
		emit(ev, raw)
		return
	}
	if renderer := digMap(item, "liveChatPaidMessageRenderer"); renderer != nil {
		ev := baseEvent(renderer, core.KindPaidMessage)
		ev.PurchaseAmount = stringAt(renderer, "purchaseAmountText", "simpleText")
		ev.Color = paidColor(renderer, "headerBackgroundColor")
		emit(ev, raw)
		return
	}
	if renderer := digMap(item, "liveChatPaidStickerRenderer"); renderer != nil {
		ev := baseEvent(renderer, core.KindPaidMessage)
		ev.PurchaseAmount = stringAt(renderer, "purchaseAmountText", "simpleText")
		ev.Color = paidColor(renderer, "backgroundColor")
		emit(ev, raw)
		return
	}
	if renderer := digMap(item, "liveChatMembershipItemRenderer"); renderer != nil {
		ev := baseEvent(renderer, core.KindMembershipEvent)
		ev.IsMember = true
		if ev.Message == "" {
			// A membership item with no message body is a join, announced via
			// the header subtext ("Welcome to ...!" / "Member for N months").
			ev.IsJoin = true
			ev.Message = flattenText(digMap(renderer, "headerSubtext"))
		}
		emit(ev, raw)
		return
	}
	if renderer := digMap(item, "liveChatSponsorshipsGiftPurchaseAnnouncementRenderer"); renderer != nil {
		header := digMap(renderer, "header", "liveChatSponsorshipsHeaderRenderer")
		ev := core.ChatEvent{
			Kind:            core.KindMembershipEvent,
			ID:              stringAt(renderer, "id"),
			AuthorChannelID: stringAt(renderer, "authorExternalChannelId"),
			Ts:              itemTimestamp(renderer),
			IsMember:        true,
		}
		if header != nil {
			ev.AuthorName = flattenText(digMap(header, "authorName"))
			ev.Message = flattenText(digMap(header, "primaryText"))
		}
		emit(ev, raw)
		return
	}
	n.log.Debug("unhandled chat item renderer", "keys", mapKeys(item))
}

func (n *Normalizer) addBanner(command map[string]any, emit Emit) {
	banner := digMap(command, "bannerRenderer", "liveChatBannerRenderer")
	if banner == nil {
		n.log.Debug("banner command without renderer")
		return
	}
	renderer := digMap(banner, "contents", "liveChatTextMessageRenderer")
	if renderer == nil {
		n.log.Debug("banner without embedded text message")
		return
	}
	raw := redactedItem(banner)
	ev := baseEvent(renderer, core.KindPinnedAnnouncement)
	ev.Pinned = true
	emit(ev, raw)
}

func baseEvent(renderer map[string]any, kind core.EventKind) core.ChatEvent {
	ev := core.ChatEvent{
		Kind:            kind,
		ID:              stringAt(renderer, "id"),
		AuthorChannelID: stringAt(renderer, "authorExternalChannelId"),
		AuthorName:      flattenText(digMap(renderer, "authorName")),
		Message:         flattenText(digMap(renderer, "message")),
		Ts:              itemTimestamp(renderer),
	}
	if ev.ID == "" {
		ev.ID = fmt.Sprintf("yt-%d", time.Now().UnixNano())
	}
	applyBadges(&ev, renderer)
	return ev
}

// flattenText renders a message node: simpleText verbatim, otherwise runs
// joined with single spaces. An emoji run renders as its first custom
// shortcut when custom, otherwise its emoji id.
func flattenText(node map[string]any) string {
	if node == nil {
		return ""
	}
	if s, ok := node["simpleText"].(string); ok {
		return s
	}
	runs := digSlice(node, "runs")
	if len(runs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(runs))
	for _, r := range runs {
		run, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if emoji := digMap(run, "emoji"); emoji != nil {
			token := ""
			if custom, _ := emoji["isCustomEmoji"].(bool); custom {
				if shortcuts := digSlice(emoji, "shortcuts"); len(shortcuts) > 0 {
					token, _ = shortcuts[0].(string)
				}
			}
			if token == "" {
				token, _ = emoji["emojiId"].(string)
			}
			if token != "" {
				parts = append(parts, token)
			}
			continue
		}
		if text, ok := run["text"].(string); ok && text != "" {
			parts = append(parts, text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func applyBadges(ev *core.ChatEvent, renderer map[string]any) {
	for _, b := range digSlice(renderer, "authorBadges") {
		badge, ok := b.(map[string]any)
		if !ok {
			continue
		}
		br := digMap(badge, "liveChatAuthorBadgeRenderer")
		if br == nil {
			continue
		}
		switch stringAt(br, "icon", "iconType") {
		case "OWNER":
			ev.IsOwner = true
		case "MODERATOR":
			ev.IsModerator = true
		}
		// Member badges carry a custom thumbnail instead of an icon type.
		if digMap(br, "customThumbnail") != nil {
			ev.IsMember = true
		}
	}
}

func itemTimestamp(renderer map[string]any) time.Time {
	raw, ok := renderer["timestampUsec"]
	if !ok {
		return time.Now().UTC()
	}
	switch v := raw.(type) {
	case string:
		if usec, err := strconv.ParseInt(v, 10, 64); err == nil && usec > 0 {
			return time.Unix(0, usec*1000).UTC()
		}
	case float64:
		if v > 0 {
			return time.Unix(0, int64(v)*1000).UTC()
		}
	}
	return time.Now().UTC()
}

// Paid tier header background colors as ARGB values.
var paidColors = map[int64]core.PaidColor{
	4279592384: core.ColorBlue,
	4280191205: core.ColorBlue,
	4278237396: core.ColorLightBlue,
	4280150454: core.ColorGreen,
	4294953512: core.ColorYellow,
	4293284096: core.ColorOrange,
	4290910299: core.ColorMagenta,
	4291821568: core.ColorRed,
}

func paidColor(renderer map[string]any, key string) core.PaidColor {
	v, ok := renderer[key].(float64)
	if !ok {
		return ""
	}
	return paidColors[int64(v)]
}

// redactedItem strips tracking fields at every depth and returns the result
// as JSON for archival. The input map is not modified.
func redactedItem(item map[string]any) *RawItem {
	cleaned := redactValue(item)
	data, err := json.Marshal(cleaned)
	if err != nil {
		return nil
	}
	return &RawItem{JSON: data}
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if _, drop := trackingFields[k]; drop {
				continue
			}
			out[k] = redactValue(child)
		}
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, child := range val {
			out = append(out, redactValue(child))
		}
		return out
	default:
		return v
	}
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
