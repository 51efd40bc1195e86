package ytchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// Markers inside the stringified initial-data document classifying the
// session's operating mode.
const (
	markerMembersOnly = "BADGE_STYLE_TYPE_MEMBERS_ONLY"
	markerReplay      = "Streamed live"
)

const (
	endpointLiveChat   = "/youtubei/v1/live_chat/get_live_chat"
	endpointReplayChat = "/youtubei/v1/live_chat/get_live_chat_replay"
)

// Bootstrap resolves a canonical video id into a ready-to-poll Session:
// video metadata, operating mode, polling credentials, and the initial
// action batch. Errors wrap ErrVideoNotFound, ErrParseFailure or
// ErrAuthRequired; network failures pass through untranslated.
func (c *Client) Bootstrap(ctx context.Context, videoID string) (*Session, error) {
	log := c.log.With("video_id", videoID)

	watch, err := c.fetchPage(ctx, "/watch?v="+url.QueryEscape(videoID), false)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, videoID)
		}
		return nil, err
	}

	meta := watch.videoMeta(videoID)
	data, err := watch.initialData()
	if err != nil {
		return nil, err
	}

	// Mode classification works on the stringified document: the markers move
	// between renderers across upstream generations, their text does not.
	stringified, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: restringify initial data: %v", ErrParseFailure, err)
	}
	meta.IsMembersOnly = bytes.Contains(stringified, []byte(markerMembersOnly))
	meta.IsLive = !bytes.Contains(stringified, []byte(markerReplay))

	privileged := false
	if meta.IsMembersOnly {
		if !c.memberAuthorized(meta.ChannelID) || c.auth == nil || !c.auth.CanAuthorize() {
			return nil, fmt.Errorf("%w: channel %s", ErrAuthRequired, meta.ChannelID)
		}
		privileged = true
		log.Info("members-only session, privileged headers enabled", "channel_id", meta.ChannelID)
	}

	var chatPath string
	if meta.IsLive {
		chatPath = "/live_chat?v=" + url.QueryEscape(videoID)
	} else {
		reload := reloadContinuation(data)
		if reload == "" {
			log.Warn("replay reload continuation not found")
			chatPath = "/live_chat_replay?v=" + url.QueryEscape(videoID)
		} else {
			chatPath = "/live_chat_replay?continuation=" + url.QueryEscape(reload)
		}
	}

	chat, err := c.fetchPage(ctx, chatPath, privileged)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: chat page for %s", ErrVideoNotFound, videoID)
		}
		return nil, err
	}

	cfg, err := chat.config()
	if err != nil {
		return nil, err
	}
	chatData, err := chat.initialData()
	if err != nil {
		return nil, err
	}

	var container map[string]any
	if meta.IsLive {
		container = digMap(chatData, "contents", "liveChatRenderer")
	} else {
		container = digMap(chatData, "continuationContents", "liveChatContinuation")
	}
	if container == nil {
		return nil, fmt.Errorf("%w: chat container missing", ErrParseFailure)
	}

	initialActions := digSlice(container, "actions")
	cont, ok := continuationFrom(digSlice(container, "continuations"))
	if !ok {
		return nil, fmt.Errorf("%w: initial continuation missing", ErrParseFailure)
	}

	endpoint := endpointLiveChat
	if !meta.IsLive {
		endpoint = endpointReplayChat
	}

	s := &Session{
		meta:           meta,
		client:         c,
		log:            log,
		norm:           NewNormalizer(log),
		apiKey:         cfg.APIKey,
		innertubeCtx:   cfg.Context,
		endpoint:       endpoint,
		privileged:     privileged,
		cont:           cont,
		initialActions: initialActions,
	}
	s.state.Store(string(StateBootstrapped))
	log.Info("session bootstrapped",
		"channel_id", meta.ChannelID,
		"channel", meta.ChannelName,
		"live", meta.IsLive,
		"members_only", meta.IsMembersOnly,
	)
	return s, nil
}

// reloadContinuation digs the conversation-bar continuation chain out of the
// watch page's initial data. Some replays lack it.
func reloadContinuation(data map[string]any) string {
	conts := digSlice(data, "contents", "twoColumnWatchNextResults", "conversationBar", "liveChatRenderer", "continuations")
	for _, c := range conts {
		m, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if s := stringAt(m, "reloadContinuationData", "continuation"); s != "" {
			return s
		}
	}
	return ""
}

// continuationFrom picks the first usable continuation token and its
// server-suggested delay from a continuations list.
func continuationFrom(continuations []any) (ContinuationState, bool) {
	for _, raw := range continuations {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range []string{
			"timedContinuationData",
			"invalidationContinuationData",
			"liveChatReplayContinuationData",
			"reloadContinuationData",
		} {
			node := digMap(m, key)
			if node == nil {
				continue
			}
			token, _ := node["continuation"].(string)
			if token == "" {
				continue
			}
			return ContinuationState{Token: token, TimeoutMS: timeoutMSFrom(node)}, true
		}
	}
	return ContinuationState{}, false
}

// timeoutMSFrom tolerates both number and string encodings of timeoutMs.
func timeoutMSFrom(node map[string]any) int {
	switch v := node["timeoutMs"].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return 0
}
