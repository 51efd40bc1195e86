package ytchat

import (
	"net/url"
	"strings"
)

// videoIDLength is fixed by the platform: exactly 11 URL-safe characters.
const videoIDLength = 11

// CanonicalVideoID reduces an arbitrary video reference (bare id, watch URL,
// short URL, live URL) to the canonical 11-character id. Canonicalizing an
// already-canonical id returns it unchanged.
func CanonicalVideoID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidVideoID
	}

	if isVideoID(trimmed) {
		return trimmed, nil
	}

	candidate := trimmed
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return "", ErrInvalidVideoID
	}

	switch strings.ToLower(strings.TrimPrefix(u.Host, "www.")) {
	case "youtu.be":
		id := strings.Trim(u.Path, "/")
		if isVideoID(id) {
			return id, nil
		}
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if strings.EqualFold(u.Path, "/watch") {
			if id := u.Query().Get("v"); isVideoID(id) {
				return id, nil
			}
		}
		// /live/<id>, /shorts/<id>, /embed/<id>
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 {
			switch parts[0] {
			case "live", "shorts", "embed":
				if isVideoID(parts[1]) {
					return parts[1], nil
				}
			}
		}
	}
	return "", ErrInvalidVideoID
}

func isVideoID(s string) bool {
	if len(s) != videoIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

// WatchURL returns the canonical watch page URL for a video id.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(videoID)
}

// ShortVideoURL returns the youtu.be form used in rendered messages.
func ShortVideoURL(videoID string) string {
	return "https://youtu.be/" + url.PathEscape(videoID)
}

// ChannelURL returns the canonical channel page URL for a channel id.
func ChannelURL(channelID string) string {
	return "https://www.youtube.com/channel/" + url.PathEscape(channelID)
}
