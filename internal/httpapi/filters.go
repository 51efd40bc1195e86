package httpapi

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/you/chat-relay/internal/archive"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// ParseTranscriptFilters parses transcript query parameters: video (session
// id), category (chat|paid), since (RFC3339, unix seconds, or a duration ago),
// limit.
func ParseTranscriptFilters(values url.Values) (archive.Filters, error) {
	f := archive.Filters{Limit: defaultLimit}

	f.SessionID = strings.TrimSpace(values.Get("video"))
	if f.SessionID == "" {
		return archive.Filters{}, errors.New("video parameter required")
	}

	switch raw := strings.ToLower(strings.TrimSpace(values.Get("category"))); raw {
	case "":
	case "chat":
		f.Category = archive.CategoryChat
	case "paid":
		f.Category = archive.CategoryPaid
	default:
		return archive.Filters{}, errors.New("category must be chat or paid")
	}

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return archive.Filters{}, errors.New("limit must be a positive integer")
		}
		if n > maxLimit {
			n = maxLimit
		}
		f.Limit = n
	}

	if raw := values.Get("since"); raw != "" {
		parsed, err := parseSince(raw)
		if err != nil {
			return archive.Filters{}, err
		}
		f.Since = &parsed
	}

	return f, nil
}

func parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(-d).UTC(), nil
	}
	return time.Time{}, errors.New("invalid since parameter")
}
