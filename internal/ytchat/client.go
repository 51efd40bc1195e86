package ytchat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/you/chat-relay/internal/ytauth"
)

const (
	defaultBaseURL   = "https://www.youtube.com"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	pageBodyLimit = 8 << 20
	pollBodyLimit = 4 << 20
)

// Config controls a Client. BaseURL exists for tests against a fake upstream.
type Config struct {
	BaseURL          string
	HTTPTimeout      time.Duration
	MemberChannelIDs []string
}

// Client performs the upstream HTTP calls shared by all sessions: page
// fetches during bootstrap and continuation polls afterwards.
type Client struct {
	base      string
	http      *http.Client
	auth      *ytauth.Provider
	memberIDs map[string]struct{}
	log       *slog.Logger
}

func NewClient(cfg Config, auth *ytauth.Provider, log *slog.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	members := make(map[string]struct{}, len(cfg.MemberChannelIDs))
	for _, id := range cfg.MemberChannelIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			members[id] = struct{}{}
		}
	}
	return &Client{
		base:      base,
		http:      &http.Client{Timeout: timeout},
		auth:      auth,
		memberIDs: members,
		log:       log,
	}
}

// memberAuthorized reports whether the operator pre-authorized membership
// reads for the channel.
func (c *Client) memberAuthorized(channelID string) bool {
	_, ok := c.memberIDs[channelID]
	return ok
}

type httpStatusError struct {
	status int
	url    string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("ytchat: status %d for %s", e.status, e.url)
}

func isNotFound(err error) bool {
	var se *httpStatusError
	return errors.As(err, &se) && se.status == http.StatusNotFound
}

// fetchPage GETs a page path with the browser-shaped headers the upstream
// expects and returns the parsed document.
func (c *Client) fetchPage(ctx context.Context, path string, privileged bool) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req.Header, privileged)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{status: resp.StatusCode, url: path}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, pageBodyLimit))
	if err != nil {
		return nil, err
	}
	return parsePage(string(body))
}

// poll issues one next-batch request against the live or replay endpoint.
func (c *Client) poll(ctx context.Context, endpoint, apiKey string, innertubeCtx json.RawMessage, continuation string, privileged bool) (map[string]any, error) {
	payload := struct {
		Context      json.RawMessage `json:"context"`
		Continuation string          `json:"continuation"`
	}{Context: innertubeCtx, Continuation: continuation}

	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	target := fmt.Sprintf("%s%s?key=%s", c.base, endpoint, url.QueryEscape(apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyHeaders(req.Header, privileged)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{status: resp.StatusCode, url: endpoint}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, pollBodyLimit))
	if err != nil {
		return nil, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("ytchat: decode poll response: %w", err)
	}
	return decoded, nil
}

func (c *Client) applyHeaders(h http.Header, privileged bool) {
	h.Set("User-Agent", defaultUserAgent)
	h.Set("Accept-Language", "en-US,en;q=0.9")
	if c.auth != nil {
		c.auth.ApplyHeaders(h, privileged)
	}
}
