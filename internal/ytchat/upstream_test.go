package ytchat

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Fake upstream serving the watch page, the chat page, and a scripted
// sequence of poll responses. Shared by the bootstrap and session tests.

const (
	testVideoID = "dQw4w9WgXcQ"
	testAPIKey  = "test-api-key"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(Config{BaseURL: baseURL, HTTPTimeout: 5 * time.Second}, nil, discardLogger())
}

type watchPageSpec struct {
	title       string
	channelID   string
	channelName string
	replay      bool
	membersOnly bool
	reloadToken string
}

func (spec watchPageSpec) render(t *testing.T) string {
	t.Helper()
	data := map[string]any{"responseContext": map[string]any{}}
	if spec.replay {
		data["dateText"] = "Streamed live on Jan 2, 2026"
	}
	if spec.membersOnly {
		data["badgeStyle"] = "BADGE_STYLE_TYPE_MEMBERS_ONLY"
	}
	if spec.reloadToken != "" {
		data["contents"] = map[string]any{
			"twoColumnWatchNextResults": map[string]any{
				"conversationBar": map[string]any{
					"liveChatRenderer": map[string]any{
						"continuations": []any{
							map[string]any{
								"reloadContinuationData": map[string]any{"continuation": spec.reloadToken},
							},
						},
					},
				},
			},
		}
	}
	blob, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal watch initial data: %v", err)
	}
	return fmt.Sprintf(`<!doctype html><html><head>
<script>var ytInitialData = %s;</script>
</head><body>
<div itemid="watch-item" itemtype="http://schema.org/VideoObject">
<meta itemprop="name" content="%s">
<meta itemprop="channelId" content="%s">
<span itemprop="author"><link itemprop="name" content="%s"></span>
</div>
</body></html>`, blob, spec.title, spec.channelID, spec.channelName)
}

// chatPageHTML builds the live-chat (or replay-chat) page carrying the ytcfg
// credentials and the first continuation. timeoutMS of zero keeps tests fast.
func chatPageHTML(t *testing.T, live bool, token string, actions ...any) string {
	t.Helper()
	contKey := "liveChatReplayContinuationData"
	if live {
		contKey = "timedContinuationData"
	}
	container := map[string]any{
		"continuations": []any{
			map[string]any{contKey: map[string]any{"continuation": token, "timeoutMs": 0}},
		},
	}
	if len(actions) > 0 {
		container["actions"] = actions
	}
	var data map[string]any
	if live {
		data = map[string]any{"contents": map[string]any{"liveChatRenderer": container}}
	} else {
		data = map[string]any{"continuationContents": map[string]any{"liveChatContinuation": container}}
	}
	blob, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal chat initial data: %v", err)
	}
	return fmt.Sprintf(`<!doctype html><html><head>
<script>ytcfg.set({"INNERTUBE_API_KEY":%q,"INNERTUBE_CONTEXT":{"client":{"clientName":"WEB"}}});</script>
<script>window["ytInitialData"] = %s;</script>
</head><body></body></html>`, testAPIKey, blob)
}

// pollStep scripts one poll response. A zero status means 200.
type pollStep struct {
	status int
	body   []byte
}

func pollBody(t *testing.T, token string, actions ...any) []byte {
	t.Helper()
	container := map[string]any{
		"continuations": []any{
			map[string]any{"invalidationContinuationData": map[string]any{"continuation": token, "timeoutMs": 0}},
		},
	}
	if len(actions) > 0 {
		container["actions"] = actions
	}
	blob, err := json.Marshal(map[string]any{
		"continuationContents": map[string]any{"liveChatContinuation": container},
	})
	if err != nil {
		t.Fatalf("marshal poll body: %v", err)
	}
	return blob
}

// pollEndBody is the server's completion signal: a valid response without a
// chat continuation container.
func pollEndBody() []byte {
	return []byte(`{"responseContext":{}}`)
}

// pollNoContinuationBody carries actions but no next token.
func pollNoContinuationBody(t *testing.T, actions ...any) []byte {
	t.Helper()
	container := map[string]any{}
	if len(actions) > 0 {
		container["actions"] = actions
	}
	blob, err := json.Marshal(map[string]any{
		"continuationContents": map[string]any{"liveChatContinuation": container},
	})
	if err != nil {
		t.Fatalf("marshal poll body: %v", err)
	}
	return blob
}

func textAction(id, author, text string) map[string]any {
	return map[string]any{
		"addChatItemAction": map[string]any{
			"item": map[string]any{
				"liveChatTextMessageRenderer": map[string]any{
					"id":                      id,
					"timestampUsec":           "1700000000000000",
					"authorExternalChannelId": "UC-author-000000000000",
					"authorName":              map[string]any{"simpleText": author},
					"message":                 map[string]any{"simpleText": text},
				},
			},
		},
	}
}

type upstream struct {
	t   *testing.T
	srv *httptest.Server

	watchHTML string
	chatHTML  string

	mu        sync.Mutex
	steps     []pollStep
	tokens    []string
	chatPaths []string
}

func newUpstream(t *testing.T, watchHTML, chatHTML string, steps ...pollStep) *upstream {
	t.Helper()
	u := &upstream{t: t, watchHTML: watchHTML, chatHTML: chatHTML, steps: steps}
	mux := http.NewServeMux()
	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		if u.watchHTML == "" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, u.watchHTML)
	})
	chatPage := func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.chatPaths = append(u.chatPaths, r.URL.RequestURI())
		u.mu.Unlock()
		if u.chatHTML == "" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, u.chatHTML)
	}
	mux.HandleFunc("/live_chat", chatPage)
	mux.HandleFunc("/live_chat_replay", chatPage)
	poll := func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Continuation string `json:"continuation"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode poll request: %v", err)
		}
		u.mu.Lock()
		u.tokens = append(u.tokens, req.Continuation)
		var step pollStep
		if len(u.steps) > 0 {
			step = u.steps[0]
			u.steps = u.steps[1:]
		} else {
			step = pollStep{body: pollEndBody()}
		}
		u.mu.Unlock()
		if step.status != 0 && step.status != http.StatusOK {
			w.WriteHeader(step.status)
			return
		}
		w.Write(step.body)
	}
	mux.HandleFunc(endpointLiveChat, poll)
	mux.HandleFunc(endpointReplayChat, poll)
	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) polledTokens() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.tokens...)
}

func (u *upstream) chatPagePaths() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.chatPaths...)
}

func (u *upstream) client(t *testing.T) *Client {
	return testClient(t, u.srv.URL)
}

func liveWatchHTML(t *testing.T) string {
	return watchPageSpec{
		title:       "Launch Stream",
		channelID:   "UC-host-00000000000000",
		channelName: "Host Channel",
	}.render(t)
}
