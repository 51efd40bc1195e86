package ytchat

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/you/chat-relay/internal/core"
)

// Signature substrings locating the embedded JSON documents. These are the
// only markup-coupled constants; when the upstream page changes, this file is
// the one place to touch.
const (
	sigInitialData = "ytInitialData"
	sigYtConfig    = "ytcfg.set({"
)

// page wraps a fetched HTML document with the pieces the bootstrapper needs:
// inline script bodies and the microdata subtree.
type page struct {
	scripts []string
	root    *html.Node
}

func parsePage(body string) (*page, error) {
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrParseFailure, err)
	}
	p := &page{root: root}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode && c.Data != "" {
					p.scripts = append(p.scripts, c.Data)
				}
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return p, nil
}

// scriptJSON scans all inline script bodies for the first one containing the
// signature and returns the JSON span between the first '{' and the last '}'.
// The span technique is deliberately dumb: the upstream assigns one large
// object per script, and anything smarter breaks more often.
func (p *page) scriptJSON(signature string) (json.RawMessage, error) {
	for _, script := range p.scripts {
		if !strings.Contains(script, signature) {
			continue
		}
		start := strings.IndexByte(script, '{')
		end := strings.LastIndexByte(script, '}')
		if start == -1 || end == -1 || end <= start {
			continue
		}
		raw := json.RawMessage(script[start : end+1])
		if !json.Valid(raw) {
			continue
		}
		return raw, nil
	}
	return nil, fmt.Errorf("%w: no script matching %q", ErrParseFailure, signature)
}

// initialData decodes the ytInitialData document into a generic map.
func (p *page) initialData() (map[string]any, error) {
	raw, err := p.scriptJSON(sigInitialData)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: decode initial data: %v", ErrParseFailure, err)
	}
	return data, nil
}

type ytConfig struct {
	APIKey  string          `json:"INNERTUBE_API_KEY"`
	Context json.RawMessage `json:"INNERTUBE_CONTEXT"`
}

// config decodes the ytcfg document carrying the polling API key and the
// request-context blob.
func (p *page) config() (ytConfig, error) {
	raw, err := p.scriptJSON(sigYtConfig)
	if err != nil {
		return ytConfig{}, err
	}
	var cfg ytConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return ytConfig{}, fmt.Errorf("%w: decode ytcfg: %v", ErrParseFailure, err)
	}
	if cfg.APIKey == "" || len(cfg.Context) == 0 {
		return ytConfig{}, fmt.Errorf("%w: ytcfg missing api key or context", ErrParseFailure)
	}
	return cfg, nil
}

// videoMeta extracts the item-scope microdata block from the watch page.
// Fields may be absent; callers get zero values rather than an error.
func (p *page) videoMeta(videoID string) core.VideoMeta {
	meta := core.VideoMeta{VideoID: videoID}
	node := findMicrodataRoot(p.root)
	if node == nil {
		return meta
	}
	props := map[string]string{}
	collectItemProps(node, "", props)
	meta.Title = props["name"]
	meta.ChannelID = props["channelId"]
	meta.ChannelName = props["author.name"]
	meta.Duration = props["duration"]
	meta.DatePublished = props["datePublished"]
	if meta.ChannelID == "" {
		// Older markup carries the channel only as the author link.
		if u := props["author.url"]; u != "" {
			if idx := strings.LastIndex(u, "/channel/"); idx != -1 {
				meta.ChannelID = strings.Trim(u[idx+len("/channel/"):], "/")
			}
		}
	}
	return meta
}

func findMicrodataRoot(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && attr(n, "itemid") != "" && attr(n, "itemtype") != "" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findMicrodataRoot(c); found != nil {
			return found
		}
	}
	return nil
}

// collectItemProps flattens nested itemprop attributes into dotted keys
// ("author.name"). Leaf values come from href or content attributes.
func collectItemProps(n *html.Node, prefix string, out map[string]string) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		key := attr(c, "itemprop")
		if key == "" {
			collectItemProps(c, prefix, out)
			continue
		}
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if c.FirstChild != nil {
			collectItemProps(c, full, out)
			continue
		}
		value := attr(c, "href")
		if value == "" {
			value = attr(c, "content")
		}
		out[full] = value
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// digMap walks nested map keys and returns the final map, or nil if any hop
// is missing or not an object.
func digMap(m map[string]any, keys ...string) map[string]any {
	current := m
	for _, key := range keys {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current
}

func digSlice(m map[string]any, keys ...string) []any {
	if len(keys) == 0 {
		return nil
	}
	parent := m
	if len(keys) > 1 {
		parent = digMap(m, keys[:len(keys)-1]...)
	}
	if parent == nil {
		return nil
	}
	arr, _ := parent[keys[len(keys)-1]].([]any)
	return arr
}

func stringAt(m map[string]any, keys ...string) string {
	if len(keys) == 0 {
		return ""
	}
	parent := m
	if len(keys) > 1 {
		parent = digMap(m, keys[:len(keys)-1]...)
	}
	if parent == nil {
		return ""
	}
	s, _ := parent[keys[len(keys)-1]].(string)
	return s
}
