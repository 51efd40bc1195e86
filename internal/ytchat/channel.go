package ytchat

import "context"

// ChannelBroadcast is one entry on a channel's streams tab that is either on
// air or announced.
type ChannelBroadcast struct {
	VideoID string
	// Live is false for upcoming broadcasts that have not started yet.
	Live bool
}

// ChannelBroadcasts lists the videos currently shown as live or upcoming on a
// channel's streams tab, in page order.
func (c *Client) ChannelBroadcasts(ctx context.Context, channelID string) ([]ChannelBroadcast, error) {
	p, err := c.fetchPage(ctx, "/channel/"+channelID+"/streams", false)
	if err != nil {
		return nil, err
	}
	data, err := p.initialData()
	if err != nil {
		return nil, err
	}

	var out []ChannelBroadcast
	seen := make(map[string]struct{})
	walkRenderers(data, "videoRenderer", func(r map[string]any) {
		id, _ := r["videoId"].(string)
		if id == "" {
			return
		}
		live, ok := broadcastStatus(r)
		if !ok {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, ChannelBroadcast{VideoID: id, Live: live})
	})
	return out, nil
}

// broadcastStatus reads the thumbnail time-status overlay. Finished streams
// carry a DEFAULT style with a duration and report ok=false.
func broadcastStatus(renderer map[string]any) (live, ok bool) {
	for _, overlay := range digSlice(renderer, "thumbnailOverlays") {
		o, overlayOK := overlay.(map[string]any)
		if !overlayOK {
			continue
		}
		switch stringAt(o, "thumbnailOverlayTimeStatusRenderer", "style") {
		case "LIVE":
			return true, true
		case "UPCOMING":
			return false, true
		}
	}
	return false, false
}

// walkRenderers calls fn for every map found under the given key anywhere in
// the tree.
func walkRenderers(node any, key string, fn func(map[string]any)) {
	switch v := node.(type) {
	case map[string]any:
		if r, ok := v[key].(map[string]any); ok {
			fn(r)
		}
		for _, child := range v {
			walkRenderers(child, key, fn)
		}
	case []any:
		for _, child := range v {
			walkRenderers(child, key, fn)
		}
	}
}
