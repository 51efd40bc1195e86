package relay

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/you/chat-relay/internal/archive"
	"github.com/you/chat-relay/internal/core"
	"github.com/you/chat-relay/internal/router"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string // "dest|text"
	fails map[string]bool
}

func (f *fakeSender) SendToDestination(dest, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails[dest] {
		return fmt.Errorf("down")
	}
	f.sent = append(f.sent, dest+"|"+text)
	return nil
}

func (f *fakeSender) destinations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		out = append(out, strings.SplitN(s, "|", 2)[0])
	}
	return out
}

type fakeSink struct {
	mu      sync.Mutex
	entries []archive.Entry
}

func (f *fakeSink) Append(e archive.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func testMeta() core.VideoMeta {
	return core.VideoMeta{VideoID: "vid00000001", ChannelID: "UChost", ChannelName: "Host", IsLive: true}
}

func testRelay(tracks []core.Track, sender Sender, sink archive.Appender) *Relay {
	return New(Options{
		Router: router.New(tracks, nil),
		Sender: sender,
		Sink:   sink,
	})
}

func TestHandleEventIndependentFanOut(t *testing.T) {
	sender := &fakeSender{fails: map[string]bool{"D1": true}}
	r := testRelay([]core.Track{
		{DestinationID: "D1", AllowNormalChat: true},
		{DestinationID: "D2", AllowNormalChat: true},
	}, sender, nil)

	r.handleEvent(testMeta(), core.ChatEvent{
		Kind: core.KindTextMessage, ID: "e1", AuthorName: "X", Message: "hello",
	})

	got := sender.destinations()
	if len(got) != 1 || got[0] != "D2" {
		t.Fatalf("deliveries = %v, want only D2 despite D1 failure", got)
	}
}

func TestSubscriptionDelivery(t *testing.T) {
	sender := &fakeSender{}
	r := testRelay(nil, sender, nil)
	meta := testMeta()

	r.Subscribe(meta.VideoID, "D9")
	r.handleEvent(meta, core.ChatEvent{Kind: core.KindTextMessage, ID: "e1", AuthorName: "X", Message: "hi"})
	if got := sender.destinations(); len(got) != 1 || got[0] != "D9" {
		t.Fatalf("deliveries = %v, want D9 via subscription", got)
	}

	r.Unsubscribe(meta.VideoID, "D9")
	r.handleEvent(meta, core.ChatEvent{Kind: core.KindTextMessage, ID: "e2", AuthorName: "X", Message: "hi"})
	if got := sender.destinations(); len(got) != 1 {
		t.Fatalf("unsubscribed destination still delivered: %v", got)
	}
}

func TestSubscriptionDedupAgainstTracks(t *testing.T) {
	sender := &fakeSender{}
	r := testRelay([]core.Track{{DestinationID: "D1", AllowNormalChat: true}}, sender, nil)
	meta := testMeta()

	r.Subscribe(meta.VideoID, "D1")
	r.handleEvent(meta, core.ChatEvent{Kind: core.KindTextMessage, ID: "e1", AuthorName: "X", Message: "hi"})
	if got := sender.destinations(); len(got) != 1 {
		t.Fatalf("destination matched by track and subscription delivered %d times", len(got))
	}
}

func TestArchiveCategories(t *testing.T) {
	sink := &fakeSink{}
	r := testRelay(nil, &fakeSender{}, sink)
	meta := testMeta()

	r.handleEvent(meta, core.ChatEvent{Kind: core.KindTextMessage, ID: "e1", AuthorName: "X", Message: "hi"})
	r.handleEvent(meta, core.ChatEvent{
		Kind: core.KindPaidMessage, ID: "e2", AuthorName: "Y", Message: "thanks", PurchaseAmount: "$5.00",
	})

	if len(sink.entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(sink.entries))
	}
	if sink.entries[0].Category != archive.CategoryChat {
		t.Fatalf("first entry category = %q", sink.entries[0].Category)
	}
	if sink.entries[1].Category != archive.CategoryPaid || !strings.Contains(sink.entries[1].Line, "[$5.00]") {
		t.Fatalf("paid entry = %+v", sink.entries[1])
	}
}

func TestRawArchiveUsesEventID(t *testing.T) {
	sink := &fakeSink{}
	r := testRelay(nil, &fakeSender{}, sink)
	r.archiveRaw("vid00000001", "e7", []byte(`{"x":1}`))

	if len(sink.entries) != 1 || sink.entries[0].ItemID != "e7" || len(sink.entries[0].ItemJSON) == 0 {
		t.Fatalf("raw entry = %+v", sink.entries)
	}
}

func TestHandleEndNotifiesAndClearsSubscriptions(t *testing.T) {
	sender := &fakeSender{}
	r := testRelay([]core.Track{{DestinationID: "D1", AllowNormalChat: true}}, sender, nil)
	meta := testMeta()
	r.Subscribe(meta.VideoID, "D2")

	r.handleEnd(meta, core.EndStream)

	got := sender.destinations()
	if len(got) != 2 {
		t.Fatalf("end deliveries = %v, want D1 and D2", got)
	}
	for _, s := range sender.sent {
		if !strings.Contains(s, "[vid00000001] end: stream") {
			t.Fatalf("end text wrong: %q", s)
		}
	}
	if subs := r.Subscriptions(meta.VideoID); len(subs) != 0 {
		t.Fatalf("subscriptions not cleared: %v", subs)
	}
}
