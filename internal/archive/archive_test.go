package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenAppliesConnectionPragmas(t *testing.T) {
	s := openTestStore(t)

	var mode string
	if err := s.db.QueryRow(`PRAGMA journal_mode;`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
	var timeout int
	if err := s.db.QueryRow(`PRAGMA busy_timeout;`).Scan(&timeout); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", timeout)
	}
}

func TestStoreRawItemDedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AppendRawItem("vid1", "item1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendRawItem("vid1", "item1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("duplicate append: %v", err)
	}
	if err := s.AppendRawItem("vid2", "item1", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("other session append: %v", err)
	}

	n, err := s.CountRawItems(ctx, "vid1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("vid1 raw items = %d, want 1", n)
	}
}

func TestStoreRenderedLines(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AppendRenderedLine("vid1", CategoryChat, "X: hello"); err != nil {
		t.Fatalf("append chat: %v", err)
	}
	if err := s.AppendRenderedLine("vid1", CategoryPaid, "Y: [$5.00] thanks"); err != nil {
		t.Fatalf("append paid: %v", err)
	}
	if err := s.AppendRenderedLine("vid2", CategoryChat, "Z: other"); err != nil {
		t.Fatalf("append other session: %v", err)
	}

	lines, err := s.ListRenderedLines(ctx, Filters{SessionID: "vid1", Category: CategoryPaid})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(lines) != 1 || lines[0].Line != "Y: [$5.00] thanks" {
		t.Fatalf("paid lines = %+v", lines)
	}

	lines, err = s.ListRenderedLines(ctx, Filters{SessionID: "vid1"})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("vid1 lines = %d, want 2", len(lines))
	}
}

type recordingAppender struct {
	mu        sync.Mutex
	entries   []Entry
	failAfter int
	calls     int
}

func (r *recordingAppender) Append(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failAfter > 0 && r.calls >= r.failAfter {
		return fmt.Errorf("boom")
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingAppender) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func TestBufferedBatchFlush(t *testing.T) {
	base := &recordingAppender{}
	b := NewBuffered(base, BufferedOptions{BatchSize: 2, FlushInterval: time.Hour})
	defer func() {
		if err := b.Close(); err != nil {
			t.Fatalf("close error: %v", err)
		}
	}()

	if err := b.Append(Entry{SessionID: "v", Line: "1"}); err != nil {
		t.Fatalf("append1: %v", err)
	}
	if base.Count() != 0 {
		t.Fatalf("expected no flush yet")
	}
	if err := b.Append(Entry{SessionID: "v", Line: "2"}); err != nil {
		t.Fatalf("append2: %v", err)
	}
	if base.Count() != 2 {
		t.Fatalf("expected batch flush, got %d", base.Count())
	}
}

func TestBufferedFlushInterval(t *testing.T) {
	base := &recordingAppender{}
	b := NewBuffered(base, BufferedOptions{BatchSize: 10, FlushInterval: 20 * time.Millisecond})
	defer func() {
		if err := b.Close(); err != nil {
			t.Fatalf("close error: %v", err)
		}
	}()

	if err := b.Append(Entry{SessionID: "v", Line: "interval"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if base.Count() != 1 {
		t.Fatalf("expected timer flush, got %d", base.Count())
	}
}

func TestBufferedErrorPropagation(t *testing.T) {
	base := &recordingAppender{failAfter: 1}
	b := NewBuffered(base, BufferedOptions{BatchSize: 1, FlushInterval: 0})
	defer func() {
		_ = b.Close()
	}()

	if err := b.Append(Entry{SessionID: "v", Line: "err"}); err == nil {
		t.Fatalf("expected error from underlying appender")
	}
}
