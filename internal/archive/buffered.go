package archive

import (
	"errors"
	"sync"
	"time"
)

// Entry is one pending archive write: a raw item when ItemJSON is set,
// otherwise a rendered transcript line.
type Entry struct {
	SessionID string
	ItemID    string
	ItemJSON  []byte
	Category  Category
	Line      string
}

type Appender interface {
	Append(Entry) error
}

// Append dispatches an entry to the matching table.
func (s *Store) Append(e Entry) error {
	if len(e.ItemJSON) > 0 {
		return s.AppendRawItem(e.SessionID, e.ItemID, e.ItemJSON)
	}
	return s.AppendRenderedLine(e.SessionID, e.Category, e.Line)
}

// Buffered batches archive writes. Flushes happen when the batch fills or the
// flush interval elapses; a flush error surfaces on the next Append call.
type Buffered struct {
	base          Appender
	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	buffer  []Entry
	timer   *time.Timer
	closed  bool
	lastErr error
}

type BufferedOptions struct {
	BatchSize     int
	FlushInterval time.Duration
}

func NewBuffered(base Appender, opts BufferedOptions) *Buffered {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 1
	}
	return &Buffered{
		base:          base,
		batchSize:     batch,
		flushInterval: opts.FlushInterval,
	}
}

func (b *Buffered) Append(e Entry) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("buffered archive closed")
	}

	pendingErr := b.lastErr
	b.lastErr = nil

	b.buffer = append(b.buffer, e)
	if len(b.buffer) == 1 && b.flushInterval > 0 {
		b.startTimerLocked()
	}

	if len(b.buffer) < b.batchSize {
		b.mu.Unlock()
		return pendingErr
	}

	entries := append([]Entry(nil), b.buffer...)
	b.buffer = b.buffer[:0]
	b.stopTimerLocked()
	b.mu.Unlock()

	if err := b.appendAll(entries); err != nil {
		return err
	}
	return pendingErr
}

func (b *Buffered) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.stopTimerLocked()
	entries := append([]Entry(nil), b.buffer...)
	b.buffer = nil
	pendingErr := b.lastErr
	b.lastErr = nil
	b.mu.Unlock()

	if len(entries) > 0 {
		if err := b.appendAll(entries); err != nil {
			return err
		}
	}
	return pendingErr
}

func (b *Buffered) onTimer() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.buffer) == 0 {
		b.timer = nil
		b.mu.Unlock()
		return
	}
	entries := append([]Entry(nil), b.buffer...)
	b.buffer = b.buffer[:0]
	b.timer = nil
	b.mu.Unlock()

	if err := b.appendAll(entries); err != nil {
		b.mu.Lock()
		b.lastErr = err
		b.mu.Unlock()
	}
}

func (b *Buffered) startTimerLocked() {
	if b.flushInterval <= 0 {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.flushInterval, b.onTimer)
}

func (b *Buffered) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Buffered) appendAll(entries []Entry) error {
	for _, e := range entries {
		if err := b.base.Append(e); err != nil {
			return err
		}
	}
	return nil
}
