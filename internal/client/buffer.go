package client

import (
	"sync"
	"time"

	"github.com/rgupta21/vigil/internal/journal"
)

// Buffer accumulates observed events between flushes. Observe stamps
// each event with the observation time and a monotonic per-attempt
// sequence number so the server can restore observation order when a
// queued batch lands after a later direct-send batch.
type Buffer struct {
	mu        sync.Mutex
	attemptID string
	seq       int64
	events    []*journal.Event
}

// NewBuffer creates a buffer for one attempt. nextSeq is the first
// sequence number to assign; pass the value recovered from a previous
// run to keep the sequence monotonic across restarts.
func NewBuffer(attemptID string, nextSeq int64) *Buffer {
	if nextSeq < 1 {
		nextSeq = 1
	}
	return &Buffer{attemptID: attemptID, seq: nextSeq}
}

// Observe records one event.
func (b *Buffer) Observe(name journal.EventName, meta *journal.Metadata) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, &journal.Event{
		Name:      name,
		Timestamp: time.Now(),
		AttemptID: b.attemptID,
		Seq:       b.seq,
		Metadata:  meta,
	})
	b.seq++
}

// Drain returns the buffered events and empties the buffer.
func (b *Buffer) Drain() []*journal.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.events
	b.events = nil
	return out
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// NextSeq returns the next sequence number to be assigned.
func (b *Buffer) NextSeq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}
