package client

import (
	"testing"

	"github.com/rgupta21/vigil/internal/journal"
)

func TestBufferAssignsMonotonicSeq(t *testing.T) {
	b := NewBuffer("att_1", 1)

	b.Observe(journal.WindowBlur, nil)
	b.Observe(journal.WindowFocus, nil)
	b.Observe(journal.TimerTick, nil)

	events := b.Drain()
	if len(events) != 3 {
		t.Fatalf("got %d events", len(events))
	}
	for i, e := range events {
		if e.Seq != int64(i+1) {
			t.Errorf("event %d: seq %d", i, e.Seq)
		}
		if e.AttemptID != "att_1" {
			t.Errorf("event %d: attempt %q", i, e.AttemptID)
		}
		if e.Timestamp.IsZero() {
			t.Errorf("event %d: no timestamp", i)
		}
	}

	if b.Len() != 0 {
		t.Errorf("buffer not empty after drain: %d", b.Len())
	}
	if b.NextSeq() != 4 {
		t.Errorf("next seq = %d, want 4", b.NextSeq())
	}
}

func TestBufferResumesSeqAcrossRestart(t *testing.T) {
	// A resumed session continues numbering where the snapshot left off.
	b := NewBuffer("att_1", 42)
	b.Observe(journal.TimerTick, nil)

	events := b.Drain()
	if events[0].Seq != 42 {
		t.Errorf("seq = %d, want 42", events[0].Seq)
	}
}
