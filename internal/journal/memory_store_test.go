package journal

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAppendBatchValidation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.AppendBatch(ctx, nil); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("empty batch: got %v, want ErrEmptyBatch", err)
	}

	err := s.AppendBatch(ctx, []*Event{
		{Name: WindowBlur, AttemptID: ""},
	})
	if !errors.Is(err, ErrMissingAttempt) {
		t.Errorf("missing attempt: got %v, want ErrMissingAttempt", err)
	}

	err = s.AppendBatch(ctx, []*Event{
		{Name: WindowBlur, AttemptID: "att_1"},
		{Name: WindowFocus, AttemptID: "att_2"},
	})
	if !errors.Is(err, ErrMixedAttempts) {
		t.Errorf("mixed attempts: got %v, want ErrMixedAttempts", err)
	}

	err = s.AppendBatch(ctx, []*Event{
		{Name: "NOT_A_REAL_EVENT", AttemptID: "att_1"},
	})
	if !errors.Is(err, ErrUnknownEventName) {
		t.Errorf("unknown name: got %v, want ErrUnknownEventName", err)
	}
}

func TestAppendBatchAllOrNothing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	batch := []*Event{
		{Name: WindowBlur, AttemptID: "att_1"},
		{Name: WindowFocus, AttemptID: "att_1"},
		{Name: TabVisibilityChanged, AttemptID: "att_1"},
		{Name: "BOGUS", AttemptID: "att_1"},
	}
	if err := s.AppendBatch(ctx, batch); !errors.Is(err, ErrUnknownEventName) {
		t.Fatalf("got %v, want ErrUnknownEventName", err)
	}

	events, err := s.ListByAttempt(ctx, "att_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("rejected batch persisted %d events, want 0", len(events))
	}
}

func TestAppendBatchAssignsIDsAndTimestamps(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	e := &Event{Name: WindowBlur, AttemptID: "att_1"}
	if err := s.AppendBatch(ctx, []*Event{e}); err != nil {
		t.Fatal(err)
	}
	if e.ID == "" {
		t.Error("expected assigned ID to be written back to caller's event")
	}

	events, err := s.ListByAttempt(ctx, "att_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].ID == "" || events[0].Timestamp.IsZero() {
		t.Error("stored event missing ID or timestamp")
	}
}

func TestStoredEventsAreCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	meta := &Metadata{OldIP: "1.1.1.1", NewIP: "2.2.2.2"}
	e := &Event{Name: IPChangeDetected, AttemptID: "att_1", Metadata: meta}
	if err := s.AppendBatch(ctx, []*Event{e}); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's event after append must not change history.
	e.Name = WindowFocus
	meta.OldIP = "9.9.9.9"

	events, _ := s.ListByAttempt(ctx, "att_1")
	if events[0].Name != IPChangeDetected {
		t.Errorf("stored name changed to %s", events[0].Name)
	}
	if events[0].Metadata.OldIP != "1.1.1.1" {
		t.Errorf("stored metadata changed to %s", events[0].Metadata.OldIP)
	}
}

func TestListByAttemptOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()

	// A later direct-send batch lands before an older queued batch.
	direct := []*Event{
		{Name: WindowFocus, AttemptID: "att_1", Seq: 3, Timestamp: base.Add(30 * time.Second)},
	}
	queued := []*Event{
		{Name: WindowBlur, AttemptID: "att_1", Seq: 1, Timestamp: base},
		{Name: TabVisibilityChanged, AttemptID: "att_1", Seq: 2, Timestamp: base.Add(10 * time.Second)},
	}
	if err := s.AppendBatch(ctx, direct); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendBatch(ctx, queued); err != nil {
		t.Fatal(err)
	}

	events, err := s.ListByAttempt(ctx, "att_1")
	if err != nil {
		t.Fatal(err)
	}
	want := []EventName{WindowBlur, TabVisibilityChanged, WindowFocus}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, name := range want {
		if events[i].Name != name {
			t.Errorf("position %d: got %s, want %s", i, events[i].Name, name)
		}
	}
}

func TestCounts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	batch := []*Event{
		{Name: IPCheckPerformed, AttemptID: "att_1"},
		{Name: IPChangeDetected, AttemptID: "att_1"},
		{Name: IPChangeClassified, AttemptID: "att_1"},
		{Name: WindowBlur, AttemptID: "att_1"},
		{Name: AttemptCompleted, AttemptID: "att_1"},
	}
	if err := s.AppendBatch(ctx, batch); err != nil {
		t.Fatal(err)
	}
	// A different attempt's events must not leak into the counts.
	if err := s.AppendBatch(ctx, []*Event{{Name: WindowBlur, AttemptID: "att_2"}}); err != nil {
		t.Fatal(err)
	}

	n, err := s.CountByName(ctx, "att_1", AttemptCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CountByName = %d, want 1", n)
	}

	c, err := s.CountsForAttempt(ctx, "att_1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Total != 5 {
		t.Errorf("Total = %d, want 5", c.Total)
	}
	// IP_CHANGE_DETECTED and WINDOW_BLUR are suspicious; the classified
	// follow-up and the check itself are not.
	if c.Suspicious != 2 {
		t.Errorf("Suspicious = %d, want 2", c.Suspicious)
	}
}

func TestMutationsAlwaysFail(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	e := &Event{Name: WindowBlur, AttemptID: "att_1"}
	if err := s.AppendBatch(ctx, []*Event{e}); err != nil {
		t.Fatal(err)
	}

	if err := s.Update(ctx, e); !errors.Is(err, ErrImmutable) {
		t.Errorf("Update: got %v, want ErrImmutable", err)
	}
	if err := s.UpdateBatch(ctx, []*Event{e}); !errors.Is(err, ErrImmutable) {
		t.Errorf("UpdateBatch: got %v, want ErrImmutable", err)
	}
	if err := s.Delete(ctx, e.ID); !errors.Is(err, ErrImmutable) {
		t.Errorf("Delete: got %v, want ErrImmutable", err)
	}
	if err := s.DeleteBatch(ctx, []string{e.ID}); !errors.Is(err, ErrImmutable) {
		t.Errorf("DeleteBatch: got %v, want ErrImmutable", err)
	}

	events, _ := s.ListByAttempt(ctx, "att_1")
	if len(events) != 1 {
		t.Errorf("event count changed after failed mutations: %d", len(events))
	}
}

func TestSuspiciousVocabulary(t *testing.T) {
	suspicious := []EventName{IPChangeDetected, FullscreenExited, TabVisibilityChanged, WindowBlur}
	for _, name := range suspicious {
		if !name.Suspicious() {
			t.Errorf("%s should be suspicious", name)
		}
	}
	benign := []EventName{IPCheckPerformed, IPChangeClassified, WindowFocus, TimerTick, AttemptCompleted}
	for _, name := range benign {
		if name.Suspicious() {
			t.Errorf("%s should not be suspicious", name)
		}
	}
}
