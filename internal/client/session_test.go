package client

import (
	"context"
	"testing"
	"time"
)

func TestSessionSaveLoadClear(t *testing.T) {
	kv := NewMemoryStore()
	s := NewSessionStore(kv)
	ctx := context.Background()

	// Nothing saved yet.
	snap, err := s.Load(ctx)
	if err != nil || snap != nil {
		t.Fatalf("empty store: snap=%v err=%v", snap, err)
	}

	in := &Snapshot{
		AttemptID:     "att_1",
		TimeRemaining: 17 * time.Minute,
		IsRunning:     true,
		Answers:       map[string]int{"q1": 2, "q2": 0},
		CurrentIndex:  2,
		NextSeq:       42,
	}
	if err := s.Save(ctx, in); err != nil {
		t.Fatal(err)
	}
	if in.LastUpdated.IsZero() {
		t.Error("Save did not stamp LastUpdated")
	}

	out, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out == nil || out.AttemptID != "att_1" || out.TimeRemaining != 17*time.Minute {
		t.Fatalf("got %+v", out)
	}
	if out.Answers["q1"] != 2 || out.NextSeq != 42 {
		t.Errorf("got answers=%v nextSeq=%d", out.Answers, out.NextSeq)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	snap, _ = s.Load(ctx)
	if snap != nil {
		t.Error("snapshot survived Clear")
	}
}

func TestSessionCorruptSnapshotReadsAsNil(t *testing.T) {
	kv := NewMemoryStore()
	s := NewSessionStore(kv)
	ctx := context.Background()

	if err := kv.Set(ctx, sessionKey, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	snap, err := s.Load(ctx)
	if err != nil || snap != nil {
		t.Errorf("corrupt snapshot: snap=%v err=%v, want nil/nil", snap, err)
	}

	// A snapshot without an attempt is useless for recovery.
	if err := kv.Set(ctx, sessionKey, []byte(`{"isRunning":true}`)); err != nil {
		t.Fatal(err)
	}
	snap, err = s.Load(ctx)
	if err != nil || snap != nil {
		t.Errorf("attemptless snapshot: snap=%v err=%v, want nil/nil", snap, err)
	}
}
