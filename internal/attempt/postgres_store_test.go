package attempt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rgupta21/vigil/internal/testutil"
)

func TestPostgresRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewPostgresStore(db)
	ctx := context.Background()

	a := &Attempt{
		ID:               "att_pg1",
		Username:         "alice",
		IPAddress:        "1.1.1.1",
		BaselineProvider: "AS13335 Cloudflare",
		BaselineRegion:   "Lisbon",
		LastKnownIP:      "1.1.1.1",
		BrowserName:      "headless",
		HostOS:           "linux",
		CreatedAt:        time.Now().Truncate(time.Microsecond),
	}
	if err := s.Create(ctx, a); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "att_pg1")
	if err != nil {
		t.Fatal(err)
	}
	if got.BaselineProvider != a.BaselineProvider || got.BrowserName != "headless" {
		t.Errorf("got %+v", got)
	}

	if _, err := s.Get(ctx, "att_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestPostgresRecordIPChangeConflict(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewPostgresStore(db)
	ctx := context.Background()

	a := &Attempt{ID: "att_pg2", Username: "u", IPAddress: "1.1.1.1",
		LastKnownIP: "1.1.1.1", CreatedAt: time.Now()}
	if err := s.Create(ctx, a); err != nil {
		t.Fatal(err)
	}

	if err := s.RecordIPChange(ctx, "att_pg2", "2.2.2.2", 0); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, "att_pg2")
	if got.LastKnownIP != "2.2.2.2" || got.IPChangeCount != 1 {
		t.Errorf("got lastKnownIp=%s count=%d", got.LastKnownIP, got.IPChangeCount)
	}

	if err := s.RecordIPChange(ctx, "att_pg2", "3.3.3.3", 0); !errors.Is(err, ErrConflict) {
		t.Errorf("stale counter: got %v, want ErrConflict", err)
	}
	if err := s.RecordIPChange(ctx, "att_missing", "3.3.3.3", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing attempt: got %v, want ErrNotFound", err)
	}
}
