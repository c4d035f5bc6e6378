package health

import (
	"context"
	"testing"
)

func TestCheckAllEmpty(t *testing.T) {
	r := NewRegistry()

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("got %d statuses", len(statuses))
	}
}

func TestCheckAllAggregates(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(context.Context) Status {
		return Status{Healthy: true}
	})
	r.Register("ip_metadata", func(context.Context) Status {
		return Status{Healthy: false, Detail: "lookup circuit open"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("one unhealthy checker must fail the aggregate")
	}
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses", len(statuses))
	}
	// Registration order and registry-stamped fields.
	if statuses[0].Name != "database" || statuses[1].Name != "ip_metadata" {
		t.Errorf("order = %q, %q", statuses[0].Name, statuses[1].Name)
	}
	if statuses[1].Detail != "lookup circuit open" {
		t.Errorf("detail = %q", statuses[1].Detail)
	}
	if statuses[0].CheckedAt.IsZero() {
		t.Error("CheckedAt not stamped")
	}
}

func TestRegisterReplacesByName(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(context.Context) Status {
		return Status{Healthy: false}
	})
	r.Register("database", func(context.Context) Status {
		return Status{Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("replacement checker should win")
	}
	if len(statuses) != 1 {
		t.Fatalf("got %d statuses, want 1", len(statuses))
	}
}

func TestCheckersGetDeadline(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(ctx context.Context) Status {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("checker context carries no deadline")
		}
		return Status{Healthy: true}
	})

	r.CheckAll(context.Background())
}
