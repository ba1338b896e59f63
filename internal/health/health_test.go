package health

import (
	"context"
	"testing"
)

func TestRegistry_EmptyIsHealthy(t *testing.T) {
	r := NewRegistry()
	report := r.Check(context.Background())
	if !report.Healthy {
		t.Fatal("empty registry should report healthy")
	}
	if len(report.Subsystems) != 0 {
		t.Fatalf("expected no subsystems, got %d", len(report.Subsystems))
	}
}

func TestRegistry_AggregatesSubsystems(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})
	r.Register("audit", func(_ context.Context) Status {
		return Status{Name: "audit", Healthy: false, Detail: "backlog growing"}
	})

	report := r.Check(context.Background())
	if report.Healthy {
		t.Fatal("one unhealthy subsystem must fail the aggregate")
	}
	if len(report.Subsystems) != 2 {
		t.Fatalf("expected 2 subsystems, got %d", len(report.Subsystems))
	}
	if report.Subsystems[1].Detail != "backlog growing" {
		t.Fatalf("detail lost: %+v", report.Subsystems[1])
	}
}

func TestRegistry_AllHealthy(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"database", "audit"} {
		n := name
		r.Register(n, func(_ context.Context) Status {
			return Status{Name: n, Healthy: true}
		})
	}

	if report := r.Check(context.Background()); !report.Healthy {
		t.Fatal("all-healthy subsystems should aggregate healthy")
	}
}
