package idgen

import (
	"strings"
	"testing"
)

func TestNew_FormatAndUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if len(id) != 36 {
			t.Fatalf("expected 36 chars, got %d: %s", len(id), id)
		}
		if strings.Count(id, "-") != 4 {
			t.Fatalf("expected 4 dashes: %s", id)
		}
		if seen[id] {
			t.Fatalf("duplicate ID: %s", id)
		}
		seen[id] = true
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("txn_")
	if !strings.HasPrefix(id, "txn_") {
		t.Fatalf("missing prefix: %s", id)
	}
	if len(id) != len("txn_")+24 {
		t.Fatalf("expected prefix + 24 hex chars, got %d: %s", len(id), id)
	}
	if id == WithPrefix("txn_") {
		t.Fatal("two IDs should not collide")
	}
}
