package ids

import (
	"strings"
	"testing"
)

func TestNewHasPrefixAndLength(t *testing.T) {
	id := New(PrefixAccount)
	if !strings.HasPrefix(id, "acc_") {
		t.Fatalf("expected acc_ prefix, got %q", id)
	}
	ulid := strings.TrimPrefix(id, "acc_")
	if len(ulid) != 26 {
		t.Fatalf("expected 26-char ULID, got %d chars: %q", len(ulid), ulid)
	}
	for _, r := range ulid {
		if !strings.ContainsRune(crockford, r) {
			t.Fatalf("unexpected character %q in ULID %q", r, ulid)
		}
	}
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New(PrefixAgent)
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestNewIsMonotonicWithinSameMillisecond(t *testing.T) {
	a := New(PrefixWallet)
	b := New(PrefixWallet)
	if a >= b {
		t.Fatalf("expected monotonic ordering, got %s then %s", a, b)
	}
}
