package agentapi

import "testing"

func TestDerefSliceNil(t *testing.T) {
	if got := derefSlice(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestDerefSlicePresent(t *testing.T) {
	s := []string{"a", "b"}
	got := derefSlice(&s)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected slice: %v", got)
	}
}
