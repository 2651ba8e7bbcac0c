package signupapi

import "testing"

func TestNullIfEmpty(t *testing.T) {
	if nullIfEmpty("") != nil {
		t.Fatal("expected nil for empty string")
	}
	if got := nullIfEmpty("a@b.com"); got == nil || *got != "a@b.com" {
		t.Fatalf("expected pointer to a@b.com, got %v", got)
	}
}
