package registryapi

import "testing"

func TestSubmissionZeroValueHasNoFields(t *testing.T) {
	var s submission
	if s.Slug != "" || s.Capability != "" {
		t.Fatalf("expected zero-value submission, got %+v", s)
	}
}
