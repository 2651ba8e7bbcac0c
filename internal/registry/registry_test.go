package registry

import "testing"

func TestResolvePicksHighestPriorityActive(t *testing.T) {
	r := New()
	r.Load([]Provider{
		{ServiceSlug: "openai", Capability: "chat_completion", Priority: 10, Active: true},
		{ServiceSlug: "anthropic", Capability: "chat_completion", Priority: 20, Active: true},
		{ServiceSlug: "cohere", Capability: "chat_completion", Priority: 5, Active: true},
	})

	p, err := r.Resolve("chat_completion")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.ServiceSlug != "anthropic" {
		t.Errorf("ServiceSlug = %q, want anthropic (highest priority)", p.ServiceSlug)
	}
}

func TestResolveSkipsInactiveProviders(t *testing.T) {
	r := New()
	r.Load([]Provider{
		{ServiceSlug: "anthropic", Capability: "chat_completion", Priority: 20, Active: false},
		{ServiceSlug: "openai", Capability: "chat_completion", Priority: 10, Active: true},
	})

	p, err := r.Resolve("chat_completion")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.ServiceSlug != "openai" {
		t.Errorf("ServiceSlug = %q, want openai (anthropic is inactive)", p.ServiceSlug)
	}
}

func TestResolveNoActiveProviderReturnsErrNoProvider(t *testing.T) {
	r := New()
	r.Load([]Provider{
		{ServiceSlug: "openai", Capability: "chat_completion", Priority: 10, Active: false},
	})

	if _, err := r.Resolve("chat_completion"); err != ErrNoProvider {
		t.Errorf("err = %v, want ErrNoProvider", err)
	}
}

func TestResolveUnknownCapabilityReturnsErrNoProvider(t *testing.T) {
	r := New()
	if _, err := r.Resolve("image_generation"); err != ErrNoProvider {
		t.Errorf("err = %v, want ErrNoProvider", err)
	}
}

func TestResolveTieBreaksByInsertionOrder(t *testing.T) {
	r := New()
	r.Load([]Provider{
		{ServiceSlug: "first", Capability: "web_search", Priority: 10, Active: true},
		{ServiceSlug: "second", Capability: "web_search", Priority: 10, Active: true},
	})

	p, err := r.Resolve("web_search")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.ServiceSlug != "first" {
		t.Errorf("ServiceSlug = %q, want first (stable sort should preserve insertion order on ties)", p.ServiceSlug)
	}
}

func TestUpsertReplacesExistingBinding(t *testing.T) {
	r := New()
	r.Load([]Provider{
		{ServiceSlug: "openai", Capability: "chat_completion", Priority: 10, Active: true},
	})

	r.Upsert(Provider{ServiceSlug: "openai", Capability: "chat_completion", Priority: 10, Active: false})

	if _, err := r.Resolve("chat_completion"); err != ErrNoProvider {
		t.Errorf("expected no active provider after Upsert deactivated the only binding, got err=%v", err)
	}
}

func TestUpsertAddsNewBindingAndResorts(t *testing.T) {
	r := New()
	r.Load([]Provider{
		{ServiceSlug: "openai", Capability: "chat_completion", Priority: 10, Active: true},
	})

	r.Upsert(Provider{ServiceSlug: "anthropic", Capability: "chat_completion", Priority: 50, Active: true})

	p, err := r.Resolve("chat_completion")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.ServiceSlug != "anthropic" {
		t.Errorf("ServiceSlug = %q, want anthropic (priority 50 should win)", p.ServiceSlug)
	}
}

func TestListReturnsAllProvidersInPriorityOrder(t *testing.T) {
	r := New()
	r.Load([]Provider{
		{ServiceSlug: "cohere", Capability: "chat_completion", Priority: 5, Active: true},
		{ServiceSlug: "anthropic", Capability: "chat_completion", Priority: 20, Active: true},
		{ServiceSlug: "openai", Capability: "chat_completion", Priority: 10, Active: false},
	})

	list := r.List("chat_completion")
	if len(list) != 3 {
		t.Fatalf("len(list) = %d, want 3", len(list))
	}
	want := []string{"anthropic", "openai", "cohere"}
	for i, slug := range want {
		if list[i].ServiceSlug != slug {
			t.Errorf("list[%d].ServiceSlug = %q, want %q", i, list[i].ServiceSlug, slug)
		}
	}
}

func TestCapabilitiesReturnsSortedNames(t *testing.T) {
	r := New()
	r.Load([]Provider{
		{ServiceSlug: "openai", Capability: "chat_completion", Priority: 10, Active: true},
		{ServiceSlug: "brave", Capability: "web_search", Priority: 10, Active: true},
	})

	got := r.Capabilities()
	want := []string{"chat_completion", "web_search"}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
