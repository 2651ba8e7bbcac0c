// Package registry resolves a capability (e.g. "chat_completion") to the
// highest-priority active provider registered for it (§4.2).
package registry

import (
	"fmt"
	"sort"
	"sync"
)

// ErrNoProvider is returned when a capability has no active provider.
var ErrNoProvider = fmt.Errorf("registry: no active provider for capability")

// Provider is one (capability, service) binding.
type Provider struct {
	ServiceSlug string
	Capability  string
	Priority    int
	Active      bool
}

// Registry holds, per capability, the ordered list of providers willing to
// serve it. Writes (Load/Upsert) take the writer lock and rebuild the sorted
// slice; reads (Resolve/List) take the read lock, so they are not lock-free.
type Registry struct {
	mu        sync.RWMutex
	providers map[string][]Provider // capability -> providers, sorted by priority desc, then insertion order
	seq       int
	order     map[string]int // serviceSlug+"/"+capability -> insertion sequence (recorded only; sort.SliceStable supplies the tie order)
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		providers: make(map[string][]Provider),
		order:     make(map[string]int),
	}
}

// Load replaces the entire registry contents atomically, used on startup and
// after a registry admin mutation (§4.2). Providers are grouped by Capability
// and sorted by Priority descending, ties broken by the order they appear in
// providers.
func (r *Registry) Load(providers []Provider) {
	byCapability := make(map[string][]Provider)
	order := make(map[string]int)
	for i, p := range providers {
		byCapability[p.Capability] = append(byCapability[p.Capability], p)
		order[p.ServiceSlug+"/"+p.Capability] = i
	}
	for capability, list := range byCapability {
		list := list
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Priority > list[j].Priority
		})
		byCapability[capability] = list
	}

	r.mu.Lock()
	r.providers = byCapability
	r.order = order
	r.seq = len(providers)
	r.mu.Unlock()
}

// Upsert registers or updates a single provider binding, re-sorting its
// capability's list. New bindings are appended after existing ones with the
// same priority (insertion-order tie-break).
func (r *Registry) Upsert(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := p.ServiceSlug + "/" + p.Capability
	list := r.providers[p.Capability]
	replaced := false
	for i, existing := range list {
		if existing.ServiceSlug == p.ServiceSlug {
			list[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, p)
		r.order[key] = r.seq
		r.seq++
	}

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Priority > list[j].Priority
	})
	r.providers[p.Capability] = list
}

// Resolve returns the highest-priority active provider for capability, or
// ErrNoProvider if none is active. This is the NOT_FOUND source for the
// pipeline's capability-resolution step (§4.6 step 2).
func (r *Registry) Resolve(capability string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.providers[capability] {
		if p.Active {
			return p, nil
		}
	}
	return Provider{}, ErrNoProvider
}

// List returns every provider registered for capability, active or not, in
// priority order. Used by the GET /capabilities/{name} handler.
func (r *Registry) List(capability string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.providers[capability]
	out := make([]Provider, len(list))
	copy(out, list)
	return out
}

// Capabilities returns the set of capability names with at least one
// registered provider.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.providers))
	for capability := range r.providers {
		out = append(out, capability)
	}
	sort.Strings(out)
	return out
}
