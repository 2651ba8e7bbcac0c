// Package adapter implements the three-phase upstream call contract used by
// the pipeline: quote, execute, finalize (§4.3).
package adapter

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUpstream wraps any failure talking to the upstream service, mapped by
// the pipeline to the UPSTREAM_ERROR error kind.
var ErrUpstream = errors.New("adapter: upstream error")

// QuoteResult is the pure cost estimate produced before the wallet hold.
type QuoteResult struct {
	Operation  string
	QuotedSats int64
}

// ExecResult is the raw upstream response handed to Finalize.
type ExecResult struct {
	Status  int
	Data    json.RawMessage
	Headers map[string]string
}

// FinalizeResult carries the actual cost once usage is known.
type FinalizeResult struct {
	FinalSats int64
}

// Adapter is implemented once per upstream service. Quote must be pure (no
// side effects); Execute performs the upstream call; Finalize must return
// FinalSats <= the QuotedSats it is given (monotone-down, §4.3/§8).
type Adapter interface {
	Quote(ctx context.Context, operation string, body json.RawMessage) (QuoteResult, error)
	Execute(ctx context.Context, operation string, body json.RawMessage) (ExecResult, error)
	Finalize(ctx context.Context, result ExecResult, quotedSats int64) (FinalizeResult, error)
}

// Registry maps a service slug to its Adapter, the execution-time companion
// to the capability registry (which maps a capability to a service slug).
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register binds serviceSlug to an Adapter implementation, overwriting any
// existing binding.
func (r *Registry) Register(serviceSlug string, a Adapter) {
	r.adapters[serviceSlug] = a
}

// Get returns the Adapter registered for serviceSlug.
func (r *Registry) Get(serviceSlug string) (Adapter, bool) {
	a, ok := r.adapters[serviceSlug]
	return a, ok
}
