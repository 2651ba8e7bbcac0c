package auth

import "context"

// Identity is the request-scoped struct the auth middleware stores in
// context after a successful §4.1 Authenticate call.
type Identity struct {
	AgentID   string
	AccountID string
	WalletID  string
	Status    string
}

type contextKey string

const identityKey contextKey = "identity"

// NewContext returns a copy of ctx carrying identity.
func NewContext(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// FromContext extracts the Identity stored by Middleware, or nil if absent.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}
