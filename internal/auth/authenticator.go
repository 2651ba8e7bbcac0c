package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnauthorized is returned when no active agent matches the presented key.
var ErrUnauthorized = errors.New("unauthorized")

// candidate is an agent row narrowed by key prefix, carrying just enough to
// complete the bcrypt compare and populate Identity.
type candidate struct {
	agentID   string
	accountID string
	walletID  string
	status    string
	keyHash   string
}

// Authenticator implements §4.1: prefix-narrowed lookup, then a bcrypt
// compare per candidate, returning the first active match.
type Authenticator struct {
	pool *pgxpool.Pool
}

// NewAuthenticator creates an Authenticator backed by the given pool.
func NewAuthenticator(pool *pgxpool.Pool) *Authenticator {
	return &Authenticator{pool: pool}
}

// Authenticate resolves rawKey to an Identity per §4.1:
//  1. prefix = first16hex(SHA256(token))
//  2. query agents by apiKeyPrefix = prefix
//  3. bcrypt-compare each candidate; return the first active match
//
// Legacy rows with a null prefix are also considered (full scan fallback)
// so a key minted before the prefix column existed keeps working until the
// agent rotates its key.
func (a *Authenticator) Authenticate(ctx context.Context, rawKey string) (*Identity, error) {
	if rawKey == "" {
		return nil, ErrUnauthorized
	}

	prefix := LookupPrefix(rawKey)

	rows, err := a.pool.Query(ctx, `
		SELECT a.id, a.account_id, w.id, a.status, a.api_key_hash
		FROM agents a
		JOIN wallets w ON w.account_id = a.account_id
		WHERE a.api_key_prefix = $1 OR a.api_key_prefix IS NULL
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("querying agents by key prefix: %w", err)
	}
	defer rows.Close()

	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.agentID, &c.accountID, &c.walletID, &c.status, &c.keyHash); err != nil {
			return nil, fmt.Errorf("scanning agent candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent candidates: %w", err)
	}

	for _, c := range candidates {
		if !CompareAPIKey(c.keyHash, rawKey) {
			continue
		}
		if c.status != StatusActive {
			return nil, ErrUnauthorized
		}
		return &Identity{
			AgentID:   c.agentID,
			AccountID: c.accountID,
			WalletID:  c.walletID,
			Status:    c.status,
		}, nil
	}

	return nil, ErrUnauthorized
}

// AgentByID loads an agent's identity fields without a key compare, used by
// handlers that already trust the caller (e.g. after a signup transaction).
func (a *Authenticator) AgentByID(ctx context.Context, agentID string) (*Identity, error) {
	var c candidate
	err := a.pool.QueryRow(ctx, `
		SELECT a.id, a.account_id, w.id, a.status
		FROM agents a
		JOIN wallets w ON w.account_id = a.account_id
		WHERE a.id = $1
	`, agentID).Scan(&c.agentID, &c.accountID, &c.walletID, &c.status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("loading agent: %w", err)
	}
	return &Identity{AgentID: c.agentID, AccountID: c.accountID, WalletID: c.walletID, Status: c.status}, nil
}

// Agent status values (§3).
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusKilled    = "killed"
)
