// Package signupapi implements POST /signup (§6): provisions an Account, its
// Wallet, and a first primary Agent in one transaction, returning a raw API
// key that is never stored or shown again.
package signupapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capiswitch/gateway/internal/auth"
	"github.com/capiswitch/gateway/internal/httpserver"
	"github.com/capiswitch/gateway/internal/ids"
)

// Handler serves the unauthenticated signup route.
type Handler struct {
	pool *pgxpool.Pool
}

// NewHandler creates a signup Handler.
func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool}
}

// Routes mounts POST / (the caller mounts this under /v1/signup).
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleSignup)
	return r
}

type signupRequest struct {
	Name  string `json:"name" validate:"required,min=1,max=200"`
	Email string `json:"email" validate:"omitempty,email"`
}

type signupResponse struct {
	AccountID string `json:"accountId"`
	AgentID   string `json:"agentId"`
	APIKey    string `json:"apiKey"`
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	rawKey, hash, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to generate API key")
		return
	}

	accountID := ids.New(ids.PrefixAccount)
	walletID := ids.New(ids.PrefixWallet)
	agentID := ids.New(ids.PrefixAgent)

	err = withTx(r.Context(), h.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(r.Context(), `
			INSERT INTO accounts (id, name, email) VALUES ($1, $2, $3)
		`, accountID, req.Name, nullIfEmpty(req.Email)); err != nil {
			return fmt.Errorf("creating account: %w", err)
		}
		if _, err := tx.Exec(r.Context(), `
			INSERT INTO wallets (id, account_id) VALUES ($1, $2)
		`, walletID, accountID); err != nil {
			return fmt.Errorf("creating wallet: %w", err)
		}
		if _, err := tx.Exec(r.Context(), `
			INSERT INTO agents (id, account_id, name, api_key_hash, api_key_prefix, status)
			VALUES ($1, $2, $3, $4, $5, 'active')
		`, agentID, accountID, "primary", hash, prefix); err != nil {
			return fmt.Errorf("creating agent: %w", err)
		}
		if _, err := tx.Exec(r.Context(), `
			INSERT INTO policies (id, agent_id) VALUES ($1, $2)
		`, ids.New(ids.PrefixPolicy), agentID); err != nil {
			return fmt.Errorf("creating default policy: %w", err)
		}
		return nil
	})
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to provision account")
		return
	}

	httpserver.Respond(w, http.StatusCreated, signupResponse{
		AccountID: accountID,
		AgentID:   agentID,
		APIKey:    rawKey,
	})
}

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
