// Package registryapi implements §6's service-submission routes: an agent
// proposes a new service via POST /registry/submit, and an operator lists,
// approves, or rejects pending submissions. Approval wires the service into
// the live catalog — services/service_pricing/capability_providers rows plus
// a registered adapter.Generic — without a restart. Quotes for the new
// service fail until the pricing oracle's next Refresh loads its price row.
package registryapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capiswitch/gateway/internal/adapter"
	"github.com/capiswitch/gateway/internal/auth"
	"github.com/capiswitch/gateway/internal/httpserver"
	"github.com/capiswitch/gateway/internal/ids"
	"github.com/capiswitch/gateway/internal/registry"
)

// Handler serves /registry/submit and the admin review routes.
type Handler struct {
	pool      *pgxpool.Pool
	adapters  *adapter.Registry
	providers *registry.Registry
	prices    adapter.PriceLookup
	client    *http.Client
}

// NewHandler creates a registryapi Handler. adapters and providers are the
// same shared instances wired into the call pipeline, so an approved service
// resolves to its adapter on the very next call; its price comes from the
// oracle's cache, which picks up the new row on the oracle's next Refresh.
func NewHandler(pool *pgxpool.Pool, adapters *adapter.Registry, providers *registry.Registry, prices adapter.PriceLookup, client *http.Client) *Handler {
	return &Handler{pool: pool, adapters: adapters, providers: providers, prices: prices, client: client}
}

// Routes mounts /registry/submit plus admin review routes under the
// Bearer-authenticated router. Submission is open to any authenticated
// agent; review is expected to run behind an operator-only deployment (§1
// scopes the review workflow's own authorization model out of core).
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/submit", h.handleSubmit)
	r.Get("/submissions", h.handleListSubmissions)
	r.Post("/submissions/{id}/approve", h.handleApprove)
	r.Post("/submissions/{id}/reject", h.handleReject)
	return r
}

type submitRequest struct {
	Slug              string `json:"slug" validate:"required,min=1,max=100"`
	Name              string `json:"name" validate:"required,min=1,max=200"`
	BaseURL           string `json:"baseUrl" validate:"required,url"`
	AuthType          string `json:"authType" validate:"required,oneof=bearer api_key_header basic query_param"`
	AuthCredentialEnv string `json:"authCredentialEnv" validate:"required"`
	DefaultOperation  string `json:"defaultOperation" validate:"required"`
	Capability        string `json:"capability" validate:"required"`
}

type submitResponse struct {
	SubmissionID string `json:"submissionId"`
	Status       string `json:"status"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	identity := auth.FromContext(r.Context())
	submissionID := ids.New(ids.PrefixSubmit)

	_, err := h.pool.Exec(r.Context(), `
		INSERT INTO service_submissions
			(id, submitted_by_agent, slug, name, base_url, auth_type, auth_credential_env, default_operation, capability, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending')
	`, submissionID, identity.AgentID, req.Slug, req.Name, req.BaseURL, req.AuthType, req.AuthCredentialEnv, req.DefaultOperation, req.Capability)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to record submission")
		return
	}

	httpserver.Respond(w, http.StatusCreated, submitResponse{SubmissionID: submissionID, Status: "pending"})
}

type submissionRow struct {
	ID                string `json:"id"`
	Slug              string `json:"slug"`
	Name              string `json:"name"`
	BaseURL           string `json:"baseUrl"`
	AuthType          string `json:"authType"`
	AuthCredentialEnv string `json:"authCredentialEnv"`
	DefaultOperation  string `json:"defaultOperation"`
	Capability        string `json:"capability"`
	Status            string `json:"status"`
}

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.pool.Query(r.Context(), `
		SELECT id, slug, name, base_url, auth_type, auth_credential_env, default_operation, capability, status
		FROM service_submissions WHERE status = 'pending' ORDER BY created_at
	`)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to list submissions")
		return
	}
	defer rows.Close()

	var submissions []submissionRow
	for rows.Next() {
		var s submissionRow
		if err := rows.Scan(&s.ID, &s.Slug, &s.Name, &s.BaseURL, &s.AuthType, &s.AuthCredentialEnv, &s.DefaultOperation, &s.Capability, &s.Status); err != nil {
			httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to scan submission row")
			return
		}
		submissions = append(submissions, s)
	}
	httpserver.Respond(w, http.StatusOK, submissions)
}

// approveRequest carries the pricing terms the submission itself doesn't
// record — service_submissions has no price columns, so approval is where
// an operator fixes the cost basis before the service goes live.
type approveRequest struct {
	CostUSDMicros int64  `json:"costUsdMicros" validate:"required,gt=0"`
	Unit          string `json:"unit" validate:"required,oneof=per_request per_1k_tokens per_minute"`
	Priority      int    `json:"priority" validate:"gte=0"`
	AuthHeaderName string `json:"authHeaderName"`
	Path           string `json:"path" validate:"required"`
	Method         string `json:"method" validate:"required,oneof=GET POST PUT PATCH"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	submissionID := chi.URLParam(r, "id")
	sub, found, err := h.loadSubmission(r.Context(), submissionID)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to load submission")
		return
	}
	if !found {
		httpserver.RespondError(w, http.StatusNotFound, "NOT_FOUND", "submission not found")
		return
	}

	descriptor := adapter.Descriptor{
		ServiceSlug:       sub.Slug,
		BaseURL:           sub.BaseURL,
		Path:              req.Path,
		Method:            req.Method,
		AuthType:          sub.AuthType,
		AuthCredentialEnv: sub.AuthCredentialEnv,
		AuthHeaderName:    req.AuthHeaderName,
		DefaultOperation:  sub.DefaultOperation,
	}
	if err := descriptor.Validate(); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	serviceID := ids.New(ids.PrefixService)
	err = withTx(r.Context(), h.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(r.Context(), `
			INSERT INTO services (id, slug, name, tier, status, base_url, auth_type, auth_credential_env)
			VALUES ($1, $2, $3, 'community', 'active', $4, $5, $6)
		`, serviceID, sub.Slug, sub.Name, sub.BaseURL, sub.AuthType, sub.AuthCredentialEnv); err != nil {
			return fmt.Errorf("inserting service: %w", err)
		}
		if _, err := tx.Exec(r.Context(), `
			INSERT INTO service_pricing (id, service_id, operation, cost_usd_micros, price_usd_micros, price_sats, unit)
			VALUES ($1, $2, $3, $4, $4, 0, $5)
		`, ids.New(ids.PrefixPricing), serviceID, sub.DefaultOperation, req.CostUSDMicros, req.Unit); err != nil {
			return fmt.Errorf("inserting pricing: %w", err)
		}
		if _, err := tx.Exec(r.Context(), `
			INSERT INTO capability_providers (id, capability, service_id, priority, active)
			VALUES ($1, $2, $3, $4, true)
		`, ids.New(ids.PrefixService), sub.Capability, serviceID, req.Priority); err != nil {
			return fmt.Errorf("inserting capability binding: %w", err)
		}
		if _, err := tx.Exec(r.Context(), `
			UPDATE service_submissions SET status = 'approved', reviewed_at = now() WHERE id = $1
		`, submissionID); err != nil {
			return fmt.Errorf("marking submission approved: %w", err)
		}
		return nil
	})
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to approve submission")
		return
	}

	generic, err := adapter.NewGeneric(descriptor, h.prices, h.client)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "service approved but adapter registration failed")
		return
	}
	h.adapters.Register(sub.Slug, generic)
	h.providers.Upsert(registry.Provider{
		ServiceSlug: sub.Slug,
		Capability:  sub.Capability,
		Priority:    req.Priority,
		Active:      true,
	})

	httpserver.Respond(w, http.StatusOK, map[string]string{"serviceId": serviceID, "status": "approved"})
}

type rejectRequest struct {
	ReviewNote string `json:"reviewNote" validate:"required"`
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	submissionID := chi.URLParam(r, "id")
	tag, err := h.pool.Exec(r.Context(), `
		UPDATE service_submissions SET status = 'rejected', review_note = $1, reviewed_at = now()
		WHERE id = $2 AND status = 'pending'
	`, req.ReviewNote, submissionID)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to reject submission")
		return
	}
	if tag.RowsAffected() == 0 {
		httpserver.RespondError(w, http.StatusNotFound, "NOT_FOUND", "pending submission not found")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "rejected"})
}

type submission struct {
	Slug              string
	Name              string
	BaseURL           string
	AuthType          string
	AuthCredentialEnv string
	DefaultOperation  string
	Capability        string
}

func (h *Handler) loadSubmission(ctx context.Context, id string) (submission, bool, error) {
	var s submission
	err := h.pool.QueryRow(ctx, `
		SELECT slug, name, base_url, auth_type, auth_credential_env, default_operation, capability
		FROM service_submissions WHERE id = $1 AND status = 'pending'
	`, id).Scan(&s.Slug, &s.Name, &s.BaseURL, &s.AuthType, &s.AuthCredentialEnv, &s.DefaultOperation, &s.Capability)
	if err == pgx.ErrNoRows {
		return s, false, nil
	}
	return s, err == nil, err
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
