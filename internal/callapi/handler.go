// Package callapi implements the two call-invocation routes from §6:
// POST /capabilities/{verb} and POST /proxy/{serviceSlug}. Both are thin
// wrappers around pipeline.Pipeline.Process — this package's only job is to
// load the caller's current Agent/Policy snapshot, translate an inbound
// serviceSlug to its capability when needed, and map *pipeline.CallError
// onto the §7 error envelope.
package callapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capiswitch/gateway/internal/audit"
	"github.com/capiswitch/gateway/internal/auth"
	"github.com/capiswitch/gateway/internal/httpserver"
	"github.com/capiswitch/gateway/internal/pipeline"
	"github.com/capiswitch/gateway/internal/policy"
)

// maxBodyBytes bounds the request body the pipeline will quote against.
const maxBodyBytes = 1 << 20 // 1 MiB

// defaultTimeout bounds a single call when the caller doesn't configure one.
const defaultTimeout = 120 * time.Second

// Handler serves /capabilities/{verb} and /proxy/{serviceSlug}.
type Handler struct {
	pool     *pgxpool.Pool
	pipeline *pipeline.Pipeline
	timeout  time.Duration
}

// NewHandler creates a callapi Handler. timeout bounds the full
// quote-hold-execute-finalize pipeline for one call; zero uses defaultTimeout.
func NewHandler(pool *pgxpool.Pool, p *pipeline.Pipeline, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Handler{pool: pool, pipeline: p, timeout: timeout}
}

// Register adds both call routes directly onto r (the Bearer-authenticated
// router), alongside catalogapi's GET routes under the same /capabilities
// prefix.
func (h *Handler) Register(r chi.Router) {
	r.Post("/capabilities/{verb}", h.handleCapability)
	r.Post("/proxy/{serviceSlug}", h.handleProxy)
}

func (h *Handler) handleCapability(w http.ResponseWriter, r *http.Request) {
	verb := chi.URLParam(r, "verb")
	h.process(w, r, verb)
}

// handleProxy resolves serviceSlug to the capability it serves (a service
// may back more than one capability; the first active binding wins, mirroring
// registry.Resolve's priority ordering) and runs the same pipeline.
func (h *Handler) handleProxy(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "serviceSlug")

	var capability string
	err := h.pool.QueryRow(r.Context(), `
		SELECT cp.capability
		FROM capability_providers cp
		JOIN services s ON s.id = cp.service_id
		WHERE s.slug = $1 AND cp.active
		ORDER BY cp.priority DESC
		LIMIT 1
	`, slug).Scan(&capability)
	if err == pgx.ErrNoRows {
		httpserver.RespondError(w, http.StatusNotFound, "NOT_FOUND", "service not found or has no active capability")
		return
	}
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to resolve service capability")
		return
	}

	h.process(w, r, capability)
}

type callMetadata struct {
	QuotedSats   int64  `json:"quotedSats"`
	ChargedSats  int64  `json:"chargedSats"`
	BalanceAfter int64  `json:"balanceAfter"`
	AuditID      string `json:"auditId"`
}

type callResponse struct {
	Data     json.RawMessage `json:"data"`
	Metadata callMetadata    `json:"metadata"`
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request, capability string) {
	identity := auth.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "failed to read request body")
		return
	}
	if len(body) > maxBodyBytes {
		httpserver.RespondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "request body too large")
		return
	}

	agentSnapshot, policySnapshot, err := loadAgentPolicy(r.Context(), h.pool, identity.AgentID)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to load agent policy")
		return
	}

	clientIP := audit.ClientIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP"))

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp, err := h.pipeline.Process(ctx, pipeline.Request{
		AgentID:    identity.AgentID,
		WalletID:   identity.WalletID,
		Agent:      agentSnapshot,
		Policy:     policySnapshot,
		Capability: capability,
		Body:       json.RawMessage(body),
		ClientIP:   &clientIP,
	})
	if err != nil {
		h.respondCallError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, callResponse{
		Data: resp.Data,
		Metadata: callMetadata{
			QuotedSats:   resp.QuotedSats,
			ChargedSats:  resp.ChargedSats,
			BalanceAfter: resp.BalanceAfter,
			AuditID:      resp.AuditID,
		},
	})
}

func (h *Handler) respondCallError(w http.ResponseWriter, err error) {
	var callErr *pipeline.CallError
	if !errors.As(err, &callErr) {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "unexpected error")
		return
	}

	details := map[string]any{}
	if callErr.AuditID != "" {
		details["auditId"] = callErr.AuditID
	}
	if len(details) == 0 {
		httpserver.RespondError(w, callErr.Kind.HTTPStatus(), string(callErr.Kind), callErr.Error())
		return
	}
	httpserver.RespondErrorDetails(w, callErr.Kind.HTTPStatus(), string(callErr.Kind), callErr.Error(), details)
}

// loadAgentPolicy loads the agent's current status and policy snapshot,
// the state pipeline.Request needs for its §4.5 policy evaluation step.
func loadAgentPolicy(ctx context.Context, pool *pgxpool.Pool, agentID string) (policy.Agent, policy.Policy, error) {
	var agent policy.Agent
	var pol policy.Policy
	agent.ID = agentID

	err := pool.QueryRow(ctx, `
		SELECT a.status,
		       p.max_per_call_sats, p.max_per_day_sats,
		       p.allowed_services, p.denied_services,
		       p.allowed_capabilities, p.denied_capabilities,
		       p.kill_switch
		FROM agents a
		JOIN policies p ON p.agent_id = a.id
		WHERE a.id = $1
	`, agentID).Scan(
		&agent.Status,
		&pol.MaxPerCallSats, &pol.MaxPerDaySats,
		&pol.AllowedServices, &pol.DeniedServices,
		&pol.AllowedCapabilities, &pol.DeniedCapabilities,
		&pol.KillSwitch,
	)
	return agent, pol, err
}
