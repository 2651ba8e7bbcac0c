// Package agentapi implements the §6 agent and policy management routes,
// scoped to the authenticated caller's Account (agents never cross account
// boundaries).
package agentapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capiswitch/gateway/internal/auth"
	"github.com/capiswitch/gateway/internal/httpserver"
	"github.com/capiswitch/gateway/internal/ids"
)

// Handler serves /agents and /agents/{id}/policy.
type Handler struct {
	pool *pgxpool.Pool
}

// NewHandler creates an agentapi Handler.
func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool}
}

// Routes mounts every agent + policy route under the Bearer-authenticated
// router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Route("/{agentID}", func(sub chi.Router) {
		sub.Get("/", h.handleGet)
		sub.Patch("/", h.handlePatch)
		sub.Delete("/", h.handleDelete)
		sub.Get("/policy", h.handleGetPolicy)
		sub.Put("/policy", h.handlePutPolicy)
		sub.Patch("/policy", h.handlePatchPolicy)
		sub.Post("/policy/kill", h.handleKill)
		sub.Post("/policy/unkill", h.handleUnkill)
	})
	return r
}

type agentRow struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	rows, err := h.pool.Query(r.Context(), `
		SELECT id, name, status, created_at FROM agents WHERE account_id = $1 ORDER BY created_at
	`, identity.AccountID)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to list agents")
		return
	}
	defer rows.Close()

	var agents []agentRow
	for rows.Next() {
		var a agentRow
		if err := rows.Scan(&a.ID, &a.Name, &a.Status, &a.CreatedAt); err != nil {
			httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to scan agent row")
			return
		}
		agents = append(agents, a)
	}
	httpserver.Respond(w, http.StatusOK, agents)
}

type createAgentRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

type createAgentResponse struct {
	AgentID string `json:"agentId"`
	APIKey  string `json:"apiKey"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	rawKey, hash, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to generate API key")
		return
	}

	identity := auth.FromContext(r.Context())
	agentID := ids.New(ids.PrefixAgent)

	_, err = h.pool.Exec(r.Context(), `
		INSERT INTO agents (id, account_id, name, api_key_hash, api_key_prefix, status)
		VALUES ($1, $2, $3, $4, $5, 'active')
	`, agentID, identity.AccountID, req.Name, hash, prefix)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to create agent")
		return
	}
	if _, err := h.pool.Exec(r.Context(), `
		INSERT INTO policies (id, agent_id) VALUES ($1, $2)
	`, ids.New(ids.PrefixPolicy), agentID); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to create default policy")
		return
	}

	httpserver.Respond(w, http.StatusCreated, createAgentResponse{AgentID: agentID, APIKey: rawKey})
}

func (h *Handler) loadAgent(r *http.Request) (agentRow, bool, error) {
	identity := auth.FromContext(r.Context())
	agentID := chi.URLParam(r, "agentID")

	var a agentRow
	err := h.pool.QueryRow(r.Context(), `
		SELECT id, name, status, created_at FROM agents WHERE id = $1 AND account_id = $2
	`, agentID, identity.AccountID).Scan(&a.ID, &a.Name, &a.Status, &a.CreatedAt)
	if err == pgx.ErrNoRows {
		return a, false, nil
	}
	return a, err == nil, err
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	a, found, err := h.loadAgent(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to load agent")
		return
	}
	if !found {
		httpserver.RespondError(w, http.StatusNotFound, "NOT_FOUND", "agent not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, a)
}

type patchAgentRequest struct {
	Name   *string `json:"name" validate:"omitempty,min=1,max=200"`
	Status *string `json:"status" validate:"omitempty,oneof=active suspended killed"`
}

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request) {
	_, found, err := h.loadAgent(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to load agent")
		return
	}
	if !found {
		httpserver.RespondError(w, http.StatusNotFound, "NOT_FOUND", "agent not found")
		return
	}

	var req patchAgentRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	agentID := chi.URLParam(r, "agentID")
	if req.Name != nil {
		if _, err := h.pool.Exec(r.Context(), `UPDATE agents SET name = $1 WHERE id = $2`, *req.Name, agentID); err != nil {
			httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to update agent name")
			return
		}
	}
	if req.Status != nil {
		if _, err := h.pool.Exec(r.Context(), `UPDATE agents SET status = $1 WHERE id = $2`, *req.Status, agentID); err != nil {
			httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to update agent status")
			return
		}
	}

	a, _, err := h.loadAgent(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to reload agent")
		return
	}
	httpserver.Respond(w, http.StatusOK, a)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	_, found, err := h.loadAgent(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to load agent")
		return
	}
	if !found {
		httpserver.RespondError(w, http.StatusNotFound, "NOT_FOUND", "agent not found")
		return
	}

	agentID := chi.URLParam(r, "agentID")
	if _, err := h.pool.Exec(r.Context(), `UPDATE agents SET status = 'killed' WHERE id = $1`, agentID); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to delete agent")
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

type policyResponse struct {
	AgentID             string   `json:"agentId"`
	MaxPerCallSats      *int64   `json:"maxPerCallSats,omitempty"`
	MaxPerDaySats       *int64   `json:"maxPerDaySats,omitempty"`
	AllowedServices     []string `json:"allowedServices,omitempty"`
	DeniedServices      []string `json:"deniedServices,omitempty"`
	AllowedCapabilities []string `json:"allowedCapabilities,omitempty"`
	DeniedCapabilities  []string `json:"deniedCapabilities,omitempty"`
	MaxBalanceSats      *int64   `json:"maxBalanceSats,omitempty"`
	KillSwitch          bool     `json:"killSwitch"`
}

func (h *Handler) scanPolicy(r *http.Request, agentID string) (policyResponse, bool, error) {
	var p policyResponse
	p.AgentID = agentID
	err := h.pool.QueryRow(r.Context(), `
		SELECT max_per_call_sats, max_per_day_sats, allowed_services, denied_services,
		       allowed_capabilities, denied_capabilities, max_balance_sats, kill_switch
		FROM policies WHERE agent_id = $1
	`, agentID).Scan(
		&p.MaxPerCallSats, &p.MaxPerDaySats, &p.AllowedServices, &p.DeniedServices,
		&p.AllowedCapabilities, &p.DeniedCapabilities, &p.MaxBalanceSats, &p.KillSwitch,
	)
	if err == pgx.ErrNoRows {
		return p, false, nil
	}
	return p, err == nil, err
}

func (h *Handler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	_, found, err := h.loadAgent(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to load agent")
		return
	}
	if !found {
		httpserver.RespondError(w, http.StatusNotFound, "NOT_FOUND", "agent not found")
		return
	}

	p, found, err := h.scanPolicy(r, chi.URLParam(r, "agentID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to load policy")
		return
	}
	if !found {
		httpserver.RespondError(w, http.StatusNotFound, "NOT_FOUND", "policy not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, p)
}

type putPolicyRequest struct {
	MaxPerCallSats      *int64   `json:"maxPerCallSats"`
	MaxPerDaySats       *int64   `json:"maxPerDaySats"`
	AllowedServices     []string `json:"allowedServices"`
	DeniedServices      []string `json:"deniedServices"`
	AllowedCapabilities []string `json:"allowedCapabilities"`
	DeniedCapabilities  []string `json:"deniedCapabilities"`
	MaxBalanceSats      *int64   `json:"maxBalanceSats"`
	KillSwitch          bool     `json:"killSwitch"`
}

// handlePutPolicy replaces the policy wholesale (§6: PUT replaces, PATCH
// merges).
func (h *Handler) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	_, found, err := h.loadAgent(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to load agent")
		return
	}
	if !found {
		httpserver.RespondError(w, http.StatusNotFound, "NOT_FOUND", "agent not found")
		return
	}

	var req putPolicyRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	agentID := chi.URLParam(r, "agentID")
	_, err = h.pool.Exec(r.Context(), `
		UPDATE policies SET
			max_per_call_sats = $1, max_per_day_sats = $2,
			allowed_services = $3, denied_services = $4,
			allowed_capabilities = $5, denied_capabilities = $6,
			max_balance_sats = $7, kill_switch = $8, updated_at = now()
		WHERE agent_id = $9
	`, req.MaxPerCallSats, req.MaxPerDaySats, req.AllowedServices, req.DeniedServices,
		req.AllowedCapabilities, req.DeniedCapabilities, req.MaxBalanceSats, req.KillSwitch, agentID)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to update policy")
		return
	}

	h.respondPolicy(w, r, agentID)
}

type patchPolicyRequest struct {
	MaxPerCallSats      *int64    `json:"maxPerCallSats"`
	MaxPerDaySats       *int64    `json:"maxPerDaySats"`
	AllowedServices     *[]string `json:"allowedServices"`
	DeniedServices      *[]string `json:"deniedServices"`
	AllowedCapabilities *[]string `json:"allowedCapabilities"`
	DeniedCapabilities  *[]string `json:"deniedCapabilities"`
	MaxBalanceSats      *int64    `json:"maxBalanceSats"`
	KillSwitch          *bool     `json:"killSwitch"`
}

// handlePatchPolicy merges only the fields present in the request body,
// using COALESCE so an omitted field keeps its current value.
func (h *Handler) handlePatchPolicy(w http.ResponseWriter, r *http.Request) {
	_, found, err := h.loadAgent(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to load agent")
		return
	}
	if !found {
		httpserver.RespondError(w, http.StatusNotFound, "NOT_FOUND", "agent not found")
		return
	}

	var req patchPolicyRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	agentID := chi.URLParam(r, "agentID")
	_, err = h.pool.Exec(r.Context(), `
		UPDATE policies SET
			max_per_call_sats = COALESCE($1, max_per_call_sats),
			max_per_day_sats = COALESCE($2, max_per_day_sats),
			allowed_services = COALESCE($3, allowed_services),
			denied_services = COALESCE($4, denied_services),
			allowed_capabilities = COALESCE($5, allowed_capabilities),
			denied_capabilities = COALESCE($6, denied_capabilities),
			max_balance_sats = COALESCE($7, max_balance_sats),
			kill_switch = COALESCE($8, kill_switch),
			updated_at = now()
		WHERE agent_id = $9
	`, req.MaxPerCallSats, req.MaxPerDaySats, derefSlice(req.AllowedServices), derefSlice(req.DeniedServices),
		derefSlice(req.AllowedCapabilities), derefSlice(req.DeniedCapabilities), req.MaxBalanceSats, req.KillSwitch, agentID)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to update policy")
		return
	}

	h.respondPolicy(w, r, agentID)
}

func (h *Handler) handleKill(w http.ResponseWriter, r *http.Request) {
	h.setKillSwitch(w, r, true)
}

func (h *Handler) handleUnkill(w http.ResponseWriter, r *http.Request) {
	h.setKillSwitch(w, r, false)
}

func (h *Handler) setKillSwitch(w http.ResponseWriter, r *http.Request, value bool) {
	_, found, err := h.loadAgent(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to load agent")
		return
	}
	if !found {
		httpserver.RespondError(w, http.StatusNotFound, "NOT_FOUND", "agent not found")
		return
	}

	agentID := chi.URLParam(r, "agentID")
	if _, err := h.pool.Exec(r.Context(), `
		UPDATE policies SET kill_switch = $1, updated_at = now() WHERE agent_id = $2
	`, value, agentID); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to update kill switch")
		return
	}

	h.respondPolicy(w, r, agentID)
}

func (h *Handler) respondPolicy(w http.ResponseWriter, r *http.Request, agentID string) {
	p, _, err := h.scanPolicy(r, agentID)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to reload policy")
		return
	}
	httpserver.Respond(w, http.StatusOK, p)
}

func derefSlice(s *[]string) []string {
	if s == nil {
		return nil
	}
	return *s
}
