package audit

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capiswitch/gateway/internal/httpserver"
)

// Handler provides the admin/audit read surface: listing AuditLog rows.
type Handler struct {
	pool *pgxpool.Pool
}

// NewHandler creates an audit Handler.
func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool}
}

// Routes mounts the audit listing route under an admin-authenticated router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	return r
}

type logRow struct {
	ID                string    `json:"id"`
	AgentID           string    `json:"agentId"`
	ServiceSlug       string    `json:"serviceSlug"`
	Capability        *string   `json:"capability,omitempty"`
	Operation         *string   `json:"operation,omitempty"`
	PolicyResult      string    `json:"policyResult"`
	PolicyReason      *string   `json:"policyReason,omitempty"`
	QuotedSats        int64     `json:"quotedSats"`
	ChargedSats       *int64    `json:"chargedSats,omitempty"`
	UpstreamStatus    *int      `json:"upstreamStatus,omitempty"`
	UpstreamLatencyMs *int64    `json:"upstreamLatencyMs,omitempty"`
	Error             *string   `json:"error,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	ctx := r.Context()

	var total int
	if err := h.pool.QueryRow(ctx, `SELECT count(*) FROM audit_logs`).Scan(&total); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to count audit log")
		return
	}

	rows, err := h.pool.Query(ctx, `
		SELECT id, agent_id, service_slug, capability, operation,
		       policy_result, policy_reason, quoted_sats, charged_sats,
		       upstream_status, upstream_latency_ms, error, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, params.PageSize, params.Offset)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to list audit log")
		return
	}
	defer rows.Close()

	entries := make([]logRow, 0, params.PageSize)
	for rows.Next() {
		var e logRow
		if err := rows.Scan(
			&e.ID, &e.AgentID, &e.ServiceSlug, &e.Capability, &e.Operation,
			&e.PolicyResult, &e.PolicyReason, &e.QuotedSats, &e.ChargedSats,
			&e.UpstreamStatus, &e.UpstreamLatencyMs, &e.Error, &e.CreatedAt,
		); err != nil {
			httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to scan audit log row")
			return
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to list audit log")
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(entries, params, total))
}
