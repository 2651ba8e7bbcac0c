// Package catalogapi implements the read-only §6 catalog routes: service and
// pricing listings backed by Postgres, and capability listings backed by the
// in-process provider registry.
package catalogapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capiswitch/gateway/internal/httpserver"
	"github.com/capiswitch/gateway/internal/registry"
)

// Handler serves /services and /capabilities.
type Handler struct {
	pool     *pgxpool.Pool
	registry *registry.Registry
}

// NewHandler creates a catalogapi Handler.
func NewHandler(pool *pgxpool.Pool, reg *registry.Registry) *Handler {
	return &Handler{pool: pool, registry: reg}
}

// Register adds the catalog routes directly onto r (the Bearer-authenticated
// router), rather than as a sub-router, since /services and /capabilities
// sit at the API root alongside other handlers' own top-level mounts.
func (h *Handler) Register(r chi.Router) {
	r.Get("/services", h.handleListServices)
	r.Get("/services/{slug}", h.handleGetService)
	r.Get("/services/{slug}/pricing", h.handleGetPricing)
	r.Get("/capabilities", h.handleListCapabilities)
	r.Get("/capabilities/{name}", h.handleGetCapability)
}

type serviceRow struct {
	ID     string `json:"id"`
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Tier   string `json:"tier"`
	Status string `json:"status"`
}

func (h *Handler) handleListServices(w http.ResponseWriter, r *http.Request) {
	rows, err := h.pool.Query(r.Context(), `
		SELECT id, slug, name, tier, status FROM services WHERE status = 'active' ORDER BY slug
	`)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to list services")
		return
	}
	defer rows.Close()

	var services []serviceRow
	for rows.Next() {
		var s serviceRow
		if err := rows.Scan(&s.ID, &s.Slug, &s.Name, &s.Tier, &s.Status); err != nil {
			httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to scan service row")
			return
		}
		services = append(services, s)
	}
	httpserver.Respond(w, http.StatusOK, services)
}

func (h *Handler) handleGetService(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	var s serviceRow
	err := h.pool.QueryRow(r.Context(), `
		SELECT id, slug, name, tier, status FROM services WHERE slug = $1
	`, slug).Scan(&s.ID, &s.Slug, &s.Name, &s.Tier, &s.Status)
	if err == pgx.ErrNoRows {
		httpserver.RespondError(w, http.StatusNotFound, "NOT_FOUND", "service not found")
		return
	}
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to load service")
		return
	}
	httpserver.Respond(w, http.StatusOK, s)
}

type pricingRow struct {
	Operation     string `json:"operation"`
	CostUSDMicros int64  `json:"costUsdMicros"`
	PriceUSDMicros int64 `json:"priceUsdMicros"`
	PriceSats     int64  `json:"priceSats"`
	Unit          string `json:"unit"`
}

func (h *Handler) handleGetPricing(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	var serviceID string
	err := h.pool.QueryRow(r.Context(), `SELECT id FROM services WHERE slug = $1`, slug).Scan(&serviceID)
	if err == pgx.ErrNoRows {
		httpserver.RespondError(w, http.StatusNotFound, "NOT_FOUND", "service not found")
		return
	}
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to load service")
		return
	}

	rows, err := h.pool.Query(r.Context(), `
		SELECT operation, cost_usd_micros, price_usd_micros, price_sats, unit
		FROM service_pricing WHERE service_id = $1 ORDER BY operation
	`, serviceID)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to list pricing")
		return
	}
	defer rows.Close()

	var pricing []pricingRow
	for rows.Next() {
		var p pricingRow
		if err := rows.Scan(&p.Operation, &p.CostUSDMicros, &p.PriceUSDMicros, &p.PriceSats, &p.Unit); err != nil {
			httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to scan pricing row")
			return
		}
		pricing = append(pricing, p)
	}
	httpserver.Respond(w, http.StatusOK, pricing)
}

func (h *Handler) handleListCapabilities(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, h.registry.Capabilities())
}

type providerView struct {
	ServiceSlug string `json:"serviceSlug"`
	Priority    int    `json:"priority"`
	Active      bool   `json:"active"`
}

func (h *Handler) handleGetCapability(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	providers := h.registry.List(name)
	if len(providers) == 0 {
		httpserver.RespondError(w, http.StatusNotFound, "NOT_FOUND", "capability not found")
		return
	}

	out := make([]providerView, 0, len(providers))
	for _, p := range providers {
		out = append(out, providerView{ServiceSlug: p.ServiceSlug, Priority: p.Priority, Active: p.Active})
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"capability": name,
		"providers":  out,
	})
}
