package registry

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LoadFromDB reads every capability_providers row joined to its service slug
// and replaces the Registry's contents. Called once at startup; the registry
// admin approval route updates the in-memory Registry with Upsert instead.
func LoadFromDB(ctx context.Context, r *Registry, pool *pgxpool.Pool) error {
	rows, err := pool.Query(ctx, `
		SELECT s.slug, cp.capability, cp.priority, cp.active
		FROM capability_providers cp
		JOIN services s ON s.id = cp.service_id
		ORDER BY cp.capability, cp.priority DESC, cp.created_at
	`)
	if err != nil {
		return fmt.Errorf("querying capability providers: %w", err)
	}
	defer rows.Close()

	var providers []Provider
	for rows.Next() {
		var p Provider
		if err := rows.Scan(&p.ServiceSlug, &p.Capability, &p.Priority, &p.Active); err != nil {
			return fmt.Errorf("scanning capability provider row: %w", err)
		}
		providers = append(providers, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating capability provider rows: %w", err)
	}

	r.Load(providers)
	return nil
}
