// Package seed provisions the service catalog (§3 "Seed catalog") against
// a fresh database: one Service + ServicePricing + capability-provider
// binding per built-in adapter, so the registry and pricing oracle have
// something to resolve on first boot. Grounded on the teacher's
// internal/seed idempotent-provisioning shape (check-then-create, log each
// row), generalized from a single demo tenant to the fixed catalog below.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capiswitch/gateway/internal/ids"
)

// catalogEntry describes one seeded service (§3 Seed catalog).
type catalogEntry struct {
	slug              string
	name              string
	capability        string
	operation         string
	unit              string
	costUSDMicros     int64
	authType          string
	authCredentialEnv string
	priority          int
}

// Catalog is the fixed set of services seeded on a fresh database, spanning
// all ten capability verbs named in §4.2.
var Catalog = []catalogEntry{
	{"openai-chat", "OpenAI Chat", "reason", "chat.completions", "per_1k_tokens", 15_000, "bearer", "OPENAI_API_KEY", 100},
	{"anthropic-messages", "Anthropic Messages", "reason", "messages", "per_1k_tokens", 15_000, "api_key_header", "ANTHROPIC_API_KEY", 90},
	{"brave-search", "Brave Search", "search", "web_search", "per_request", 5_000, "api_key_header", "BRAVE_API_TOKEN", 100},
	{"exa-search", "Exa Search", "search", "search", "per_request", 8_000, "bearer", "EXA_API_KEY", 90},
	{"firecrawl", "Firecrawl", "scrape", "scrape", "per_request", 10_000, "bearer", "FIRECRAWL_API_KEY", 100},
	{"jina-reader", "Jina Reader", "read", "read", "per_request", 2_000, "bearer", "JINA_API_TOKEN", 100},
	{"e2b-sandbox", "E2B Sandbox", "execute", "run", "per_minute", 50_000, "api_key_header", "E2B_API_KEY", 100},
	{"resend", "Resend", "email", "send", "per_request", 1_000, "bearer", "RESEND_API_KEY", 100},
	{"twilio-sms", "Twilio SMS", "sms", "send", "per_request", 7_500, "basic", "TWILIO_API_TOKEN", 100},
	{"replicate-imagine", "Replicate Imagine", "imagine", "predict", "per_request", 40_000, "bearer", "REPLICATE_API_TOKEN", 100},
	{"elevenlabs-speak", "ElevenLabs Speak", "speak", "tts", "per_1k_tokens", 30_000, "api_key_header", "ELEVENLABS_API_KEY", 100},
	{"deepgram-transcribe", "Deepgram Transcribe", "transcribe", "listen", "per_minute", 25_000, "bearer", "DEEPGRAM_API_TOKEN", 100},
}

// Run provisions every catalog entry that doesn't already exist (matched by
// slug). It is idempotent so it's safe to run on every deploy, mirroring
// the teacher's "check if tenant exists, skip if so" idiom per-row instead
// of per-tenant.
func Run(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	for _, entry := range Catalog {
		if err := seedOne(ctx, pool, entry, logger); err != nil {
			return fmt.Errorf("seeding service %s: %w", entry.slug, err)
		}
	}
	logger.Info("seed: catalog provisioning complete", "services", len(Catalog))
	return nil
}

func seedOne(ctx context.Context, pool *pgxpool.Pool, entry catalogEntry, logger *slog.Logger) error {
	var serviceID string
	err := pool.QueryRow(ctx, `SELECT id FROM services WHERE slug = $1`, entry.slug).Scan(&serviceID)
	switch {
	case err == nil:
		logger.Info("seed: service already exists, skipping", "slug", entry.slug)
		return nil
	case err != pgx.ErrNoRows:
		return fmt.Errorf("looking up existing service: %w", err)
	}

	serviceID = ids.New(ids.PrefixService)
	baseURL := fmt.Sprintf("https://api.%s.example.com", entry.slug)
	_, err = pool.Exec(ctx, `
		INSERT INTO services (id, slug, name, tier, status, base_url, auth_type, auth_credential_env)
		VALUES ($1, $2, $3, 'standard', 'active', $4, $5, $6)
	`, serviceID, entry.slug, entry.name, baseURL, entry.authType, entry.authCredentialEnv)
	if err != nil {
		return fmt.Errorf("inserting service: %w", err)
	}

	pricingID := ids.New(ids.PrefixPricing)
	_, err = pool.Exec(ctx, `
		INSERT INTO service_pricing (id, service_id, operation, cost_usd_micros, price_usd_micros, price_sats, unit)
		VALUES ($1, $2, $3, $4, $4, 0, $5)
	`, pricingID, serviceID, entry.operation, entry.costUSDMicros, entry.unit)
	if err != nil {
		return fmt.Errorf("inserting service pricing: %w", err)
	}

	providerID := ids.New(ids.PrefixService)
	_, err = pool.Exec(ctx, `
		INSERT INTO capability_providers (id, capability, service_id, priority, active)
		VALUES ($1, $2, $3, $4, true)
	`, providerID, entry.capability, serviceID, entry.priority)
	if err != nil {
		return fmt.Errorf("inserting capability binding: %w", err)
	}

	logger.Info("seed: created service", "slug", entry.slug, "capability", entry.capability)
	return nil
}
