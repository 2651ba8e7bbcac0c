//go:build integration

package pricing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capiswitch/gateway/internal/ids"
	"github.com/capiswitch/gateway/internal/platform"
)

func setupTestOracle(t *testing.T, rate string) *Oracle {
	t.Helper()

	databaseURL := os.Getenv("CAPISWITCH_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("CAPISWITCH_TEST_DATABASE_URL not set")
	}
	require.NoError(t, platform.RunMigrations(databaseURL, "../../migrations"))

	pool, err := platform.NewPostgresPool(context.Background(), databaseURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"amount": rate}})
	}))
	t.Cleanup(srv.Close)

	provider, err := NewProvider("coinbase", srv.URL, srv.Client())
	require.NoError(t, err)

	return NewOracle(pool, provider, testLogger(), time.Minute, nil)
}

// TestRateChangeRecomputesSats exercises §8 scenario 6: raising btcUsd from
// 50_000 to 100_000 halves priceSats (ceil) for an existing pricing row.
func TestRateChangeRecomputesSats(t *testing.T) {
	o := setupTestOracle(t, "50000")
	ctx := context.Background()

	svcID := ids.New(ids.PrefixService)
	_, err := o.pool.Exec(ctx, `
		INSERT INTO services (id, slug, name, base_url, auth_type, auth_credential_env)
		VALUES ($1, 'openai', 'OpenAI', 'https://api.openai.com', 'bearer', 'OPENAI_API_KEY')
	`, svcID)
	require.NoError(t, err)

	pricingID := ids.New(ids.PrefixPricing)
	_, err = o.pool.Exec(ctx, `
		INSERT INTO service_pricing (id, service_id, operation, cost_usd_micros, price_usd_micros, price_sats, unit)
		VALUES ($1, $2, 'chat', 500, 1000, 0, 'per_1k_tokens')
	`, pricingID, svcID)
	require.NoError(t, err)

	require.NoError(t, o.Refresh(ctx))

	p, ok := o.GetPrice("openai", "chat")
	require.True(t, ok)
	require.Equal(t, int64(2), p.PriceSats)

	o.provider = mustProvider(t, "100000")
	require.NoError(t, o.Refresh(ctx))

	p, ok = o.GetPrice("openai", "chat")
	require.True(t, ok)
	require.Equal(t, int64(1), p.PriceSats)
}

func mustProvider(t *testing.T, rate string) RateProvider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"amount": rate}})
	}))
	t.Cleanup(srv.Close)
	p, err := NewProvider("coinbase", srv.URL, srv.Client())
	require.NoError(t, err)
	return p
}
