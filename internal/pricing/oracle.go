package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/capiswitch/gateway/internal/ids"
	"github.com/capiswitch/gateway/internal/money"
)

// Price is a cached (service, operation) -> cost lookup (§4.4).
type Price struct {
	PriceUSDMicros int64
	PriceSats      int64
}

// Oracle maintains the current BTC/USD rate and an in-process cache of
// per-(service,operation) prices, invalidated whenever the rate changes.
// Reads (GetPrice, CurrentRate) take the read side of an RWMutex and Refresh
// takes the write side to swap in the new rate and cache; reads are not
// lock-free.
type Oracle struct {
	pool     *pgxpool.Pool
	provider RateProvider
	logger   *slog.Logger
	interval time.Duration
	metric   *prometheus.CounterVec

	mu     sync.RWMutex
	btcUSD float64
	cache  map[string]Price // "serviceSlug/operation" -> Price
}

// NewOracle creates a pricing Oracle. Call Start to begin the refresh loop;
// an initial Refresh should be run synchronously at startup so getPrice has
// data before the first request arrives. metric is typically
// telemetry.RateRefreshTotal; it may be nil in tests.
func NewOracle(pool *pgxpool.Pool, provider RateProvider, logger *slog.Logger, interval time.Duration, metric *prometheus.CounterVec) *Oracle {
	return &Oracle{
		pool:     pool,
		provider: provider,
		logger:   logger,
		interval: interval,
		metric:   metric,
		cache:    make(map[string]Price),
	}
}

// Start runs the periodic refresh loop until ctx is cancelled, grounded on
// the teacher's escalation.Engine ticker shape.
func (o *Oracle) Start(ctx context.Context) {
	o.logger.Info("pricing oracle started", "interval", o.interval, "provider", o.provider.Name())

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("pricing oracle stopped")
			return
		case <-ticker.C:
			if err := o.Refresh(ctx); err != nil {
				o.logger.Error("pricing oracle refresh", "error", err)
				if o.metric != nil {
					o.metric.WithLabelValues(o.provider.Name(), "error").Inc()
				}
				continue
			}
			if o.metric != nil {
				o.metric.WithLabelValues(o.provider.Name(), "ok").Inc()
			}
		}
	}
}

// Refresh fetches a new rate, appends a RateSnapshot, and — if the rate
// changed — recomputes priceSats across every service_pricing row and
// reloads the in-process cache (§4.4).
func (o *Oracle) Refresh(ctx context.Context) error {
	rate, err := o.provider.GetRate(ctx)
	if err != nil {
		return fmt.Errorf("fetching rate: %w", err)
	}

	if _, err := o.pool.Exec(ctx, `
		INSERT INTO rate_snapshots (id, btc_usd, source, fetched_at) VALUES ($1, $2, $3, now())
	`, ids.New(ids.PrefixRate), rate, o.provider.Name()); err != nil {
		return fmt.Errorf("recording rate snapshot: %w", err)
	}

	o.mu.RLock()
	changed := o.btcUSD != rate
	o.mu.RUnlock()

	if changed {
		if err := o.recomputeSats(ctx, rate); err != nil {
			return fmt.Errorf("recomputing sats pricing: %w", err)
		}
	}

	return o.reload(ctx, rate)
}

// recomputeSats updates price_sats = ceil(price_usd_micros * 100 / btcUsd)
// across every service_pricing row (§4.4, §6 monetary conversion). The rate
// is rounded to the nearest whole dollar: money's conversions are
// integer-only (no float anywhere in a balance or pricing computation).
func (o *Oracle) recomputeSats(ctx context.Context, btcUSD float64) error {
	rows, err := o.pool.Query(ctx, `SELECT id, price_usd_micros FROM service_pricing`)
	if err != nil {
		return fmt.Errorf("listing service pricing: %w", err)
	}
	defer rows.Close()

	type row struct {
		id             string
		priceUSDMicros int64
	}
	var toUpdate []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.priceUSDMicros); err != nil {
			return fmt.Errorf("scanning service pricing row: %w", err)
		}
		toUpdate = append(toUpdate, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating service pricing rows: %w", err)
	}

	btcUSDWhole := int64(btcUSD + 0.5)
	for _, r := range toUpdate {
		sats := money.SatsForUsdMicros(r.priceUSDMicros, btcUSDWhole)
		if _, err := o.pool.Exec(ctx, `
			UPDATE service_pricing SET price_sats = $1, updated_at = now() WHERE id = $2
		`, sats, r.id); err != nil {
			return fmt.Errorf("updating price_sats for %s: %w", r.id, err)
		}
	}
	return nil
}

func (o *Oracle) reload(ctx context.Context, btcUSD float64) error {
	rows, err := o.pool.Query(ctx, `
		SELECT s.slug, sp.operation, sp.price_usd_micros, sp.price_sats
		FROM service_pricing sp JOIN services s ON s.id = sp.service_id
	`)
	if err != nil {
		return fmt.Errorf("loading pricing cache: %w", err)
	}
	defer rows.Close()

	cache := make(map[string]Price)
	for rows.Next() {
		var slug, operation string
		var p Price
		if err := rows.Scan(&slug, &operation, &p.PriceUSDMicros, &p.PriceSats); err != nil {
			return fmt.Errorf("scanning pricing cache row: %w", err)
		}
		cache[cacheKey(slug, operation)] = p
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating pricing cache rows: %w", err)
	}

	o.mu.Lock()
	o.btcUSD = btcUSD
	o.cache = cache
	o.mu.Unlock()

	return nil
}

// GetPrice is the in-process cached (service, operation) -> Price lookup
// (§4.4), invalidated on every rate change.
func (o *Oracle) GetPrice(serviceSlug, operation string) (Price, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.cache[cacheKey(serviceSlug, operation)]
	return p, ok
}

// CurrentRate returns the oracle's current BTC/USD snapshot.
func (o *Oracle) CurrentRate() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.btcUSD
}

func cacheKey(serviceSlug, operation string) string {
	return serviceSlug + "/" + operation
}
