package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ExpirySweepInterval is how often ExpirySweeper checks for invoices past
// their expiry (§4.8).
const ExpirySweepInterval = time.Minute

// ExpirySweeper periodically marks pending invoices past their expiry as
// expired, so a stale invoice never settles after its deadline.
type ExpirySweeper struct {
	Pool     *pgxpool.Pool
	Logger   *slog.Logger
	Interval time.Duration // zero uses ExpirySweepInterval
}

// Run sweeps every s.Interval (or ExpirySweepInterval if unset) until ctx is
// cancelled, grounded on the same ticker+select shape as pricing.Oracle.Start.
func (s *ExpirySweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = ExpirySweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.Logger.Error("sweeping expired invoices", "error", err)
				continue
			}
			if n > 0 {
				s.Logger.Info("expired invoices swept", "count", n)
			}
		}
	}
}

// Sweep marks every pending invoice past its expiry as expired, returning
// the count affected.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE invoices SET status = 'expired'
		WHERE status = 'pending' AND expires_at < now()
	`)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired invoices: %w", err)
	}
	return tag.RowsAffected(), nil
}
