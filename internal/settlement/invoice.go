// Package settlement reconciles external payment events (Lightning invoice
// settlement, card-checkout webhooks) into wallet credits (§4.8/§4.9).
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capiswitch/gateway/internal/lnd"
)

// InvoiceSubscriber is the narrow slice of *lnd.Client the settler needs.
type InvoiceSubscriber interface {
	SubscribeInvoices(ctx context.Context, onSettled func(lnd.SettledInvoice)) error
}

// WalletCredit is the narrow slice of *ledger.Ledger the settler needs.
type WalletCredit interface {
	CreditFromInvoice(ctx context.Context, walletID string, sats int64, invoiceID string) error
}

// Notifier posts a funding-event message (§9, adapted from the teacher's
// Slack notifier).
type Notifier interface {
	NotifyFunded(ctx context.Context, walletID string, amountSats int64, source string)
}

// reconnectBackoff is how long InvoiceSettler waits before resubscribing
// after the LND stream drops (e.g. a restart or network blip).
const reconnectBackoff = 5 * time.Second

// InvoiceSettler claims a settled Lightning invoice exactly once and credits
// the owning wallet (§4.8, §8 law "replaying a settle event for the same
// rHash credits at most once").
type InvoiceSettler struct {
	Subscriber InvoiceSubscriber
	Pool       *pgxpool.Pool
	Ledger     WalletCredit
	Notifier   Notifier
	Logger     *slog.Logger
}

// Run subscribes to LND invoice events until ctx is cancelled, reconnecting
// on stream errors after reconnectBackoff.
func (s *InvoiceSettler) Run(ctx context.Context) {
	for {
		err := s.Subscriber.SubscribeInvoices(ctx, func(settled lnd.SettledInvoice) {
			if err := s.claim(ctx, settled); err != nil {
				s.Logger.Error("claiming settled invoice", "error", err, "r_hash", settled.RHash)
			}
		})
		if ctx.Err() != nil {
			return
		}
		s.Logger.Error("invoice subscription dropped, reconnecting", "error", err, "backoff", reconnectBackoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

// claim looks up the invoice by rHash, atomically marks it settled (a
// conditional UPDATE guards against a duplicate SETTLED event for the same
// invoice being processed twice), and credits the wallet.
func (s *InvoiceSettler) claim(ctx context.Context, settled lnd.SettledInvoice) error {
	var invoiceID, walletID string
	var amountSats int64
	err := s.Pool.QueryRow(ctx, `
		SELECT id, wallet_id, amount_sats FROM invoices WHERE r_hash = $1
	`, settled.RHash).Scan(&invoiceID, &walletID, &amountSats)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.Logger.Warn("settled invoice has no matching invoices row", "r_hash", settled.RHash)
			return nil
		}
		return fmt.Errorf("looking up invoice by rHash: %w", err)
	}

	tag, err := s.Pool.Exec(ctx, `
		UPDATE invoices SET status = 'settled', settled_at = now()
		WHERE id = $1 AND status = 'pending'
	`, invoiceID)
	if err != nil {
		return fmt.Errorf("marking invoice settled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already settled by a prior delivery of this event — the ledger
		// credit below is also idempotent on reference_id, so this is a
		// pure no-op, not an error.
		return nil
	}

	if err := s.Ledger.CreditFromInvoice(ctx, walletID, amountSats, invoiceID); err != nil {
		return fmt.Errorf("crediting wallet from invoice %s: %w", invoiceID, err)
	}

	if s.Notifier != nil {
		s.Notifier.NotifyFunded(ctx, walletID, amountSats, "lightning")
	}
	return nil
}
