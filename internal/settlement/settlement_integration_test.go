//go:build integration

package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/capiswitch/gateway/internal/ids"
	"github.com/capiswitch/gateway/internal/ledger"
	"github.com/capiswitch/gateway/internal/lnd"
	"github.com/capiswitch/gateway/internal/platform"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSubscriber struct {
	events []lnd.SettledInvoice
}

func (s stubSubscriber) SubscribeInvoices(ctx context.Context, onSettled func(lnd.SettledInvoice)) error {
	for _, e := range s.events {
		onSettled(e)
	}
	<-ctx.Done()
	return ctx.Err()
}

type countingNotifier struct {
	calls int32
}

func (n *countingNotifier) NotifyFunded(ctx context.Context, walletID string, amountSats int64, source string) {
	atomic.AddInt32(&n.calls, 1)
}

func setupSettlementTest(t *testing.T) (pool *pgxpool.Pool, l *ledger.Ledger, accountID, walletID string) {
	t.Helper()

	databaseURL := os.Getenv("CAPISWITCH_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("CAPISWITCH_TEST_DATABASE_URL not set")
	}
	require.NoError(t, platform.RunMigrations(databaseURL, "../../migrations"))

	p, err := platform.NewPostgresPool(context.Background(), databaseURL)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	accountID = ids.New(ids.PrefixAccount)
	walletID = ids.New(ids.PrefixWallet)
	_, err = p.Exec(context.Background(), `INSERT INTO accounts (id, name) VALUES ($1, 'test')`, accountID)
	require.NoError(t, err)
	_, err = p.Exec(context.Background(), `INSERT INTO wallets (id, account_id) VALUES ($1, $2)`, walletID, accountID)
	require.NoError(t, err)

	return p, ledger.New(p), accountID, walletID
}

// TestInvoiceSettlerClaimIsIdempotent exercises §8 scenario 4: two
// deliveries of the same settled rHash credit the wallet exactly once.
func TestInvoiceSettlerClaimIsIdempotent(t *testing.T) {
	pool, l, _, walletID := setupSettlementTest(t)
	ctx := context.Background()

	invoiceID := ids.New(ids.PrefixInvoice)
	rHash := "deadbeef"
	_, err := pool.Exec(ctx, `
		INSERT INTO invoices (id, wallet_id, amount_sats, payment_request, r_hash, status, expires_at)
		VALUES ($1, $2, 1000, 'lnbc...', $3, 'pending', now() + interval '1 hour')
	`, invoiceID, walletID, rHash)
	require.NoError(t, err)

	notifier := &countingNotifier{}
	settler := &InvoiceSettler{Pool: pool, Ledger: l, Notifier: notifier, Logger: testLogger()}

	settled := lnd.SettledInvoice{RHash: rHash, AmountSats: 1000}
	require.NoError(t, settler.claim(ctx, settled))
	require.NoError(t, settler.claim(ctx, settled)) // replay

	w, err := l.GetWallet(ctx, walletID)
	require.NoError(t, err)
	require.Equal(t, int64(1000), w.BalanceSats)

	var txnCount int
	err = pool.QueryRow(ctx, `SELECT count(*) FROM transactions WHERE reference_type = 'invoice' AND reference_id = $1`, invoiceID).Scan(&txnCount)
	require.NoError(t, err)
	require.Equal(t, 1, txnCount)
}

// TestCheckoutSettlerNeverMutatesSats exercises §8's dual-currency
// independence law through the full webhook-verify-then-claim path.
func TestCheckoutSettlerNeverMutatesSats(t *testing.T) {
	pool, l, _, walletID := setupSettlementTest(t)
	ctx := context.Background()

	sessionID := ids.New(ids.PrefixCheckout)
	externalID := "cs_test_123"
	_, err := pool.Exec(ctx, `
		INSERT INTO checkout_sessions (id, wallet_id, external_session_id, amount_usd_cents, btc_usd_rate, amount_sats, status)
		VALUES ($1, $2, $3, 500, 65000, 769, 'pending')
	`, sessionID, walletID, externalID)
	require.NoError(t, err)

	settler := &CheckoutSettler{SigningSecret: "", Pool: pool, Ledger: l}
	body, _ := json.Marshal(map[string]any{
		"sessionId":      externalID,
		"status":         "completed",
		"amountUsdCents": 500,
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/checkout", bytes.NewReader(body))

	require.NoError(t, settler.VerifyAndHandle(ctx, req))

	w, err := l.GetWallet(ctx, walletID)
	require.NoError(t, err)
	require.Equal(t, int64(0), w.BalanceSats, "checkout credit must never touch sats")
	require.Equal(t, int64(500), w.BalanceUSDCents)
}

// TestExpirySweeperMarksPendingPastDeadline verifies Sweep only touches
// pending invoices whose expiry has passed.
func TestExpirySweeperMarksPendingPastDeadline(t *testing.T) {
	pool, _, _, walletID := setupSettlementTest(t)
	ctx := context.Background()

	expired := ids.New(ids.PrefixInvoice)
	fresh := ids.New(ids.PrefixInvoice)
	_, err := pool.Exec(ctx, `
		INSERT INTO invoices (id, wallet_id, amount_sats, payment_request, r_hash, status, expires_at)
		VALUES ($1, $2, 100, 'lnbc1', 'hash1', 'pending', now() - interval '1 minute')
	`, expired, walletID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO invoices (id, wallet_id, amount_sats, payment_request, r_hash, status, expires_at)
		VALUES ($1, $2, 100, 'lnbc2', 'hash2', 'pending', now() + interval '1 hour')
	`, fresh, walletID)
	require.NoError(t, err)

	sweeper := &ExpirySweeper{Pool: pool, Logger: testLogger()}
	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	var status string
	require.NoError(t, pool.QueryRow(ctx, `SELECT status FROM invoices WHERE id = $1`, expired).Scan(&status))
	require.Equal(t, "expired", status)
	require.NoError(t, pool.QueryRow(ctx, `SELECT status FROM invoices WHERE id = $1`, fresh).Scan(&status))
	require.Equal(t, "pending", status)
}

// TestInvoiceSettlerRunProcessesSubscribedEvents exercises the Run loop
// (not just claim directly) against a stub, non-streaming subscriber.
func TestInvoiceSettlerRunProcessesSubscribedEvents(t *testing.T) {
	pool, l, _, walletID := setupSettlementTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	invoiceID := ids.New(ids.PrefixInvoice)
	rHash := "cafebabe"
	_, err := pool.Exec(context.Background(), `
		INSERT INTO invoices (id, wallet_id, amount_sats, payment_request, r_hash, status, expires_at)
		VALUES ($1, $2, 250, 'lnbc...', $3, 'pending', now() + interval '1 hour')
	`, invoiceID, walletID, rHash)
	require.NoError(t, err)

	notifier := &countingNotifier{}
	settler := &InvoiceSettler{
		Subscriber: stubSubscriber{events: []lnd.SettledInvoice{{RHash: rHash, AmountSats: 250}}},
		Pool:       pool,
		Ledger:     l,
		Notifier:   notifier,
		Logger:     testLogger(),
	}
	settler.Run(ctx)

	w, err := l.GetWallet(context.Background(), walletID)
	require.NoError(t, err)
	require.Equal(t, int64(250), w.BalanceSats)
	require.Equal(t, int32(1), atomic.LoadInt32(&notifier.calls))
}
