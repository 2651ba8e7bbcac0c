// Package ledger implements §4.7: atomic wallet mutations, non-negative
// balance invariants, and idempotent credit/debit semantics. Every mutating
// method runs inside one SERIALIZABLE transaction that row-locks the wallet with
// SELECT ... FOR UPDATE, so concurrent holds on the same wallet never let
// balance go negative (§5).
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capiswitch/gateway/internal/ids"
)

// Sentinel errors surfaced to the call pipeline (§7 error taxonomy maps
// ErrInsufficientBalance to INSUFFICIENT_BALANCE, everything else to
// INTERNAL).
var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrWalletNotFound      = errors.New("ledger: wallet not found")
)

// Transaction types (§3).
const (
	TypeHold           = "hold"
	TypeReleaseHold    = "release_hold"
	TypeDebit          = "debit"
	TypeCreditInvoice  = "credit_invoice"
	TypeCreditCheckout = "credit_checkout"
)

// Currency tags (§4.7: "a Transaction's currency field tags which
// balance*After is authoritative").
const (
	CurrencySats     = "sats"
	CurrencyUSDCents = "usd_cents"
)

// Wallet mirrors the §3 Wallet row.
type Wallet struct {
	ID                  string
	AccountID           string
	BalanceSats         int64
	HeldSats            int64
	LifetimeInSats      int64
	LifetimeOutSats     int64
	BalanceUSDCents     int64
	HeldUSDCents        int64
	LifetimeInUSDCents  int64
	LifetimeOutUSDCents int64
}

// Ledger performs atomic wallet mutations against Postgres.
type Ledger struct {
	pool *pgxpool.Pool
}

// New creates a Ledger backed by pool.
func New(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// GetWallet loads a wallet without locking it, for read-only display (e.g.
// GET /wallet).
func (l *Ledger) GetWallet(ctx context.Context, walletID string) (*Wallet, error) {
	return scanWallet(ctx, l.pool, walletID)
}

// GetWalletByAccountID loads a wallet by its owning account.
func (l *Ledger) GetWalletByAccountID(ctx context.Context, accountID string) (*Wallet, error) {
	var w Wallet
	err := l.pool.QueryRow(ctx, `
		SELECT id, account_id, balance_sats, held_sats, lifetime_in_sats, lifetime_out_sats,
		       balance_usd_cents, held_usd_cents, lifetime_in_usd_cents, lifetime_out_usd_cents
		FROM wallets WHERE account_id = $1
	`, accountID).Scan(
		&w.ID, &w.AccountID, &w.BalanceSats, &w.HeldSats, &w.LifetimeInSats, &w.LifetimeOutSats,
		&w.BalanceUSDCents, &w.HeldUSDCents, &w.LifetimeInUSDCents, &w.LifetimeOutUSDCents,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading wallet by account: %w", err)
	}
	return &w, nil
}

func scanWallet(ctx context.Context, q pgxQuerier, walletID string) (*Wallet, error) {
	var w Wallet
	err := q.QueryRow(ctx, `
		SELECT id, account_id, balance_sats, held_sats, lifetime_in_sats, lifetime_out_sats,
		       balance_usd_cents, held_usd_cents, lifetime_in_usd_cents, lifetime_out_usd_cents
		FROM wallets WHERE id = $1
	`, walletID).Scan(
		&w.ID, &w.AccountID, &w.BalanceSats, &w.HeldSats, &w.LifetimeInSats, &w.LifetimeOutSats,
		&w.BalanceUSDCents, &w.HeldUSDCents, &w.LifetimeInUSDCents, &w.LifetimeOutUSDCents,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading wallet: %w", err)
	}
	return &w, nil
}

// pgxQuerier is the subset of pgxpool.Pool/pgx.Tx used by scanWallet,
// letting it run against either a pool connection or an open transaction.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Hold moves sats from balance to held for an agent's call (§4.6 HELD
// transition). Fails with ErrInsufficientBalance if balance_sats would go
// negative. The wallet row is locked FOR UPDATE for the duration of the
// transaction, so concurrent holds on the same wallet serialize (§5).
func (l *Ledger) Hold(ctx context.Context, walletID, agentID string, sats int64, auditID string) error {
	return l.withSerializableTx(ctx, func(tx pgx.Tx) error {
		current, err := lockWallet(ctx, tx, walletID)
		if err != nil {
			return err
		}
		if current.BalanceSats < sats {
			return ErrInsufficientBalance
		}

		newBalance := current.BalanceSats - sats
		newHeld := current.HeldSats + sats

		if _, err := tx.Exec(ctx, `
			UPDATE wallets SET balance_sats = $1, held_sats = $2, updated_at = now() WHERE id = $3
		`, newBalance, newHeld, walletID); err != nil {
			return fmt.Errorf("updating wallet for hold: %w", err)
		}

		return insertTransaction(ctx, tx, transactionRow{
			WalletID:     walletID,
			AgentID:      &agentID,
			Type:         TypeHold,
			Currency:     CurrencySats,
			AmountSats:   &sats,
			BalanceAfter: &newBalance,
			RefType:      strPtr("hold"),
			RefID:        strPtr(auditID),
			Description:  "quoted hold for proxy call",
		})
	})
}

// ReleaseHold reverses a Hold that never reached COMMITTED — e.g. the
// adapter's execute step failed and no charge should apply (§4.6 EXECUTED
// failure transition, §5 cancellation compensations). Idempotent per
// auditID via the reference-type/id unique constraint.
func (l *Ledger) ReleaseHold(ctx context.Context, walletID, agentID string, sats int64, auditID string) error {
	err := l.withSerializableTx(ctx, func(tx pgx.Tx) error {
		current, err := lockWallet(ctx, tx, walletID)
		if err != nil {
			return err
		}

		newBalance := current.BalanceSats + sats
		newHeld := current.HeldSats - sats
		if newHeld < 0 {
			newHeld = 0
		}

		if _, err := tx.Exec(ctx, `
			UPDATE wallets SET balance_sats = $1, held_sats = $2, updated_at = now() WHERE id = $3
		`, newBalance, newHeld, walletID); err != nil {
			return fmt.Errorf("updating wallet for release: %w", err)
		}

		return insertTransaction(ctx, tx, transactionRow{
			WalletID:     walletID,
			AgentID:      &agentID,
			Type:         TypeReleaseHold,
			Currency:     CurrencySats,
			AmountSats:   &sats,
			BalanceAfter: &newBalance,
			RefType:      strPtr("release_hold"),
			RefID:        strPtr(auditID),
			Description:  "released hold after upstream failure",
		})
	})
	if isUniqueViolation(err) {
		return nil // already released for this auditID; the tx rolled back (idempotent)
	}
	return err
}

// Debit finalizes a call (§4.6 COMMITTED transition, §4.7 debit): the
// quoted amount moves out of held; final <= quoted is charged to
// lifetimeOut and the remainder (quoted-final) returns to balance.
// Idempotent on (reference_type, reference_id) — a retried commit for the
// same auditID is a no-op.
func (l *Ledger) Debit(ctx context.Context, walletID, agentID string, quotedSats, finalSats int64, auditID string) (balanceAfter int64, err error) {
	err = l.withSerializableTx(ctx, func(tx pgx.Tx) error {
		current, err := lockWallet(ctx, tx, walletID)
		if err != nil {
			return err
		}

		refund := quotedSats - finalSats
		newHeld := current.HeldSats - quotedSats
		if newHeld < 0 {
			newHeld = 0
		}
		newBalance := current.BalanceSats + refund
		newLifetimeOut := current.LifetimeOutSats + finalSats

		if _, err := tx.Exec(ctx, `
			UPDATE wallets
			SET held_sats = $1, balance_sats = $2, lifetime_out_sats = $3, updated_at = now()
			WHERE id = $4
		`, newHeld, newBalance, newLifetimeOut, walletID); err != nil {
			return fmt.Errorf("updating wallet for debit: %w", err)
		}

		balanceAfter = newBalance
		return insertTransaction(ctx, tx, transactionRow{
			WalletID:     walletID,
			AgentID:      &agentID,
			Type:         TypeDebit,
			Currency:     CurrencySats,
			AmountSats:   &finalSats,
			BalanceAfter: &newBalance,
			RefType:      strPtr("proxy_call"),
			RefID:        strPtr(auditID),
			Description:  "proxy call charge",
		})
	})
	if isUniqueViolation(err) {
		// Already committed by a prior attempt for this auditID; reload the
		// current balance rather than report success with a stale value.
		w, loadErr := l.GetWallet(ctx, walletID)
		if loadErr != nil {
			return 0, loadErr
		}
		return w.BalanceSats, nil
	}
	return balanceAfter, err
}

// CreditFromInvoice credits a settled Lightning invoice (§4.8). Idempotent
// on (invoice, invoiceID): a replayed settle event for the same rHash
// credits the wallet at most once (§8 laws).
func (l *Ledger) CreditFromInvoice(ctx context.Context, walletID string, sats int64, invoiceID string) error {
	err := l.withSerializableTx(ctx, func(tx pgx.Tx) error {
		current, err := lockWallet(ctx, tx, walletID)
		if err != nil {
			return err
		}

		newBalance := current.BalanceSats + sats
		newLifetimeIn := current.LifetimeInSats + sats

		if _, err := tx.Exec(ctx, `
			UPDATE wallets SET balance_sats = $1, lifetime_in_sats = $2, updated_at = now() WHERE id = $3
		`, newBalance, newLifetimeIn, walletID); err != nil {
			return fmt.Errorf("updating wallet for invoice credit: %w", err)
		}

		return insertTransaction(ctx, tx, transactionRow{
			WalletID:     walletID,
			Type:         TypeCreditInvoice,
			Currency:     CurrencySats,
			AmountSats:   &sats,
			BalanceAfter: &newBalance,
			RefType:      strPtr("invoice"),
			RefID:        strPtr(invoiceID),
			Description:  "lightning invoice settled",
		})
	})
	if isUniqueViolation(err) {
		return nil // already credited; the tx rolled back, so no second credit
	}
	return err
}

// CreditFromCheckout credits a completed card checkout in USD cents (§4.9).
// Per spec.md §9(c) this never mutates the sats balance fields — the
// sats-equivalent at the snapshot rate is for display only and is not
// persisted here.
func (l *Ledger) CreditFromCheckout(ctx context.Context, walletID string, usdCents int64, sessionID string) error {
	err := l.withSerializableTx(ctx, func(tx pgx.Tx) error {
		current, err := lockWallet(ctx, tx, walletID)
		if err != nil {
			return err
		}

		newBalance := current.BalanceUSDCents + usdCents
		newLifetimeIn := current.LifetimeInUSDCents + usdCents

		if _, err := tx.Exec(ctx, `
			UPDATE wallets SET balance_usd_cents = $1, lifetime_in_usd_cents = $2, updated_at = now() WHERE id = $3
		`, newBalance, newLifetimeIn, walletID); err != nil {
			return fmt.Errorf("updating wallet for checkout credit: %w", err)
		}

		return insertTransaction(ctx, tx, transactionRow{
			WalletID:             walletID,
			Type:                 TypeCreditCheckout,
			Currency:             CurrencyUSDCents,
			AmountUSDCents:       &usdCents,
			BalanceAfterUSDCents: &newBalance,
			RefType:              strPtr("checkout"),
			RefID:                strPtr(sessionID),
			Description:          "card checkout completed",
		})
	})
	if isUniqueViolation(err) {
		return nil // already credited; the tx rolled back, so no second credit
	}
	return err
}

func lockWallet(ctx context.Context, tx pgx.Tx, walletID string) (*Wallet, error) {
	var w Wallet
	err := tx.QueryRow(ctx, `
		SELECT id, account_id, balance_sats, held_sats, lifetime_in_sats, lifetime_out_sats,
		       balance_usd_cents, held_usd_cents, lifetime_in_usd_cents, lifetime_out_usd_cents
		FROM wallets WHERE id = $1 FOR UPDATE
	`, walletID).Scan(
		&w.ID, &w.AccountID, &w.BalanceSats, &w.HeldSats, &w.LifetimeInSats, &w.LifetimeOutSats,
		&w.BalanceUSDCents, &w.HeldUSDCents, &w.LifetimeInUSDCents, &w.LifetimeOutUSDCents,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("locking wallet: %w", err)
	}
	return &w, nil
}

type transactionRow struct {
	WalletID             string
	AgentID              *string
	Type                 string
	Currency             string
	AmountSats           *int64
	BalanceAfter         *int64
	AmountUSDCents       *int64
	BalanceAfterUSDCents *int64
	RefType              *string
	RefID                *string
	Description          string
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t transactionRow) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (
			id, wallet_id, agent_id, type, currency,
			amount_sats, balance_after, amount_usd_cents, balance_after_usd_cents,
			reference_type, reference_id, description, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
	`,
		ids.New(ids.PrefixTxn), t.WalletID, t.AgentID, t.Type, t.Currency,
		t.AmountSats, t.BalanceAfter, t.AmountUSDCents, t.BalanceAfterUSDCents,
		t.RefType, t.RefID, t.Description,
	)
	if err != nil {
		return fmt.Errorf("inserting transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (23505), the second line of defense against double credit/debit (§4.8).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func strPtr(s string) *string { return &s }
