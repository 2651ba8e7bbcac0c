package settlement

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInvalidSignature is returned when a checkout webhook's HMAC signature
// doesn't match the configured signing secret.
var ErrInvalidSignature = errors.New("settlement: invalid webhook signature")

// WalletCreditUSD is the narrow slice of *ledger.Ledger the checkout
// settler needs.
type WalletCreditUSD interface {
	CreditFromCheckout(ctx context.Context, walletID string, usdCents int64, sessionID string) error
}

// CheckoutSettler verifies and applies a card-checkout provider's webhook
// events (§4.9), crediting the USD side of the wallet only — never sats
// (§8 law "dual-currency independence").
type CheckoutSettler struct {
	SigningSecret string
	Pool          *pgxpool.Pool
	Ledger        WalletCreditUSD
	Notifier      Notifier
}

// checkoutEvent is the normalized webhook payload shape; real checkout
// providers nest this differently, but every one of them carries these
// three fields somewhere in the event.
type checkoutEvent struct {
	ExternalSessionID string `json:"sessionId"`
	Status            string `json:"status"`
	AmountUSDCents    int64  `json:"amountUsdCents"`
}

// VerifyAndHandle reads the raw request body, verifies its HMAC-SHA256
// signature (read-body-then-replace so downstream middleware can still read
// it, mirroring pkg/slack.VerifyMiddleware), and applies the event if it
// reports a completed checkout.
func (s *CheckoutSettler) VerifyAndHandle(ctx context.Context, r *http.Request) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("reading webhook body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if err := s.verifySignature(r.Header.Get("X-Checkout-Signature"), body); err != nil {
		return err
	}

	var event checkoutEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decoding webhook body: %w", err)
	}
	if event.Status != "completed" {
		return nil
	}

	return s.claim(ctx, event)
}

func (s *CheckoutSettler) verifySignature(signatureHeader string, body []byte) error {
	if s.SigningSecret == "" {
		return nil // dev mode
	}
	sig, err := hex.DecodeString(signatureHeader)
	if err != nil {
		return fmt.Errorf("%w: malformed signature header", ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, []byte(s.SigningSecret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if !hmac.Equal(sig, expected) {
		return ErrInvalidSignature
	}
	return nil
}

// claim idempotently applies a completed checkout session, guarded by the
// same conditional-UPDATE-then-credit pattern as InvoiceSettler.claim.
func (s *CheckoutSettler) claim(ctx context.Context, event checkoutEvent) error {
	var sessionID, walletID string
	err := s.Pool.QueryRow(ctx, `
		SELECT id, wallet_id FROM checkout_sessions WHERE external_session_id = $1
	`, event.ExternalSessionID).Scan(&sessionID, &walletID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("no checkout session for external id %s", event.ExternalSessionID)
		}
		return fmt.Errorf("looking up checkout session: %w", err)
	}

	tag, err := s.Pool.Exec(ctx, `
		UPDATE checkout_sessions SET status = 'completed', completed_at = now()
		WHERE id = $1 AND status != 'completed'
	`, sessionID)
	if err != nil {
		return fmt.Errorf("marking checkout session completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil // already claimed
	}

	if err := s.Ledger.CreditFromCheckout(ctx, walletID, event.AmountUSDCents, sessionID); err != nil {
		return fmt.Errorf("crediting wallet from checkout %s: %w", sessionID, err)
	}

	if s.Notifier != nil {
		s.Notifier.NotifyFunded(ctx, walletID, 0, "card_checkout")
	}
	return nil
}
