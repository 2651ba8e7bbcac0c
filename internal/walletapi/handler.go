// Package walletapi implements the §6 wallet routes: balance read, Lightning
// invoice funding, and card-checkout session creation, plus the checkout
// settlement webhook.
package walletapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capiswitch/gateway/internal/auth"
	"github.com/capiswitch/gateway/internal/httpserver"
	"github.com/capiswitch/gateway/internal/ids"
	"github.com/capiswitch/gateway/internal/ledger"
	"github.com/capiswitch/gateway/internal/money"
	"github.com/capiswitch/gateway/internal/pricing"
	"github.com/capiswitch/gateway/internal/settlement"
)

// invoiceExpiry is how long a funding invoice is valid for before the
// expiry sweeper (§4.8) marks it expired.
const invoiceExpiry = time.Hour

// InvoiceCreator is the narrow slice of *lnd.Client the handler needs. It is
// nil when LND is not configured, in which case fund requests fail with
// UPSTREAM_ERROR rather than panicking.
type InvoiceCreator interface {
	AddInvoice(ctx context.Context, amountSats int64, memo string, expirySeconds int64) (paymentRequest, rHash string, err error)
}

// Handler serves /wallet, /wallet/fund, /wallet/fund-card, and the checkout
// webhook.
type Handler struct {
	Pool      *pgxpool.Pool
	Ledger    *ledger.Ledger
	Invoices  InvoiceCreator
	Rate      *pricing.Oracle
	Checkouts *settlement.CheckoutSettler
}

// NewHandler creates a wallet Handler.
func NewHandler(pool *pgxpool.Pool, l *ledger.Ledger, invoices InvoiceCreator, rate *pricing.Oracle, checkouts *settlement.CheckoutSettler) *Handler {
	return &Handler{Pool: pool, Ledger: l, Invoices: invoices, Rate: rate, Checkouts: checkouts}
}

// Routes mounts the authenticated wallet routes (the caller mounts this
// under the Bearer-authenticated /v1 router).
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleGetWallet)
	r.Post("/fund", h.handleFund)
	r.Post("/fund-card", h.handleFundCard)
	return r
}

// WebhookRoutes mounts the unauthenticated checkout settlement webhook.
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/checkout", h.handleCheckoutWebhook)
	return r
}

type walletResponse struct {
	ID                  string `json:"id"`
	BalanceSats         int64  `json:"balanceSats"`
	HeldSats            int64  `json:"heldSats"`
	LifetimeInSats      int64  `json:"lifetimeInSats"`
	LifetimeOutSats     int64  `json:"lifetimeOutSats"`
	BalanceUSDCents     int64  `json:"balanceUsdCents"`
	HeldUSDCents        int64  `json:"heldUsdCents"`
	LifetimeInUSDCents  int64  `json:"lifetimeInUsdCents"`
	LifetimeOutUSDCents int64  `json:"lifetimeOutUsdCents"`
}

func (h *Handler) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	wallet, err := h.Ledger.GetWallet(r.Context(), identity.WalletID)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to load wallet")
		return
	}
	httpserver.Respond(w, http.StatusOK, toWalletResponse(wallet))
}

func toWalletResponse(w *ledger.Wallet) walletResponse {
	return walletResponse{
		ID:                  w.ID,
		BalanceSats:         w.BalanceSats,
		HeldSats:            w.HeldSats,
		LifetimeInSats:      w.LifetimeInSats,
		LifetimeOutSats:     w.LifetimeOutSats,
		BalanceUSDCents:     w.BalanceUSDCents,
		HeldUSDCents:        w.HeldUSDCents,
		LifetimeInUSDCents:  w.LifetimeInUSDCents,
		LifetimeOutUSDCents: w.LifetimeOutUSDCents,
	}
}

type fundRequest struct {
	AmountSats int64 `json:"amountSats" validate:"required,gt=0"`
}

type fundResponse struct {
	InvoiceID      string `json:"invoiceId"`
	PaymentRequest string `json:"paymentRequest"`
	ExpiresAt      string `json:"expiresAt"`
}

func (h *Handler) handleFund(w http.ResponseWriter, r *http.Request) {
	if h.Invoices == nil {
		httpserver.RespondError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "lightning funding is not configured")
		return
	}

	var req fundRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	identity := auth.FromContext(r.Context())
	memo := fmt.Sprintf("capiswitch wallet fund %s", identity.WalletID)

	paymentRequest, rHash, err := h.Invoices.AddInvoice(r.Context(), req.AmountSats, memo, int64(invoiceExpiry.Seconds()))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "failed to create lightning invoice")
		return
	}

	invoiceID := ids.New(ids.PrefixInvoice)
	expiresAt := time.Now().Add(invoiceExpiry)
	_, err = h.Pool.Exec(r.Context(), `
		INSERT INTO invoices (id, wallet_id, amount_sats, payment_request, r_hash, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
	`, invoiceID, identity.WalletID, req.AmountSats, paymentRequest, rHash, expiresAt)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to record invoice")
		return
	}

	httpserver.Respond(w, http.StatusCreated, fundResponse{
		InvoiceID:      invoiceID,
		PaymentRequest: paymentRequest,
		ExpiresAt:      expiresAt.Format(time.RFC3339),
	})
}

type fundCardRequest struct {
	AmountUSDCents int64 `json:"amountUsdCents" validate:"required,gt=0"`
}

type fundCardResponse struct {
	CheckoutSessionID string `json:"checkoutSessionId"`
	ExternalSessionID string `json:"externalSessionId"`
}

// handleFundCard creates a pending CheckoutSession at the oracle's current
// rate; the actual hosted checkout URL is minted by the card processor and
// is out of scope (§1 external collaborator).
func (h *Handler) handleFundCard(w http.ResponseWriter, r *http.Request) {
	var req fundCardRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	btcUSD := h.Rate.CurrentRate()
	if btcUSD <= 0 {
		httpserver.RespondError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "btc/usd rate unavailable")
		return
	}
	btcUSDWhole := int64(btcUSD + 0.5)
	amountSats := money.SatsForUsdCents(req.AmountUSDCents, btcUSDWhole)

	identity := auth.FromContext(r.Context())
	sessionID := ids.New(ids.PrefixCheckout)
	externalSessionID := "cks_ext_" + sessionID

	_, err := h.Pool.Exec(r.Context(), `
		INSERT INTO checkout_sessions (id, wallet_id, external_session_id, amount_usd_cents, btc_usd_rate, amount_sats, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
	`, sessionID, identity.WalletID, externalSessionID, req.AmountUSDCents, btcUSD, amountSats)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "INTERNAL", "failed to create checkout session")
		return
	}

	httpserver.Respond(w, http.StatusCreated, fundCardResponse{
		CheckoutSessionID: sessionID,
		ExternalSessionID: externalSessionID,
	})
}

func (h *Handler) handleCheckoutWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.Checkouts.VerifyAndHandle(r.Context(), r); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "failed to process checkout webhook")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
