package lnd

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/lightningnetwork/lnd/lnrpc"
)

// SettledInvoice is the subset of an lnrpc.Invoice the settler needs once a
// payment has reached the SETTLED state.
type SettledInvoice struct {
	RHash      string // hex-encoded
	AmountSats int64
}

// SubscribeInvoices opens LND's invoice event stream and calls onSettled for
// every invoice that transitions to SETTLED, until ctx is cancelled or the
// stream errors. Grounded on the giftcard reference's PayInvoice streaming
// read loop (internal/lnd/lightning.go), adapted from SendPaymentV2's
// client-stream to SubscribeInvoices' server-stream.
func (c *Client) SubscribeInvoices(ctx context.Context, onSettled func(SettledInvoice)) error {
	stream, err := c.Lights.SubscribeInvoices(ctx, &lnrpc.InvoiceSubscription{})
	if err != nil {
		return fmt.Errorf("lnd: opening invoice subscription: %w", err)
	}

	for {
		inv, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("lnd: invoice stream error: %w", err)
		}

		if inv.State != lnrpc.Invoice_SETTLED {
			continue
		}

		onSettled(SettledInvoice{
			RHash:      hex.EncodeToString(inv.RHash),
			AmountSats: inv.AmtPaidSat,
		})
	}
}

// AddInvoice creates a new BOLT11 invoice for amountSats, used by the
// /wallet/fund handler.
func (c *Client) AddInvoice(ctx context.Context, amountSats int64, memo string, expirySeconds int64) (paymentRequest, rHash string, err error) {
	resp, err := c.Lights.AddInvoice(ctx, &lnrpc.Invoice{
		Value:  amountSats,
		Memo:   memo,
		Expiry: expirySeconds,
	})
	if err != nil {
		return "", "", fmt.Errorf("lnd: creating invoice: %w", err)
	}
	return resp.PaymentRequest, hex.EncodeToString(resp.RHash), nil
}
