// Package notify posts best-effort funding notifications (§4.9 "On
// successful credit ... a best-effort Slack message is posted"), adapted
// from the teacher's pkg/slack.Notifier.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// SlackNotifier posts a message to a fixed channel when a wallet is funded.
// It implements settlement.Notifier. With no bot token configured it is a
// silent no-op, same as the teacher's IsEnabled gate.
type SlackNotifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewSlackNotifier creates a SlackNotifier. If botToken is empty, NotifyFunded
// becomes a no-op.
func NewSlackNotifier(botToken, channel string, logger *slog.Logger) *SlackNotifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &SlackNotifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether a Slack client and channel are configured.
func (n *SlackNotifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// NotifyFunded posts a funding confirmation to the configured channel. It
// never returns an error to the caller — a failed notification must not
// roll back a completed credit.
func (n *SlackNotifier) NotifyFunded(ctx context.Context, walletID string, amountSats int64, source string) {
	if !n.IsEnabled() {
		n.logger.Debug("slack notifier disabled, skipping funding notice",
			"wallet_id", walletID, "source", source)
		return
	}

	var text string
	if amountSats > 0 {
		text = fmt.Sprintf(":zap: wallet `%s` funded +%d sats via %s", walletID, amountSats, source)
	} else {
		text = fmt.Sprintf(":dollar: wallet `%s` funded via %s", walletID, source)
	}

	_, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false))
	if err != nil {
		n.logger.Error("posting funding notice to slack", "error", err, "wallet_id", walletID)
	}
}
