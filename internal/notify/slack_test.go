package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIsEnabledFalseWithoutToken(t *testing.T) {
	n := NewSlackNotifier("", "#funding", testLogger())
	if n.IsEnabled() {
		t.Fatal("expected disabled notifier with empty bot token")
	}
}

func TestIsEnabledFalseWithoutChannel(t *testing.T) {
	n := NewSlackNotifier("xoxb-test", "", testLogger())
	if n.IsEnabled() {
		t.Fatal("expected disabled notifier with empty channel")
	}
}

func TestNotifyFundedNoopWhenDisabled(t *testing.T) {
	n := NewSlackNotifier("", "", testLogger())
	// Must not panic even though n.client is nil.
	n.NotifyFunded(context.Background(), "wal_123", 1000, "lightning")
}
