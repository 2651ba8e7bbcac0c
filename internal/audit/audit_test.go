package audit

import (
	"io"
	"log/slog"
	"net/netip"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientIP_XForwardedFor(t *testing.T) {
	ip := ClientIP("192.0.2.1:12345", "203.0.113.50, 70.41.3.18", "")
	want := netip.MustParseAddr("203.0.113.50")
	if ip != want {
		t.Errorf("ClientIP = %v, want %v", ip, want)
	}
}

func TestClientIP_XRealIP(t *testing.T) {
	ip := ClientIP("192.0.2.1:12345", "", "198.51.100.23")
	want := netip.MustParseAddr("198.51.100.23")
	if ip != want {
		t.Errorf("ClientIP = %v, want %v", ip, want)
	}
}

func TestClientIP_RemoteAddr(t *testing.T) {
	ip := ClientIP("192.0.2.1:12345", "", "")
	want := netip.MustParseAddr("192.0.2.1")
	if ip != want {
		t.Errorf("ClientIP = %v, want %v", ip, want)
	}
}

func TestClientIP_Precedence(t *testing.T) {
	ip := ClientIP("192.0.2.1:12345", "203.0.113.50", "198.51.100.23")
	want := netip.MustParseAddr("203.0.113.50")
	if ip != want {
		t.Errorf("ClientIP = %v, want %v (X-Forwarded-For should take precedence)", ip, want)
	}
}

func TestClientIP_XRealIPFallback(t *testing.T) {
	ip := ClientIP("192.0.2.1:12345", "", "198.51.100.23")
	want := netip.MustParseAddr("198.51.100.23")
	if ip != want {
		t.Errorf("ClientIP = %v, want %v (X-Real-IP should take precedence over RemoteAddr)", ip, want)
	}
}

func TestClientIP_InvalidXFF(t *testing.T) {
	ip := ClientIP("192.0.2.1:12345", "not-an-ip", "")
	want := netip.MustParseAddr("192.0.2.1")
	if ip != want {
		t.Errorf("ClientIP = %v, want %v (should fall back to RemoteAddr)", ip, want)
	}
}

func TestLog_DropsWhenFull(t *testing.T) {
	w := NewWriter(nil, testLogger())
	// Don't start the background goroutine — nothing drains the channel.

	for i := 0; i < bufferSize; i++ {
		w.Log(Entry{AgentID: "agt_1", ServiceSlug: "test"})
	}

	// The next log should be dropped (non-blocking).
	w.Log(Entry{AgentID: "agt_1", ServiceSlug: "dropped"})

	if len(w.entries) != bufferSize {
		t.Errorf("buffer size = %d, want %d", len(w.entries), bufferSize)
	}
}

func TestLog_EnqueuesEntry(t *testing.T) {
	w := NewWriter(nil, testLogger())

	ip := netip.MustParseAddr("198.51.100.23")
	w.Log(Entry{
		AgentID:      "agt_1",
		ServiceSlug:  "openai",
		Capability:   "reason",
		PolicyResult: PolicyAllowed,
		QuotedSats:   500,
		ChargedSats:  300,
		ClientIP:     &ip,
	})

	entry := <-w.entries
	if entry.AgentID != "agt_1" {
		t.Errorf("AgentID = %q, want agt_1", entry.AgentID)
	}
	if entry.PolicyResult != PolicyAllowed {
		t.Errorf("PolicyResult = %q, want %q", entry.PolicyResult, PolicyAllowed)
	}
	if entry.ChargedSats != 300 {
		t.Errorf("ChargedSats = %d, want 300", entry.ChargedSats)
	}
}
