package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/capiswitch/gateway/internal/pricing"
)

type fakePrices struct {
	prices map[string]pricing.Price
}

func (f fakePrices) GetPrice(serviceSlug, operation string) (pricing.Price, bool) {
	p, ok := f.prices[serviceSlug+"/"+operation]
	return p, ok
}

func TestValidateCredentialEnv(t *testing.T) {
	cases := []struct {
		name    string
		wantErr bool
	}{
		{"OPENAI_API_KEY", false},
		{"ANTHROPIC_API_TOKEN", false},
		{"E2B_SECRET", false},
		{"STRIPE_TOKEN", false},
		{"DATABASE_URL", true},
		{"LND_MACAROON", true},
		{"api_key", true},
	}
	for _, c := range cases {
		err := ValidateCredentialEnv(c.name)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidateCredentialEnv(%q) error = %v, wantErr %v", c.name, err, c.wantErr)
		}
	}
}

func TestLookupCredentialRejectsUnallowlisted(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://x")
	defer os.Unsetenv("DATABASE_URL")

	if _, err := LookupCredential("DATABASE_URL"); err == nil {
		t.Error("expected an error looking up a non-allowlisted env var")
	}
}

func TestLookupCredentialReadsAllowlistedValue(t *testing.T) {
	os.Setenv("TEST_SERVICE_API_KEY", "sk-test-123")
	defer os.Unsetenv("TEST_SERVICE_API_KEY")

	val, err := LookupCredential("TEST_SERVICE_API_KEY")
	if err != nil {
		t.Fatalf("LookupCredential: %v", err)
	}
	if val != "sk-test-123" {
		t.Errorf("val = %q, want sk-test-123", val)
	}
}

func TestDescriptorValidateRejectsTraversal(t *testing.T) {
	os.Setenv("TEST_API_KEY", "x")
	defer os.Unsetenv("TEST_API_KEY")

	d := Descriptor{
		ServiceSlug: "evil", BaseURL: "https://example.com", Path: "/../secret",
		Method: "GET", AuthType: "bearer", AuthCredentialEnv: "TEST_API_KEY",
	}
	if err := d.Validate(); err == nil {
		t.Error("expected traversal path to be rejected")
	}
}

func TestDescriptorValidateRejectsProtocolRelative(t *testing.T) {
	os.Setenv("TEST_API_KEY", "x")
	defer os.Unsetenv("TEST_API_KEY")

	d := Descriptor{
		ServiceSlug: "evil", BaseURL: "https://example.com", Path: "//attacker.example.com/x",
		Method: "GET", AuthType: "bearer", AuthCredentialEnv: "TEST_API_KEY",
	}
	if err := d.Validate(); err == nil {
		t.Error("expected protocol-relative path to be rejected")
	}
}

func TestDescriptorValidateRejectsUnsafeMethod(t *testing.T) {
	os.Setenv("TEST_API_KEY", "x")
	defer os.Unsetenv("TEST_API_KEY")

	d := Descriptor{
		ServiceSlug: "svc", BaseURL: "https://example.com", Path: "/x",
		Method: "DELETE", AuthType: "bearer", AuthCredentialEnv: "TEST_API_KEY",
	}
	if err := d.Validate(); err == nil {
		t.Error("expected DELETE to be rejected as an unsafe method")
	}
}

func TestDescriptorValidateRejectsBadCredentialEnv(t *testing.T) {
	d := Descriptor{
		ServiceSlug: "svc", BaseURL: "https://example.com", Path: "/x",
		Method: "GET", AuthType: "bearer", AuthCredentialEnv: "DATABASE_URL",
	}
	if err := d.Validate(); err == nil {
		t.Error("expected non-allowlisted credential env to be rejected")
	}
}

func TestGenericQuoteAndExecute(t *testing.T) {
	os.Setenv("TEST_GENERIC_API_KEY", "secret-token")
	defer os.Unsetenv("TEST_GENERIC_API_KEY")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret-token" {
			t.Errorf("missing bearer credential on upstream request")
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"ok": "true"})
	}))
	defer srv.Close()

	prices := fakePrices{prices: map[string]pricing.Price{
		"custom-svc/default": {PriceUSDMicros: 1000, PriceSats: 5},
	}}

	d := Descriptor{
		ServiceSlug: "custom-svc", BaseURL: srv.URL, Path: "/run",
		Method: "POST", AuthType: "bearer", AuthCredentialEnv: "TEST_GENERIC_API_KEY",
		DefaultOperation: "default",
	}
	a, err := NewGeneric(d, prices, srv.Client())
	if err != nil {
		t.Fatalf("NewGeneric: %v", err)
	}

	quote, err := a.Quote(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if quote.QuotedSats != 5 {
		t.Errorf("QuotedSats = %d, want 5", quote.QuotedSats)
	}

	result, err := a.Execute(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", result.Status)
	}

	final, err := a.Finalize(context.Background(), result, quote.QuotedSats)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if final.FinalSats != quote.QuotedSats {
		t.Errorf("FinalSats = %d, want %d (generic adapter never reduces below quote)", final.FinalSats, quote.QuotedSats)
	}
}

func TestUnitAdapterTokenQuoteRoundsUpToWholeUnits(t *testing.T) {
	prices := fakePrices{prices: map[string]pricing.Price{
		"openai-chat/reason": {PriceUSDMicros: 2000, PriceSats: 10},
	}}
	a := NewOpenAIChat(http.DefaultClient, prices)

	body, _ := json.Marshal(map[string]int{"maxTokens": 2500})
	quote, err := a.Quote(context.Background(), "", body)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	// ceil(2500/1000) = 3 units * 10 sats = 30
	if quote.QuotedSats != 30 {
		t.Errorf("QuotedSats = %d, want 30", quote.QuotedSats)
	}
}

func TestUnitAdapterFinalizeNeverExceedsQuote(t *testing.T) {
	prices := fakePrices{prices: map[string]pricing.Price{
		"openai-chat/reason": {PriceUSDMicros: 2000, PriceSats: 10},
	}}
	a := NewOpenAIChat(http.DefaultClient, prices)

	resp := ExecResult{Data: json.RawMessage(`{"usage":{"total_tokens":9999999}}`)}
	final, err := a.Finalize(context.Background(), resp, 30)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if final.FinalSats != 30 {
		t.Errorf("FinalSats = %d, want 30 (capped at quote)", final.FinalSats)
	}
}

func TestUnitAdapterFinalizeUsesActualUsageWhenLower(t *testing.T) {
	prices := fakePrices{prices: map[string]pricing.Price{
		"openai-chat/reason": {PriceUSDMicros: 2000, PriceSats: 10},
	}}
	a := NewOpenAIChat(http.DefaultClient, prices)

	resp := ExecResult{Data: json.RawMessage(`{"usage":{"total_tokens":500}}`)}
	final, err := a.Finalize(context.Background(), resp, 30)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	// ceil(500/1000) = 1 unit * 10 sats = 10
	if final.FinalSats != 10 {
		t.Errorf("FinalSats = %d, want 10", final.FinalSats)
	}
}

func TestRegisterBuiltinsRegistersAllTwelve(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, http.DefaultClient, fakePrices{prices: map[string]pricing.Price{}})

	slugs := []string{
		"openai-chat", "anthropic-messages", "brave-search", "exa-search",
		"firecrawl", "jina-reader", "e2b-sandbox", "resend", "twilio-sms",
		"replicate-imagine", "elevenlabs-speak", "deepgram-transcribe",
	}
	for _, slug := range slugs {
		if _, ok := r.Get(slug); !ok {
			t.Errorf("expected adapter registered for %q", slug)
		}
	}
}
