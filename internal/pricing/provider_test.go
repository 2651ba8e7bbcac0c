package pricing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewProviderUnknownName(t *testing.T) {
	_, err := NewProvider("unknown", "", nil)
	if err == nil {
		t.Fatal("expected an error for an unknown provider name")
	}
}

func TestCoinbaseGetRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"amount": "65000.12", "base": "BTC", "currency": "USD"},
		})
	}))
	defer srv.Close()

	p, err := NewProvider("coinbase", srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Name() != "coinbase" {
		t.Errorf("Name() = %q, want coinbase", p.Name())
	}

	rate, err := p.GetRate(context.Background())
	if err != nil {
		t.Fatalf("GetRate: %v", err)
	}
	if rate != 65000.12 {
		t.Errorf("rate = %f, want 65000.12", rate)
	}
}

func TestCoingeckoGetRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]map[string]float64{
			"bitcoin": {"usd": 70000},
		})
	}))
	defer srv.Close()

	p, err := NewProvider("coingecko", srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	rate, err := p.GetRate(context.Background())
	if err != nil {
		t.Fatalf("GetRate: %v", err)
	}
	if rate != 70000 {
		t.Errorf("rate = %f, want 70000", rate)
	}
}

func TestBitstampGetRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"last": "69999.50"})
	}))
	defer srv.Close()

	p, err := NewProvider("bitstamp", srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	rate, err := p.GetRate(context.Background())
	if err != nil {
		t.Fatalf("GetRate: %v", err)
	}
	if rate != 69999.50 {
		t.Errorf("rate = %f, want 69999.50", rate)
	}
}

func TestGetRateRejectsNonPositive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"amount": "0"},
		})
	}))
	defer srv.Close()

	p, err := NewProvider("coinbase", srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	if _, err := p.GetRate(context.Background()); err == nil {
		t.Error("expected an error for a non-positive rate")
	}
}

func TestGetRateRejectsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := NewProvider("coinbase", srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	if _, err := p.GetRate(context.Background()); err == nil {
		t.Error("expected an error for a 500 upstream response")
	}
}
