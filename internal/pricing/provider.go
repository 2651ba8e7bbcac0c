// Package pricing implements §4.4: the BTC/USD Pricing Oracle. RateProvider
// fetches the current rate from an upstream source; Oracle caches it, keeps
// a small history via RateSnapshot rows, and recomputes priceSats across
// service_pricing on every change.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateProvider fetches the current BTC/USD spot rate from an upstream
// source, ported from DanielDucuara2018-btc-giftcard's exchange.PriceProvider.
type RateProvider interface {
	GetRate(ctx context.Context) (float64, error)
	Name() string
}

type coinbase struct {
	httpClient *http.Client
	baseURL    string
}

type coingecko struct {
	httpClient *http.Client
	baseURL    string
}

type bitstamp struct {
	httpClient *http.Client
	baseURL    string
}

const (
	coinbaseBaseURL  = "https://api.coinbase.com"
	coingeckoBaseURL = "https://api.coingecko.com"
	bitstampBaseURL  = "https://www.bitstamp.net"
)

type coinbaseRateResponse struct {
	Data struct {
		Amount string `json:"amount"`
	} `json:"data"`
}

type coingeckoRateResponse map[string]map[string]float64

type bitstampRateResponse struct {
	Last string `json:"last"`
}

// NewProvider creates a RateProvider by name ("coinbase", "coingecko",
// "bitstamp"). baseURL overrides the production API host (used in tests);
// httpClient defaults to a 10s-timeout client when nil.
func NewProvider(name, baseURL string, httpClient *http.Client) (RateProvider, error) {
	name = strings.ToLower(name)

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	if baseURL == "" {
		switch name {
		case "coinbase":
			baseURL = coinbaseBaseURL
		case "coingecko":
			baseURL = coingeckoBaseURL
		case "bitstamp":
			baseURL = bitstampBaseURL
		default:
			return nil, fmt.Errorf("unknown rate provider: %s (supported: coinbase, coingecko, bitstamp)", name)
		}
	}

	switch name {
	case "coinbase":
		return &coinbase{httpClient: httpClient, baseURL: baseURL}, nil
	case "coingecko":
		return &coingecko{httpClient: httpClient, baseURL: baseURL}, nil
	case "bitstamp":
		return &bitstamp{httpClient: httpClient, baseURL: baseURL}, nil
	default:
		return nil, fmt.Errorf("unknown rate provider: %s (supported: coinbase, coingecko, bitstamp)", name)
	}
}

func fetchJSON(ctx context.Context, client *http.Client, url string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rate provider returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decoding rate response: %w", err)
	}
	return nil
}

func (c *coinbase) Name() string { return "coinbase" }

func (c *coinbase) GetRate(ctx context.Context) (float64, error) {
	url := fmt.Sprintf("%s/v2/prices/BTC-USD/spot", c.baseURL)

	var resp coinbaseRateResponse
	if err := fetchJSON(ctx, c.httpClient, url, &resp); err != nil {
		return 0, fmt.Errorf("coinbase: %w", err)
	}

	rate, err := strconv.ParseFloat(resp.Data.Amount, 64)
	if err != nil {
		return 0, fmt.Errorf("coinbase: invalid rate format: %w", err)
	}
	if rate <= 0 {
		return 0, fmt.Errorf("coinbase: invalid rate value: %f", rate)
	}
	return rate, nil
}

func (c *coingecko) Name() string { return "coingecko" }

func (c *coingecko) GetRate(ctx context.Context) (float64, error) {
	url := fmt.Sprintf("%s/api/v3/simple/price?ids=bitcoin&vs_currencies=usd", c.baseURL)

	var resp coingeckoRateResponse
	if err := fetchJSON(ctx, c.httpClient, url, &resp); err != nil {
		return 0, fmt.Errorf("coingecko: %w", err)
	}

	btc, ok := resp["bitcoin"]
	if !ok {
		return 0, fmt.Errorf("coingecko: bitcoin not found in response")
	}
	rate, ok := btc["usd"]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("coingecko: invalid usd rate in response")
	}
	return rate, nil
}

func (c *bitstamp) Name() string { return "bitstamp" }

func (c *bitstamp) GetRate(ctx context.Context) (float64, error) {
	url := fmt.Sprintf("%s/api/v2/ticker/btcusd", c.baseURL)

	var resp bitstampRateResponse
	if err := fetchJSON(ctx, c.httpClient, url, &resp); err != nil {
		return 0, fmt.Errorf("bitstamp: %w", err)
	}

	rate, err := strconv.ParseFloat(resp.Last, 64)
	if err != nil {
		return 0, fmt.Errorf("bitstamp: invalid rate format: %w", err)
	}
	if rate <= 0 {
		return 0, fmt.Errorf("bitstamp: invalid rate value: %f", rate)
	}
	return rate, nil
}
