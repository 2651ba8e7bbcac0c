package pricing

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCacheKey(t *testing.T) {
	if cacheKey("openai", "chat") != "openai/chat" {
		t.Errorf("cacheKey produced unexpected shape")
	}
}

func TestGetPriceMissBeforeFirstRefresh(t *testing.T) {
	o := NewOracle(nil, nil, testLogger(), time.Minute, nil)

	_, ok := o.GetPrice("openai", "chat")
	if ok {
		t.Error("GetPrice should miss before any refresh has populated the cache")
	}
	if o.CurrentRate() != 0 {
		t.Errorf("CurrentRate = %f, want 0 before first refresh", o.CurrentRate())
	}
}

func TestReloadPopulatesCache(t *testing.T) {
	o := NewOracle(nil, nil, testLogger(), time.Minute, nil)

	o.mu.Lock()
	o.btcUSD = 65000
	o.cache["openai/chat"] = Price{PriceUSDMicros: 1000, PriceSats: 2}
	o.mu.Unlock()

	p, ok := o.GetPrice("openai", "chat")
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if p.PriceSats != 2 {
		t.Errorf("PriceSats = %d, want 2", p.PriceSats)
	}
	if o.CurrentRate() != 65000 {
		t.Errorf("CurrentRate = %f, want 65000", o.CurrentRate())
	}
}
