package adapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/capiswitch/gateway/internal/money"
)

// unitAdapter is the shared shape behind every seeded built-in: one upstream
// HTTP call, credentials loaded from an allowlisted env name, and a pricing
// strategy that varies by unit (per_request flat, per_1k_tokens metered on a
// request field, per_minute metered on elapsed wall time). Grounded on the
// teacher's one-struct-per-integration idiom (pkg/slack, pkg/mattermost),
// generalized into a single reusable shape since these integrations all
// share the same request/response plumbing and differ only in pricing unit
// and request/response field names.
type unitAdapter struct {
	serviceSlug       string
	operation         string
	baseURL           string
	path              string
	method            string
	authType          string
	authCredentialEnv string
	httpClient        *http.Client
	prices            PriceLookup

	// tokensField, when set, names the request JSON field (e.g. "maxTokens")
	// used for per_1k_tokens quoting; usageField names the response JSON
	// field the actual usage is read back from at finalize time.
	tokensField string
	usageField  string

	// perMinute selects per_minute quoting: a fixed one-minute estimate is
	// quoted, and the wall-clock Execute duration is used to compute the
	// final cost.
	perMinute bool
}

func newUnitAdapter(serviceSlug, operation, baseURL, path, method, authType, authCredentialEnv string, httpClient *http.Client, prices PriceLookup) unitAdapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return unitAdapter{
		serviceSlug:       serviceSlug,
		operation:         operation,
		baseURL:           baseURL,
		path:              path,
		method:            method,
		authType:          authType,
		authCredentialEnv: authCredentialEnv,
		httpClient:        httpClient,
		prices:            prices,
	}
}

func (u unitAdapter) unitPrice() (int64, error) {
	price, ok := u.prices.GetPrice(u.serviceSlug, u.operation)
	if !ok {
		return 0, fmt.Errorf("adapter: no price cached for %s/%s", u.serviceSlug, u.operation)
	}
	return price.PriceSats, nil
}

// Quote implements §4.3's three pricing shapes.
func (u unitAdapter) Quote(ctx context.Context, operation string, body json.RawMessage) (QuoteResult, error) {
	unitSats, err := u.unitPrice()
	if err != nil {
		return QuoteResult{}, err
	}

	switch {
	case u.tokensField != "":
		maxTokens := readIntField(body, u.tokensField, 1000)
		units := money.CeilDiv(int64(maxTokens), 1000)
		if units == 0 {
			units = 1
		}
		return QuoteResult{Operation: u.operation, QuotedSats: units * unitSats}, nil
	case u.perMinute:
		// Quoted against a one-minute ceiling; finalize reconciles against
		// actual elapsed time, never exceeding this quote (§4.3 monotone-down).
		return QuoteResult{Operation: u.operation, QuotedSats: unitSats}, nil
	default:
		return QuoteResult{Operation: u.operation, QuotedSats: unitSats}, nil
	}
}

// Execute performs the upstream call, timing it for per-minute finalization.
func (u unitAdapter) Execute(ctx context.Context, operation string, body json.RawMessage) (ExecResult, error) {
	url := u.baseURL + u.path

	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, u.method, url, reqBody)
	if err != nil {
		return ExecResult{}, fmt.Errorf("%w: building request: %v", ErrUpstream, err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	cred, err := LookupCredential(u.authCredentialEnv)
	if err != nil {
		return ExecResult{}, fmt.Errorf("adapter: loading credential: %w", err)
	}
	switch u.authType {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+cred)
	case "api_key_header":
		req.Header.Set("X-Api-Key", cred)
	case "basic":
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(cred+":")))
	case "query_param":
		q := req.URL.Query()
		q.Set("api_key", cred)
		req.URL.RawQuery = q.Encode()
	}

	started := time.Now()
	resp, err := u.httpClient.Do(req)
	if err != nil {
		return ExecResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	elapsed := time.Since(started)

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return ExecResult{}, fmt.Errorf("%w: reading response: %v", ErrUpstream, err)
	}
	if resp.StatusCode >= 500 {
		return ExecResult{}, fmt.Errorf("%w: upstream status %d", ErrUpstream, resp.StatusCode)
	}

	headers := map[string]string{"X-Elapsed-Ms": fmt.Sprintf("%d", elapsed.Milliseconds())}
	return ExecResult{Status: resp.StatusCode, Data: data, Headers: headers}, nil
}

// Finalize reads actual usage back from the response when a usageField is
// configured, else returns the quote unchanged (§4.3: "when usage is
// unknown, returns quotedSats").
func (u unitAdapter) Finalize(ctx context.Context, result ExecResult, quotedSats int64) (FinalizeResult, error) {
	unitSats, err := u.unitPrice()
	if err != nil {
		return FinalizeResult{FinalSats: quotedSats}, nil
	}

	if u.usageField != "" {
		actualTokens := readIntField(result.Data, u.usageField, 0)
		if actualTokens > 0 {
			units := money.CeilDiv(int64(actualTokens), 1000)
			if units == 0 {
				units = 1
			}
			final := units * unitSats
			if final > quotedSats {
				final = quotedSats
			}
			return FinalizeResult{FinalSats: final}, nil
		}
	}

	if u.perMinute {
		var elapsedMs int64
		fmt.Sscanf(result.Headers["X-Elapsed-Ms"], "%d", &elapsedMs)
		minutes := money.CeilDiv(elapsedMs, 60_000)
		if minutes == 0 {
			minutes = 1
		}
		final := minutes * unitSats
		if final > quotedSats {
			final = quotedSats
		}
		return FinalizeResult{FinalSats: final}, nil
	}

	return FinalizeResult{FinalSats: quotedSats}, nil
}

// readIntField extracts a (possibly dotted, e.g. "usage.total_tokens")
// numeric field from a JSON body, falling back to def when absent or
// malformed (adapters never fail a quote/finalize over an optional hint
// field).
func readIntField(body json.RawMessage, field string, def int) int {
	if len(body) == 0 {
		return def
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return def
	}

	cur := doc
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return def
		}
		cur, ok = m[part]
		if !ok {
			return def
		}
	}

	f, ok := cur.(float64)
	if !ok {
		return def
	}
	return int(f)
}

// Seeded built-in adapters, one per §3 seed catalog entry. Each wraps
// unitAdapter with the upstream's actual path, auth type, credential env,
// and usage-field names.

func NewOpenAIChat(httpClient *http.Client, prices PriceLookup) Adapter {
	u := newUnitAdapter("openai-chat", "reason", "https://api.openai.com", "/v1/chat/completions", http.MethodPost, "bearer", "OPENAI_API_KEY", httpClient, prices)
	u.tokensField = "maxTokens"
	u.usageField = "usage.total_tokens"
	return u
}

func NewAnthropicMessages(httpClient *http.Client, prices PriceLookup) Adapter {
	u := newUnitAdapter("anthropic-messages", "reason", "https://api.anthropic.com", "/v1/messages", http.MethodPost, "api_key_header", "ANTHROPIC_API_KEY", httpClient, prices)
	u.tokensField = "maxTokens"
	u.usageField = "usage.output_tokens"
	return u
}

func NewBraveSearch(httpClient *http.Client, prices PriceLookup) Adapter {
	return newUnitAdapter("brave-search", "search", "https://api.search.brave.com", "/res/v1/web/search", http.MethodGet, "api_key_header", "BRAVE_API_TOKEN", httpClient, prices)
}

func NewExaSearch(httpClient *http.Client, prices PriceLookup) Adapter {
	return newUnitAdapter("exa-search", "search", "https://api.exa.ai", "/search", http.MethodPost, "api_key_header", "EXA_API_KEY", httpClient, prices)
}

func NewFirecrawl(httpClient *http.Client, prices PriceLookup) Adapter {
	return newUnitAdapter("firecrawl", "scrape", "https://api.firecrawl.dev", "/v1/scrape", http.MethodPost, "bearer", "FIRECRAWL_API_KEY", httpClient, prices)
}

func NewJinaReader(httpClient *http.Client, prices PriceLookup) Adapter {
	return newUnitAdapter("jina-reader", "read", "https://r.jina.ai", "/", http.MethodPost, "bearer", "JINA_API_TOKEN", httpClient, prices)
}

func NewE2BSandbox(httpClient *http.Client, prices PriceLookup) Adapter {
	u := newUnitAdapter("e2b-sandbox", "execute", "https://api.e2b.dev", "/sandboxes/execute", http.MethodPost, "api_key_header", "E2B_API_KEY", httpClient, prices)
	u.perMinute = true
	return u
}

func NewResend(httpClient *http.Client, prices PriceLookup) Adapter {
	return newUnitAdapter("resend", "email", "https://api.resend.com", "/emails", http.MethodPost, "bearer", "RESEND_API_KEY", httpClient, prices)
}

func NewTwilioSMS(httpClient *http.Client, prices PriceLookup) Adapter {
	return newUnitAdapter("twilio-sms", "sms", "https://api.twilio.com", "/2010-04-01/Messages.json", http.MethodPost, "basic", "TWILIO_AUTH_TOKEN", httpClient, prices)
}

func NewReplicateImagine(httpClient *http.Client, prices PriceLookup) Adapter {
	return newUnitAdapter("replicate-imagine", "imagine", "https://api.replicate.com", "/v1/predictions", http.MethodPost, "bearer", "REPLICATE_API_TOKEN", httpClient, prices)
}

func NewElevenLabsSpeak(httpClient *http.Client, prices PriceLookup) Adapter {
	u := newUnitAdapter("elevenlabs-speak", "speak", "https://api.elevenlabs.io", "/v1/text-to-speech", http.MethodPost, "api_key_header", "ELEVENLABS_API_KEY", httpClient, prices)
	u.tokensField = "maxTokens"
	return u
}

func NewDeepgramTranscribe(httpClient *http.Client, prices PriceLookup) Adapter {
	u := newUnitAdapter("deepgram-transcribe", "transcribe", "https://api.deepgram.com", "/v1/listen", http.MethodPost, "api_key_header", "DEEPGRAM_API_TOKEN", httpClient, prices)
	u.perMinute = true
	return u
}

// RegisterBuiltins wires every seeded adapter into r, keyed by service slug.
func RegisterBuiltins(r *Registry, httpClient *http.Client, prices PriceLookup) {
	r.Register("openai-chat", NewOpenAIChat(httpClient, prices))
	r.Register("anthropic-messages", NewAnthropicMessages(httpClient, prices))
	r.Register("brave-search", NewBraveSearch(httpClient, prices))
	r.Register("exa-search", NewExaSearch(httpClient, prices))
	r.Register("firecrawl", NewFirecrawl(httpClient, prices))
	r.Register("jina-reader", NewJinaReader(httpClient, prices))
	r.Register("e2b-sandbox", NewE2BSandbox(httpClient, prices))
	r.Register("resend", NewResend(httpClient, prices))
	r.Register("twilio-sms", NewTwilioSMS(httpClient, prices))
	r.Register("replicate-imagine", NewReplicateImagine(httpClient, prices))
	r.Register("elevenlabs-speak", NewElevenLabsSpeak(httpClient, prices))
	r.Register("deepgram-transcribe", NewDeepgramTranscribe(httpClient, prices))
}
