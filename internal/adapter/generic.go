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

	"github.com/capiswitch/gateway/internal/pricing"
)

// allowedMethods is the safe method set a descriptor-based adapter may call
// upstream with (§4.3: "restricts methods to a safe set").
var allowedMethods = map[string]bool{
	http.MethodGet:   true,
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// PriceLookup is the narrow slice of *pricing.Oracle the generic adapter
// needs, so it can be stubbed in tests without a database.
type PriceLookup interface {
	GetPrice(serviceSlug, operation string) (pricing.Price, bool)
}

// Descriptor is the runtime registration shape for a service approved via
// POST /registry/submit (§4.3).
type Descriptor struct {
	ServiceSlug       string
	BaseURL           string
	Path              string
	Method            string
	AuthType          string // bearer, api_key_header, basic, query_param
	AuthCredentialEnv string
	AuthHeaderName    string // used when AuthType == api_key_header
	DefaultOperation  string
}

// Validate checks the descriptor's path and method against §4.3/§6's
// requirements before it is ever registered: no path traversal, no
// protocol-relative paths, method restricted to the safe set, and the
// credential env name allowlisted.
func (d Descriptor) Validate() error {
	if strings.Contains(d.Path, "..") {
		return fmt.Errorf("adapter: path %q contains traversal segment", d.Path)
	}
	if strings.HasPrefix(d.Path, "//") {
		return fmt.Errorf("adapter: path %q is protocol-relative", d.Path)
	}
	if !strings.HasPrefix(d.Path, "/") {
		return fmt.Errorf("adapter: path %q must be absolute", d.Path)
	}
	if !allowedMethods[strings.ToUpper(d.Method)] {
		return fmt.Errorf("adapter: method %q is not in the allowed set", d.Method)
	}
	switch d.AuthType {
	case "bearer", "api_key_header", "basic", "query_param":
	default:
		return fmt.Errorf("adapter: unknown auth type %q", d.AuthType)
	}
	if err := ValidateCredentialEnv(d.AuthCredentialEnv); err != nil {
		return err
	}
	return nil
}

// Generic is the runtime-registration adapter for services onboarded via
// the registry submission flow, rather than one of the built-in adapters.
type Generic struct {
	descriptor Descriptor
	prices     PriceLookup
	httpClient *http.Client
}

// NewGeneric validates descriptor and returns a ready-to-register adapter.
func NewGeneric(descriptor Descriptor, prices PriceLookup, httpClient *http.Client) (*Generic, error) {
	if err := descriptor.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Generic{descriptor: descriptor, prices: prices, httpClient: httpClient}, nil
}

func (g *Generic) operation(operation string) string {
	if operation == "" {
		return g.descriptor.DefaultOperation
	}
	return operation
}

// Quote is pure: it only consults the pricing cache (§4.3).
func (g *Generic) Quote(ctx context.Context, operation string, body json.RawMessage) (QuoteResult, error) {
	op := g.operation(operation)
	price, ok := g.prices.GetPrice(g.descriptor.ServiceSlug, op)
	if !ok {
		return QuoteResult{}, fmt.Errorf("adapter: no price cached for %s/%s", g.descriptor.ServiceSlug, op)
	}
	return QuoteResult{Operation: op, QuotedSats: price.PriceSats}, nil
}

// Execute performs the descriptor's upstream HTTP call with the credential
// injected per AuthType.
func (g *Generic) Execute(ctx context.Context, operation string, body json.RawMessage) (ExecResult, error) {
	url := strings.TrimSuffix(g.descriptor.BaseURL, "/") + g.descriptor.Path

	var reqBody io.Reader
	if len(body) > 0 && g.descriptor.Method != http.MethodGet {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(g.descriptor.Method), url, reqBody)
	if err != nil {
		return ExecResult{}, fmt.Errorf("%w: building request: %v", ErrUpstream, err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	cred, err := LookupCredential(g.descriptor.AuthCredentialEnv)
	if err != nil {
		return ExecResult{}, fmt.Errorf("adapter: loading credential: %w", err)
	}

	switch g.descriptor.AuthType {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+cred)
	case "api_key_header":
		name := g.descriptor.AuthHeaderName
		if name == "" {
			name = "X-Api-Key"
		}
		req.Header.Set(name, cred)
	case "basic":
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(cred+":")))
	case "query_param":
		q := req.URL.Query()
		q.Set("api_key", cred)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return ExecResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return ExecResult{}, fmt.Errorf("%w: reading response: %v", ErrUpstream, err)
	}

	return ExecResult{Status: resp.StatusCode, Data: data}, nil
}

// Finalize for the generic adapter always returns quotedSats: a
// runtime-registered service has no usage-metered field the gateway knows
// how to read, so actual cost equals the quote (§4.3: "when usage is
// unknown, returns quotedSats").
func (g *Generic) Finalize(ctx context.Context, result ExecResult, quotedSats int64) (FinalizeResult, error) {
	return FinalizeResult{FinalSats: quotedSats}, nil
}
