// Package pipeline implements the §4.6 call-processing state machine:
// RECEIVED → ... → LOGGED, with REJECTED/FAILED sinks mapped to the §7
// error taxonomy. Authentication (§4.1) happens in internal/auth before a
// Request ever reaches Process; everything from capability resolution
// onward lives here.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"github.com/capiswitch/gateway/internal/adapter"
	"github.com/capiswitch/gateway/internal/audit"
	"github.com/capiswitch/gateway/internal/ids"
	"github.com/capiswitch/gateway/internal/ledger"
	"github.com/capiswitch/gateway/internal/policy"
	"github.com/capiswitch/gateway/internal/registry"
)

// ProviderResolver is the narrow slice of *registry.Registry the pipeline
// needs (§4.2).
type ProviderResolver interface {
	Resolve(capability string) (registry.Provider, error)
}

// AdapterLookup is the narrow slice of *adapter.Registry the pipeline needs.
type AdapterLookup interface {
	Get(serviceSlug string) (adapter.Adapter, bool)
}

// Ledger is the narrow slice of *ledger.Ledger the pipeline needs (§4.7).
type Ledger interface {
	Hold(ctx context.Context, walletID, agentID string, sats int64, auditID string) error
	ReleaseHold(ctx context.Context, walletID, agentID string, sats int64, auditID string) error
	Debit(ctx context.Context, walletID, agentID string, quotedSats, finalSats int64, auditID string) (int64, error)
}

// AuditLogger is the narrow slice of *audit.Writer the pipeline needs.
type AuditLogger interface {
	Log(entry audit.Entry)
}

// SpendCache is the narrow slice of *policy.Cache the pipeline needs.
type SpendCache interface {
	policy.SpendLookup
	Invalidate(ctx context.Context, agentID string)
}

// Pipeline wires together capability resolution, adapters, policy, the
// ledger, and the audit log into the §4.6 state machine.
type Pipeline struct {
	Registry ProviderResolver
	Adapters AdapterLookup
	Spend    SpendCache
	Ledger   Ledger
	Audit    AuditLogger
	Logger   *slog.Logger
}

// Request is one inbound call already authenticated (§4.1) and carrying the
// agent's current status and policy snapshot.
type Request struct {
	AgentID    string
	WalletID   string
	Agent      policy.Agent
	Policy     policy.Policy
	Capability string
	Body       json.RawMessage
	ClientIP   *netip.Addr
}

// Response is what the pipeline returns on the LOGGED success path.
type Response struct {
	AuditID      string
	ServiceSlug  string
	Operation    string
	QuotedSats   int64
	ChargedSats  int64
	BalanceAfter int64
	Status       int
	Data         json.RawMessage
}

// Process runs one call through the full state machine. On any failure it
// returns a *CallError (use errors.As) after writing whatever AuditLog §7
// requires for that failure mode.
func (p *Pipeline) Process(ctx context.Context, req Request) (Response, error) {
	callID := ids.New(ids.PrefixAudit)
	started := time.Now()

	// RECEIVED → RESOLVED (§4.2)
	provider, err := p.Registry.Resolve(req.Capability)
	if err != nil {
		return Response{}, newError(KindNotFound, "no active provider for capability "+req.Capability, err).withAudit(callID)
	}

	svcAdapter, ok := p.Adapters.Get(provider.ServiceSlug)
	if !ok {
		return Response{}, newError(KindInternal, "no adapter registered for service "+provider.ServiceSlug, nil).withAudit(callID)
	}

	// RESOLVED → QUOTED (§4.3): pure, no side effects, no money moved yet.
	quote, err := svcAdapter.Quote(ctx, "", req.Body)
	if err != nil {
		return Response{}, newError(KindValidationError, "quoting call", err).withAudit(callID)
	}

	// QUOTED → POLICY_CHECKED (§4.5)
	decision, err := policy.Evaluate(ctx, policy.Request{
		Agent:       req.Agent,
		Policy:      req.Policy,
		ServiceSlug: provider.ServiceSlug,
		Capability:  req.Capability,
		QuotedSats:  quote.QuotedSats,
	}, p.Spend)
	if err != nil {
		return Response{}, newError(KindInternal, "evaluating policy", err).withAudit(callID)
	}
	if !decision.Allowed {
		p.Audit.Log(audit.Entry{
			ID:           callID,
			AgentID:      req.AgentID,
			ServiceSlug:  provider.ServiceSlug,
			Capability:   req.Capability,
			Operation:    quote.Operation,
			PolicyResult: audit.PolicyDenied,
			PolicyReason: string(decision.Result),
			QuotedSats:   quote.QuotedSats,
			ClientIP:     req.ClientIP,
		})
		return Response{}, newError(KindPolicyDenied, string(decision.Result), nil).withAudit(callID)
	}

	// POLICY_CHECKED → HELD (§4.7)
	if err := p.Ledger.Hold(ctx, req.WalletID, req.AgentID, quote.QuotedSats, callID); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			// §9(a)/§8 scenario 1: a pre-hold rejection still reads
			// policyResult=allowed — the call cleared policy, it just
			// couldn't clear funding.
			p.Audit.Log(audit.Entry{
				ID:           callID,
				AgentID:      req.AgentID,
				ServiceSlug:  provider.ServiceSlug,
				Capability:   req.Capability,
				Operation:    quote.Operation,
				PolicyResult: audit.PolicyAllowed,
				QuotedSats:   quote.QuotedSats,
				ChargedSats:  0,
				Error:        string(KindInsufficientBalance),
				ClientIP:     req.ClientIP,
			})
			return Response{}, newError(KindInsufficientBalance, "insufficient wallet balance", err).withAudit(callID)
		}
		return Response{}, newError(KindInternal, "holding funds", err).withAudit(callID)
	}

	// HELD → EXECUTED (§4.3)
	execResult, err := svcAdapter.Execute(ctx, quote.Operation, req.Body)
	if err != nil {
		p.releaseAndLogFailure(ctx, callID, req, provider.ServiceSlug, quote, 0, started, err)
		return Response{}, newError(KindUpstreamError, "calling upstream", err).withAudit(callID)
	}

	// EXECUTED → FINALIZED (§4.3)
	finalize, err := svcAdapter.Finalize(ctx, execResult, quote.QuotedSats)
	if err != nil {
		p.releaseAndLogFailure(ctx, callID, req, provider.ServiceSlug, quote, execResult.Status, started, err)
		return Response{}, newError(KindInternal, "finalizing call", err).withAudit(callID)
	}
	if finalize.FinalSats > quote.QuotedSats {
		// Monotone-down is a hard invariant (§4.3/§8 law 2); an adapter bug
		// that violates it must not be allowed to overcharge the wallet.
		finalize.FinalSats = quote.QuotedSats
	}

	// FINALIZED → COMMITTED (§4.7)
	balanceAfter, err := p.Ledger.Debit(ctx, req.WalletID, req.AgentID, quote.QuotedSats, finalize.FinalSats, callID)
	if err != nil {
		return Response{}, newError(KindInternal, "debiting wallet", err).withAudit(callID)
	}
	p.Spend.Invalidate(ctx, req.AgentID)

	// COMMITTED → LOGGED
	p.Audit.Log(audit.Entry{
		ID:                callID,
		AgentID:           req.AgentID,
		ServiceSlug:       provider.ServiceSlug,
		Capability:        req.Capability,
		Operation:         quote.Operation,
		PolicyResult:      audit.PolicyAllowed,
		QuotedSats:        quote.QuotedSats,
		ChargedSats:       finalize.FinalSats,
		UpstreamStatus:    execResult.Status,
		UpstreamLatencyMs: time.Since(started).Milliseconds(),
		ResponseMeta:      execResult.Data,
		ClientIP:          req.ClientIP,
	})

	return Response{
		AuditID:      callID,
		ServiceSlug:  provider.ServiceSlug,
		Operation:    quote.Operation,
		QuotedSats:   quote.QuotedSats,
		ChargedSats:  finalize.FinalSats,
		BalanceAfter: balanceAfter,
		Status:       execResult.Status,
		Data:         execResult.Data,
	}, nil
}

// releaseAndLogFailure is the shared EXECUTED-failure path (§4.6: "any
// thrown error still releases the hold and writes FAILED"; §7: "Upstream
// errors write an AuditLog with the upstream status and chargedSats=0, and
// release the hold").
func (p *Pipeline) releaseAndLogFailure(ctx context.Context, callID string, req Request, serviceSlug string, quote adapter.QuoteResult, upstreamStatus int, started time.Time, callErr error) {
	if err := p.Ledger.ReleaseHold(ctx, req.WalletID, req.AgentID, quote.QuotedSats, callID); err != nil {
		p.Logger.Error("releasing hold after upstream failure", "error", err, "agent_id", req.AgentID)
	}
	p.Audit.Log(audit.Entry{
		ID:                callID,
		AgentID:           req.AgentID,
		ServiceSlug:       serviceSlug,
		Capability:        req.Capability,
		Operation:         quote.Operation,
		PolicyResult:      audit.PolicyAllowed,
		QuotedSats:        quote.QuotedSats,
		ChargedSats:       0,
		UpstreamStatus:    upstreamStatus,
		UpstreamLatencyMs: time.Since(started).Milliseconds(),
		Error:             callErr.Error(),
		ClientIP:          req.ClientIP,
	})
}
