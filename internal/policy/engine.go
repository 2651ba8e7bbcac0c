// Package policy evaluates an agent's policy against a proposed call,
// implementing §4.5's eight-step ordered evaluation.
package policy

import (
	"context"
	"slices"
)

// Result names why a call was allowed or denied. These are the literal
// values written to AuditLog.PolicyReason (§4.5/§7).
type Result string

const (
	ResultAllowed              Result = "allowed"
	ResultAgentNotActive       Result = "agent_not_active"
	ResultKillSwitchActive     Result = "kill_switch_active"
	ResultServiceDenied        Result = "service_denied"
	ResultServiceNotAllowed    Result = "service_not_allowed"
	ResultCapabilityDenied     Result = "capability_denied"
	ResultCapabilityNotAllowed Result = "capability_not_allowed"
	ResultPerCallLimitExceeded Result = "per_call_limit_exceeded"
	ResultDailyLimitExceeded   Result = "daily_limit_exceeded"
)

// Agent is the narrow slice of agent state the engine needs.
type Agent struct {
	ID     string
	Status string // active, suspended, killed
}

// Policy mirrors the policies table row (§3).
type Policy struct {
	MaxPerCallSats      *int64
	MaxPerDaySats       *int64
	AllowedServices     []string
	DeniedServices      []string
	AllowedCapabilities []string
	DeniedCapabilities  []string
	KillSwitch          bool
}

// Request is one proposed call to be policy-checked before a wallet hold.
type Request struct {
	Agent       Agent
	Policy      Policy
	ServiceSlug string
	Capability  string
	QuotedSats  int64
}

// SpendLookup resolves an agent's spend-so-far-today, typically backed by
// Cache (§4.5: "cached per agent for 60s").
type SpendLookup interface {
	TodaySpend(ctx context.Context, agentID string, capSats int64) (int64, error)
}

// Decision is the engine's verdict for a Request.
type Decision struct {
	Result  Result
	Allowed bool
}

// Evaluate runs the ordered eight-step check from §4.5: the first failing
// step wins, and absent limits (nil pointers, empty lists) never trigger
// their corresponding step.
func Evaluate(ctx context.Context, req Request, spend SpendLookup) (Decision, error) {
	if req.Agent.Status != "active" {
		return Decision{Result: ResultAgentNotActive}, nil
	}
	if req.Policy.KillSwitch {
		return Decision{Result: ResultKillSwitchActive}, nil
	}
	if slices.Contains(req.Policy.DeniedServices, req.ServiceSlug) {
		return Decision{Result: ResultServiceDenied}, nil
	}
	if len(req.Policy.AllowedServices) > 0 && !slices.Contains(req.Policy.AllowedServices, req.ServiceSlug) {
		return Decision{Result: ResultServiceNotAllowed}, nil
	}
	if slices.Contains(req.Policy.DeniedCapabilities, req.Capability) {
		return Decision{Result: ResultCapabilityDenied}, nil
	}
	if len(req.Policy.AllowedCapabilities) > 0 && !slices.Contains(req.Policy.AllowedCapabilities, req.Capability) {
		return Decision{Result: ResultCapabilityNotAllowed}, nil
	}
	if req.Policy.MaxPerCallSats != nil && req.QuotedSats > *req.Policy.MaxPerCallSats {
		return Decision{Result: ResultPerCallLimitExceeded}, nil
	}
	if req.Policy.MaxPerDaySats != nil {
		spent, err := spend.TodaySpend(ctx, req.Agent.ID, *req.Policy.MaxPerDaySats)
		if err != nil {
			return Decision{}, err
		}
		if spent+req.QuotedSats > *req.Policy.MaxPerDaySats {
			return Decision{Result: ResultDailyLimitExceeded}, nil
		}
	}

	return Decision{Result: ResultAllowed, Allowed: true}, nil
}
