package policy

import (
	"context"
	"errors"
	"testing"
)

type fakeSpend struct {
	spent int64
	err   error
}

func (f fakeSpend) TodaySpend(ctx context.Context, agentID string, capSats int64) (int64, error) {
	return f.spent, f.err
}

func int64Ptr(v int64) *int64 { return &v }

func TestEvaluateAgentNotActive(t *testing.T) {
	req := Request{Agent: Agent{Status: "suspended"}}
	d, err := Evaluate(context.Background(), req, fakeSpend{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Result != ResultAgentNotActive || d.Allowed {
		t.Errorf("Result = %v, Allowed = %v, want agent_not_active/false", d.Result, d.Allowed)
	}
}

func TestEvaluateKillSwitch(t *testing.T) {
	req := Request{
		Agent:  Agent{Status: "active"},
		Policy: Policy{KillSwitch: true},
	}
	d, err := Evaluate(context.Background(), req, fakeSpend{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Result != ResultKillSwitchActive {
		t.Errorf("Result = %v, want kill_switch_active", d.Result)
	}
}

func TestEvaluateServiceDenied(t *testing.T) {
	req := Request{
		Agent:       Agent{Status: "active"},
		Policy:      Policy{DeniedServices: []string{"openai-chat"}},
		ServiceSlug: "openai-chat",
	}
	d, _ := Evaluate(context.Background(), req, fakeSpend{})
	if d.Result != ResultServiceDenied {
		t.Errorf("Result = %v, want service_denied", d.Result)
	}
}

func TestEvaluateServiceNotAllowed(t *testing.T) {
	req := Request{
		Agent:       Agent{Status: "active"},
		Policy:      Policy{AllowedServices: []string{"anthropic-messages"}},
		ServiceSlug: "openai-chat",
	}
	d, _ := Evaluate(context.Background(), req, fakeSpend{})
	if d.Result != ResultServiceNotAllowed {
		t.Errorf("Result = %v, want service_not_allowed", d.Result)
	}
}

func TestEvaluateCapabilityDenied(t *testing.T) {
	req := Request{
		Agent:      Agent{Status: "active"},
		Policy:     Policy{DeniedCapabilities: []string{"sms"}},
		Capability: "sms",
	}
	d, _ := Evaluate(context.Background(), req, fakeSpend{})
	if d.Result != ResultCapabilityDenied {
		t.Errorf("Result = %v, want capability_denied", d.Result)
	}
}

func TestEvaluateCapabilityNotAllowed(t *testing.T) {
	req := Request{
		Agent:      Agent{Status: "active"},
		Policy:     Policy{AllowedCapabilities: []string{"reason"}},
		Capability: "sms",
	}
	d, _ := Evaluate(context.Background(), req, fakeSpend{})
	if d.Result != ResultCapabilityNotAllowed {
		t.Errorf("Result = %v, want capability_not_allowed", d.Result)
	}
}

func TestEvaluatePerCallLimitExceeded(t *testing.T) {
	req := Request{
		Agent:      Agent{Status: "active"},
		Policy:     Policy{MaxPerCallSats: int64Ptr(100)},
		QuotedSats: 200,
	}
	d, _ := Evaluate(context.Background(), req, fakeSpend{})
	if d.Result != ResultPerCallLimitExceeded {
		t.Errorf("Result = %v, want per_call_limit_exceeded", d.Result)
	}
}

func TestEvaluateDailyLimitExceeded(t *testing.T) {
	req := Request{
		Agent:      Agent{Status: "active"},
		Policy:     Policy{MaxPerDaySats: int64Ptr(1000)},
		QuotedSats: 200,
	}
	d, err := Evaluate(context.Background(), req, fakeSpend{spent: 900})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Result != ResultDailyLimitExceeded {
		t.Errorf("Result = %v, want daily_limit_exceeded", d.Result)
	}
}

func TestEvaluateDailyLimitNotExceededAtExactCap(t *testing.T) {
	req := Request{
		Agent:      Agent{Status: "active"},
		Policy:     Policy{MaxPerDaySats: int64Ptr(1000)},
		QuotedSats: 100,
	}
	d, err := Evaluate(context.Background(), req, fakeSpend{spent: 900})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Result != ResultAllowed {
		t.Errorf("Result = %v, want allowed (900+100 == cap, not exceeded)", d.Result)
	}
}

func TestEvaluateAllowed(t *testing.T) {
	req := Request{
		Agent:       Agent{Status: "active"},
		Policy:      Policy{},
		ServiceSlug: "openai-chat",
		Capability:  "reason",
		QuotedSats:  50,
	}
	d, err := Evaluate(context.Background(), req, fakeSpend{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Result != ResultAllowed || !d.Allowed {
		t.Errorf("Result = %v, Allowed = %v, want allowed/true", d.Result, d.Allowed)
	}
}

func TestEvaluatePropagatesSpendLookupError(t *testing.T) {
	req := Request{
		Agent:  Agent{Status: "active"},
		Policy: Policy{MaxPerDaySats: int64Ptr(1000)},
	}
	wantErr := errors.New("redis and db both down")
	_, err := Evaluate(context.Background(), req, fakeSpend{err: wantErr})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestEvaluateKillSwitchTakesPriorityOverLimits(t *testing.T) {
	req := Request{
		Agent:      Agent{Status: "active"},
		Policy:     Policy{KillSwitch: true, MaxPerCallSats: int64Ptr(1)},
		QuotedSats: 0,
	}
	d, _ := Evaluate(context.Background(), req, fakeSpend{})
	if d.Result != ResultKillSwitchActive {
		t.Errorf("Result = %v, want kill_switch_active (step 2 must win before step 6)", d.Result)
	}
}
