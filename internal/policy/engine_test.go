package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-sh/warden/internal/kernel/models"
)

func testAgent(caps []string, attrs map[string]any) *models.AgentContext {
	return models.NewAgentContext("agent-1", "session-1", caps, attrs)
}

func execRequest(tool string, args map[string]any) *models.SyscallRequest {
	return models.NewSyscallRequest(models.SyscallExecute, models.ActionCodeExecution, tool, args)
}

func TestCheck_CapabilityAllowList(t *testing.T) {
	engine := New()
	agent := testAgent([]string{"echo"}, nil)

	allowed := engine.Check(execRequest("echo", nil), agent)
	assert.True(t, allowed.Allowed)

	denied := engine.Check(execRequest("delete_records", nil), agent)
	assert.False(t, denied.Allowed)
	assert.Equal(t, "capability", denied.Rule)
	assert.Contains(t, denied.Reason, "delete_records")
}

func TestCheck_EmptyCapabilitySetDeniesEverything(t *testing.T) {
	engine := New()
	agent := testAgent(nil, nil)

	d := engine.Check(execRequest("echo", nil), agent)
	assert.False(t, d.Allowed)
}

func TestCheck_Deterministic(t *testing.T) {
	engine := New(WithConditionalPermissions(ConditionalPermission{
		Action:     "refund",
		RequireAll: true,
		Conditions: []Condition{
			{Path: "status", Op: OpEq, Value: "verified"},
			{Path: "amount", Op: OpLt, Value: 1000},
		},
	}))
	agent := testAgent([]string{"refund"}, map[string]any{"status": "verified"})
	req := execRequest("refund", map[string]any{"amount": 500})

	first := engine.Check(req, agent)
	for _i := 0; _i < 10; _i++ {
		assert.Equal(t, first, engine.Check(req, agent))
	}
}

type denyAllRule struct {
	name     string
	priority int
}

func (r denyAllRule) Name() string                   { return r.name }
func (r denyAllRule) Priority() int                  { return r.priority }
func (r denyAllRule) AppliesTo() []models.ActionType { return nil }
func (r denyAllRule) Evaluate(req *models.SyscallRequest, agent *models.AgentContext) *Decision {
	return &Decision{Allowed: false, Reason: "deny all"}
}

type allowAllRule struct {
	name     string
	priority int
}

func (r allowAllRule) Name() string                   { return r.name }
func (r allowAllRule) Priority() int                  { return r.priority }
func (r allowAllRule) AppliesTo() []models.ActionType { return nil }
func (r allowAllRule) Evaluate(req *models.SyscallRequest, agent *models.AgentContext) *Decision {
	return &Decision{Allowed: true, Reason: "allow all"}
}

func TestAddRule_TakesEffectForNextCheck(t *testing.T) {
	engine := New()
	agent := testAgent([]string{"echo"}, nil)

	assert.True(t, engine.Check(execRequest("echo", nil), agent).Allowed)

	engine.AddRule(denyAllRule{name: "lockdown", priority: 2000})
	d := engine.Check(execRequest("echo", nil), agent)
	require.False(t, d.Allowed)
	assert.Equal(t, "lockdown", d.Rule)

	engine.RemoveRule("lockdown")
	assert.True(t, engine.Check(execRequest("echo", nil), agent).Allowed)
}

func TestCheck_HigherPriorityRuleWins(t *testing.T) {
	engine := New(WithRules(
		denyAllRule{name: "deny", priority: 500},
		allowAllRule{name: "break-glass", priority: 3000},
	))
	// break-glass outranks even the capability rule.
	agent := testAgent(nil, nil)

	d := engine.Check(execRequest("anything", nil), agent)
	assert.True(t, d.Allowed)
	assert.Equal(t, "break-glass", d.Rule)
}

type actionScopedRule struct{}

func (actionScopedRule) Name() string  { return "api-only" }
func (actionScopedRule) Priority() int { return 950 }
func (actionScopedRule) AppliesTo() []models.ActionType {
	return []models.ActionType{models.ActionAPICall}
}
func (actionScopedRule) Evaluate(req *models.SyscallRequest, agent *models.AgentContext) *Decision {
	return &Decision{Allowed: false, Reason: "api calls are disabled"}
}

func TestCheck_RuleActionTypeScoping(t *testing.T) {
	engine := New(WithRules(actionScopedRule{}))
	agent := testAgent([]string{"fetch", "echo"}, nil)

	apiReq := models.NewSyscallRequest(models.SyscallExecute, models.ActionAPICall, "fetch", nil)
	d := engine.Check(apiReq, agent)
	assert.False(t, d.Allowed)
	assert.Equal(t, "api-only", d.Rule)

	execReq := models.NewSyscallRequest(models.SyscallExecute, models.ActionCodeExecution, "echo", nil)
	assert.True(t, engine.Check(execReq, agent).Allowed)
}

func TestCheck_AllowedDecisionCarriesConcurrencyLimit(t *testing.T) {
	engine := New(WithQuota(ResourceQuota{MaxConcurrent: 3}))
	agent := testAgent([]string{"echo"}, nil)

	d := engine.Check(execRequest("echo", nil), agent)
	require.True(t, d.Allowed)
	assert.Equal(t, 3, d.ConcurrencyLimit)
}

func TestCheck_QuotaWindowResetsAfterBoundary(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	engine := New(
		WithQuota(ResourceQuota{RequestsPerMinute: 1}),
		WithClock(func() time.Time { return now }),
	)
	agent := testAgent([]string{"echo"}, nil)

	assert.True(t, engine.Check(execRequest("echo", nil), agent).Allowed)
	denied := engine.Check(execRequest("echo", nil), agent)
	require.False(t, denied.Allowed)
	assert.True(t, denied.QuotaExceeded)

	now = now.Add(time.Minute)
	assert.True(t, engine.Check(execRequest("echo", nil), agent).Allowed)
}
