// Package policy implements the authorization engine: static capability
// checks, attribute-based conditional permissions, resource quotas, content
// rules and risk scoring, evaluated as a priority-ordered rule chain.
package policy

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warden-sh/warden/internal/kernel/models"
)

// Decision is the verdict for one request. Identical (request, agent state,
// quota state) inputs always produce an identical Decision.
type Decision struct {
	Allowed bool
	Reason  string
	// Rule names the rule that produced the decision.
	Rule string
	// QuotaExceeded marks a denial caused by an exhausted quota dimension.
	QuotaExceeded bool
	// RequiresApproval marks a denial that an external approver may override.
	RequiresApproval bool
	// ConcurrencyLimit is the applicable max-concurrent-executions cap for
	// the agent (0 = unlimited). Set on allowed decisions so the kernel can
	// reserve an execution slot atomically.
	ConcurrencyLimit int
}

// Rule is one authorization rule. Evaluate returns nil when the rule has no
// opinion on the request; the first non-nil decision in descending priority
// order wins.
type Rule interface {
	Name() string
	Priority() int
	// AppliesTo returns the action types the rule covers; empty means all.
	AppliesTo() []models.ActionType
	Evaluate(req *models.SyscallRequest, agent *models.AgentContext) *Decision
}

// Built-in rule priorities. Caller-supplied rules slot anywhere into the same
// ordering.
const (
	PriorityCapability  = 1000
	PriorityConditional = 900
	PriorityQuota       = 800
	PriorityContent     = 700
	PriorityRisk        = 600
)

// Engine evaluates requests against the configured rule chain. Rule mutation
// takes effect for the next Check; in-flight checks keep their snapshot.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
	quota *quotaRule

	now func() time.Time
	log zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for quota windows (for testing).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the engine's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithConditionalPermissions installs attribute-based conditional permissions.
func WithConditionalPermissions(perms ...ConditionalPermission) Option {
	return func(e *Engine) {
		e.rules = append(e.rules, newConditionalRule(perms))
	}
}

// WithQuota installs the default per-agent resource quota.
func WithQuota(q ResourceQuota) Option {
	return func(e *Engine) {
		e.ensureQuotaRule()
		e.quota.setDefault(q)
	}
}

// WithAgentQuota overrides the quota for one agent.
func WithAgentQuota(agentID string, q ResourceQuota) Option {
	return func(e *Engine) {
		e.ensureQuotaRule()
		e.quota.setAgent(agentID, q)
	}
}

// WithSQLGuard installs the SQL content rule.
func WithSQLGuard() Option {
	return func(e *Engine) {
		e.rules = append(e.rules, newSQLGuard())
	}
}

// WithRiskPolicy installs risk-score thresholds and domain lists.
func WithRiskPolicy(rp RiskPolicy) Option {
	return func(e *Engine) {
		e.rules = append(e.rules, newRiskRule(rp))
	}
}

// WithRules installs caller-supplied rules.
func WithRules(rules ...Rule) Option {
	return func(e *Engine) {
		e.rules = append(e.rules, rules...)
	}
}

// New creates an Engine. The static capability rule is always installed;
// everything else is opt-in.
func New(opts ...Option) *Engine {
	e := &Engine{
		now: time.Now,
		log: zerolog.Nop(),
	}
	e.rules = append(e.rules, capabilityRule{})
	for _, opt := range opts {
		opt(e)
	}
	if e.quota != nil {
		e.quota.now = func() time.Time { return e.now() }
	}
	e.sortRules()
	return e
}

func (e *Engine) ensureQuotaRule() {
	if e.quota == nil {
		e.quota = newQuotaRule()
		e.rules = append(e.rules, e.quota)
	}
}

func (e *Engine) sortRules() {
	slices.SortStableFunc(e.rules, func(a, b Rule) int {
		return b.Priority() - a.Priority()
	})
}

// AddRule installs a rule; it applies to every subsequent Check.
func (e *Engine) AddRule(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
	e.sortRules()
}

// RemoveRule removes the named rule. Removing an unknown name is a no-op.
func (e *Engine) RemoveRule(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = slices.DeleteFunc(e.rules, func(r Rule) bool {
		return r.Name() == name
	})
}

// Rules returns the names of the installed rules in evaluation order.
func (e *Engine) Rules() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// Check evaluates the request and returns the verdict. The first rule with a
// definitive opinion wins; a request no rule objects to is allowed.
func (e *Engine) Check(req *models.SyscallRequest, agent *models.AgentContext) Decision {
	e.mu.RLock()
	rules := slices.Clone(e.rules)
	quota := e.quota
	e.mu.RUnlock()

	for _, r := range rules {
		if !ruleApplies(r, req.ActionType) {
			continue
		}
		if d := r.Evaluate(req, agent); d != nil {
			if d.Rule == "" {
				d.Rule = r.Name()
			}
			if !d.Allowed {
				e.log.Debug().
					Str("agent_id", agent.AgentID).
					Str("tool", req.Tool).
					Str("rule", d.Rule).
					Str("reason", d.Reason).
					Msg("request denied")
			}
			return *d
		}
	}

	d := Decision{
		Allowed: true,
		Reason:  "no rule objected",
	}
	if quota != nil {
		if q := quota.limitFor(agent.AgentID); q != nil {
			d.ConcurrencyLimit = q.MaxConcurrent
		}
	}
	return d
}

func ruleApplies(r Rule, at models.ActionType) bool {
	kinds := r.AppliesTo()
	return len(kinds) == 0 || slices.Contains(kinds, at)
}

// capabilityRule is the static per-agent allow-list check: a tool outside the
// agent's capability set is denied before anything else runs.
type capabilityRule struct{}

func (capabilityRule) Name() string                   { return "capability" }
func (capabilityRule) Priority() int                  { return PriorityCapability }
func (capabilityRule) AppliesTo() []models.ActionType { return nil }

func (capabilityRule) Evaluate(req *models.SyscallRequest, agent *models.AgentContext) *Decision {
	if agent.HasCapability(req.Tool) {
		return nil
	}
	return &Decision{
		Allowed: false,
		Reason:  fmt.Sprintf("tool %q is not in the capability set of agent %q", req.Tool, agent.AgentID),
	}
}
