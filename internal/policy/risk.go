package policy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/warden-sh/warden/internal/kernel/models"
)

// RiskPolicy bounds actions that carry an externally computed risk score and
// restricts the network domains an agent may address. Zero thresholds are
// ignored; empty domain lists impose no restriction.
type RiskPolicy struct {
	// MaxScore is the highest acceptable risk score.
	MaxScore float64 `yaml:"max_score"`
	// RequireApprovalAbove marks scores above it as needing an external
	// approver, below the outright-deny thresholds.
	RequireApprovalAbove float64 `yaml:"require_approval_above"`
	// DenyAbove denies regardless of approval.
	DenyAbove float64 `yaml:"deny_above"`
	// AllowedDomains and BlockedDomains are doublestar glob patterns matched
	// against the target host of network-addressed actions.
	AllowedDomains []string `yaml:"allowed_domains"`
	BlockedDomains []string `yaml:"blocked_domains"`
}

// riskRule applies RiskPolicy to requests that carry a risk_score argument
// or address a network domain.
type riskRule struct {
	policy RiskPolicy
}

func newRiskRule(rp RiskPolicy) *riskRule { return &riskRule{policy: rp} }

func (*riskRule) Name() string                   { return "risk_policy" }
func (*riskRule) Priority() int                  { return PriorityRisk }
func (*riskRule) AppliesTo() []models.ActionType { return nil }

func (r *riskRule) Evaluate(req *models.SyscallRequest, agent *models.AgentContext) *Decision {
	if d := r.checkDomain(req); d != nil {
		return d
	}
	return r.checkScore(req)
}

func (r *riskRule) checkScore(req *models.SyscallRequest) *Decision {
	raw, ok := req.Args["risk_score"]
	if !ok {
		return nil
	}
	score, err := toFloat(raw)
	if err != nil {
		return &Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("risk_score %v is not numeric", raw),
		}
	}

	if r.policy.DenyAbove > 0 && score > r.policy.DenyAbove {
		return &Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("risk score %.2f exceeds deny threshold %.2f", score, r.policy.DenyAbove),
		}
	}
	if r.policy.MaxScore > 0 && score > r.policy.MaxScore {
		return &Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("risk score %.2f exceeds maximum acceptable score %.2f", score, r.policy.MaxScore),
		}
	}
	if r.policy.RequireApprovalAbove > 0 && score > r.policy.RequireApprovalAbove {
		return &Decision{
			Allowed:          false,
			RequiresApproval: true,
			Reason:           fmt.Sprintf("risk score %.2f requires external approval (threshold %.2f)", score, r.policy.RequireApprovalAbove),
		}
	}
	return nil
}

func (r *riskRule) checkDomain(req *models.SyscallRequest) *Decision {
	host, ok := targetHost(req.Args)
	if !ok {
		return nil
	}

	for _, pattern := range r.policy.BlockedDomains {
		if matched, _ := doublestar.Match(pattern, host); matched {
			return &Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("domain %q is blocked (pattern %q)", host, pattern),
			}
		}
	}
	if len(r.policy.AllowedDomains) == 0 {
		return nil
	}
	for _, pattern := range r.policy.AllowedDomains {
		if matched, _ := doublestar.Match(pattern, host); matched {
			return nil
		}
	}
	return &Decision{
		Allowed: false,
		Reason:  fmt.Sprintf("domain %q is not on the allow list", host),
	}
}

// targetHost extracts the network host a request addresses, from either a
// bare domain argument or the host part of a url argument.
func targetHost(args map[string]any) (string, bool) {
	if v, ok := args["domain"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return strings.ToLower(s), true
		}
	}
	if v, ok := args["url"]; ok {
		if s, ok := v.(string); ok && s != "" {
			if u, err := url.Parse(s); err == nil && u.Hostname() != "" {
				return strings.ToLower(u.Hostname()), true
			}
		}
	}
	return "", false
}
