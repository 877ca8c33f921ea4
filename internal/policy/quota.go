package policy

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/warden-sh/warden/internal/kernel/models"
)

// ResourceQuota bounds one agent's request volume. Zero values mean
// unlimited for that dimension; an empty AllowedActions imposes no
// action-type restriction.
type ResourceQuota struct {
	RequestsPerMinute int                 `yaml:"requests_per_minute"`
	RequestsPerHour   int                 `yaml:"requests_per_hour"`
	MaxConcurrent     int                 `yaml:"max_concurrent"`
	AllowedActions    []models.ActionType `yaml:"allowed_actions"`
}

// quotaRule enforces per-agent quotas. Window counters live on the agent
// context and are consumed here, so they only move for requests that already
// passed the capability and conditional checks.
type quotaRule struct {
	mu       sync.RWMutex
	def      *ResourceQuota
	perAgent map[string]*ResourceQuota

	now func() time.Time
}

func newQuotaRule() *quotaRule {
	return &quotaRule{
		perAgent: make(map[string]*ResourceQuota),
		now:      time.Now,
	}
}

func (q *quotaRule) setDefault(quota ResourceQuota) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.def = &quota
}

func (q *quotaRule) setAgent(agentID string, quota ResourceQuota) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.perAgent[agentID] = &quota
}

// limitFor returns the quota applicable to the agent, preferring a per-agent
// override over the default.
func (q *quotaRule) limitFor(agentID string) *ResourceQuota {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if quota, ok := q.perAgent[agentID]; ok {
		return quota
	}
	return q.def
}

func (*quotaRule) Name() string                   { return "resource_quota" }
func (*quotaRule) Priority() int                  { return PriorityQuota }
func (*quotaRule) AppliesTo() []models.ActionType { return nil }

func (q *quotaRule) Evaluate(req *models.SyscallRequest, agent *models.AgentContext) *Decision {
	quota := q.limitFor(agent.AgentID)
	if quota == nil {
		return nil
	}

	if len(quota.AllowedActions) > 0 && !slices.Contains(quota.AllowedActions, req.ActionType) {
		return &Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("action type %q is not permitted for agent %q", req.ActionType, agent.AgentID),
		}
	}

	if quota.MaxConcurrent > 0 && agent.Concurrent() >= quota.MaxConcurrent {
		return &Decision{
			Allowed:       false,
			QuotaExceeded: true,
			Reason:        fmt.Sprintf("max_concurrent quota exhausted (%d in flight)", quota.MaxConcurrent),
		}
	}

	if ok, dimension := agent.TryConsumeWindow(q.now(), quota.RequestsPerMinute, quota.RequestsPerHour); !ok {
		return &Decision{
			Allowed:       false,
			QuotaExceeded: true,
			Reason:        fmt.Sprintf("%s quota exhausted", dimension),
		}
	}
	return nil
}
