package models

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// AgentContext is the per-agent session state owned by the kernel instance.
// All quota mutation goes through synchronized methods; contexts for
// different agents share no locks.
type AgentContext struct {
	AgentID   string
	SessionID string

	mu           sync.Mutex
	capabilities map[string]bool
	attributes   map[string]any

	minuteBucket int64
	minuteCount  int
	hourBucket   int64
	hourCount    int
	concurrent   int
}

// NewAgentContext creates session state for one agent.
func NewAgentContext(agentID, sessionID string, capabilities []string, attributes map[string]any) *AgentContext {
	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}
	attrs := make(map[string]any, len(attributes))
	maps.Copy(attrs, attributes)
	return &AgentContext{
		AgentID:      agentID,
		SessionID:    sessionID,
		capabilities: caps,
		attributes:   attrs,
	}
}

// HasCapability reports whether the agent may address the named tool at all.
func (a *AgentContext) HasCapability(tool string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capabilities[tool]
}

// Capabilities returns the sorted capability set.
func (a *AgentContext) Capabilities() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.capabilities))
	for c := range a.capabilities {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Grant adds a capability for subsequent requests.
func (a *AgentContext) Grant(tool string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.capabilities[tool] = true
}

// Revoke removes a capability for subsequent requests.
func (a *AgentContext) Revoke(tool string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.capabilities, tool)
}

// Attributes returns a copy of the agent's ABAC attributes.
func (a *AgentContext) Attributes() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]any, len(a.attributes))
	maps.Copy(out, a.attributes)
	return out
}

// SetAttribute updates one ABAC attribute.
func (a *AgentContext) SetAttribute(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attributes[key] = value
}

// TryConsumeWindow atomically checks the rolling minute and hour windows and,
// when both have capacity, consumes one request from each. A bucket resets
// naturally once its boundary passes; no reaper is involved. A limit <= 0
// means unlimited for that dimension. The returned dimension names the
// exhausted window when ok is false.
func (a *AgentContext) TryConsumeWindow(now time.Time, perMinute, perHour int) (ok bool, dimension string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	minute := now.Unix() / 60
	hour := now.Unix() / 3600
	if minute != a.minuteBucket {
		a.minuteBucket = minute
		a.minuteCount = 0
	}
	if hour != a.hourBucket {
		a.hourBucket = hour
		a.hourCount = 0
	}

	if perMinute > 0 && a.minuteCount >= perMinute {
		return false, "requests_per_minute"
	}
	if perHour > 0 && a.hourCount >= perHour {
		return false, "requests_per_hour"
	}

	a.minuteCount++
	a.hourCount++
	return true, ""
}

// TryAcquireSlot reserves one concurrent-execution slot. limit <= 0 means
// unlimited. The caller must release with ReleaseSlot.
func (a *AgentContext) TryAcquireSlot(limit int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if limit > 0 && a.concurrent >= limit {
		return false
	}
	a.concurrent++
	return true
}

// ReleaseSlot returns a concurrent-execution slot. The count never goes
// negative.
func (a *AgentContext) ReleaseSlot() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.concurrent > 0 {
		a.concurrent--
	}
}

// Concurrent returns the number of in-flight executions for this agent.
func (a *AgentContext) Concurrent() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.concurrent
}
