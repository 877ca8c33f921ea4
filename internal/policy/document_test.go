package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-sh/warden/internal/kernel/models"
)

const sampleDocument = `
agents:
  agent-1:
    capabilities: [echo, refund]
    attributes:
      status: verified
permissions:
  - action: refund
    require_all: true
    conditions:
      - path: status
        op: eq
        value: verified
      - path: amount
        op: lt
        value: 1000
quota:
  requests_per_minute: 10
  requests_per_hour: 100
  max_concurrent: 2
agent_quotas:
  agent-1:
    requests_per_minute: 5
sql_guard: true
risk:
  max_score: 0.8
  blocked_domains: ["*.internal"]
`

func TestParseDocument_FullDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleDocument))
	require.NoError(t, err)

	spec, ok := doc.Agent("agent-1")
	require.True(t, ok)
	assert.Equal(t, []string{"echo", "refund"}, spec.Capabilities)
	assert.Equal(t, "verified", spec.Attributes["status"])

	require.Len(t, doc.Permissions, 1)
	assert.Equal(t, "refund", doc.Permissions[0].Action)
	assert.True(t, doc.Permissions[0].RequireAll)

	require.NotNil(t, doc.Quota)
	assert.Equal(t, 10, doc.Quota.RequestsPerMinute)
	assert.Equal(t, 5, doc.AgentQuotas["agent-1"].RequestsPerMinute)
	assert.True(t, doc.SQLGuard)
	require.NotNil(t, doc.Risk)
	assert.InDelta(t, 0.8, doc.Risk.MaxScore, 1e-9)
}

func TestParseDocument_RejectsBadOperator(t *testing.T) {
	_, err := ParseDocument([]byte(`
permissions:
  - action: refund
    conditions:
      - path: amount
        op: within
        value: 10
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown operator")
}

func TestParseDocument_RejectsMissingAction(t *testing.T) {
	_, err := ParseDocument([]byte("permissions:\n  - require_all: true\n"))
	assert.Error(t, err)
}

func TestLoadDocument_MissingFile(t *testing.T) {
	_, err := LoadDocument(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, ErrNoDocument)
}

func TestDocument_EngineOptionsWireThrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDocument), 0o600))

	doc, err := LoadDocument(path)
	require.NoError(t, err)

	engine := New(doc.EngineOptions()...)
	names := engine.Rules()
	assert.Contains(t, names, "conditional_permissions")
	assert.Contains(t, names, "resource_quota")
	assert.Contains(t, names, "sql_guard")
	assert.Contains(t, names, "risk_policy")

	spec, _ := doc.Agent("agent-1")
	agent := models.NewAgentContext("agent-1", "s1", spec.Capabilities, spec.Attributes)

	// The refund permission from the document is live.
	denied := engine.Check(execRequest("refund", map[string]any{"amount": 5000}), agent)
	assert.False(t, denied.Allowed)

	allowed := engine.Check(execRequest("refund", map[string]any{"amount": 500}), agent)
	assert.True(t, allowed.Allowed)
}
