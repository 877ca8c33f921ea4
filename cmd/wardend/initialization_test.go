package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-sh/warden/internal/config"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Audit.Dir = ""
	return cfg
}

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestBuildDependencies_Permissive(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Kernel.Permissive = true

	deps, err := buildDependencies(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer deps.Cleanup()

	assert.NotNil(t, deps.Kernel)
	assert.Nil(t, deps.Document)
}

func TestBuildDependencies_PolicyDocument(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Policy.Path = writePolicy(t, `
agents:
  billing-bot:
    capabilities: [echo]
    attributes:
      team: billing
quota:
  requests_per_minute: 10
`)

	deps, err := buildDependencies(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer deps.Cleanup()

	require.NotNil(t, deps.Document)

	agent, ok := deps.Kernel.Agent("billing-bot")
	require.True(t, ok, "declared agents should be registered at startup")
	assert.True(t, agent.HasCapability("echo"))
	assert.Equal(t, "billing", agent.Attributes()["team"])
}

func TestBuildDependencies_MissingPolicy(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Policy.Path = filepath.Join(t.TempDir(), "nope.yaml")

	_, err := buildDependencies(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestBuildDependencies_AuditStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Kernel.Permissive = true
	cfg.Audit.Dir = t.TempDir()

	deps, err := buildDependencies(cfg, zerolog.Nop())
	require.NoError(t, err)
	deps.Cleanup()

	_, err = os.Stat(filepath.Join(cfg.Audit.Dir, cfg.Audit.File))
	assert.NoError(t, err, "audit file should exist after startup")
}
