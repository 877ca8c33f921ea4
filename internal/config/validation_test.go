package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Policy.Path = "/etc/warden/policy.yaml"
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	permissive := DefaultConfig()
	permissive.Kernel.Permissive = true
	assert.NoError(t, permissive.Validate())
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Kernel.LogLevel = "verbose"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LogLevel")
}

func TestValidate_BatchSizeAtLeastOne(t *testing.T) {
	cfg := validConfig()
	cfg.Audit.BatchSize = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_SignalBufferAtLeastOne(t *testing.T) {
	cfg := validConfig()
	cfg.Kernel.SignalBuffer = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_PermissiveAndPolicyPathMutuallyExclusive(t *testing.T) {
	cfg := validConfig()
	cfg.Kernel.Permissive = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestValidate_PolicyPathRequiredWithoutPermissive(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permissive")
}
