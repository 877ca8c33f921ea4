package policy

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrNoDocument is returned when the policy document path does not exist.
var ErrNoDocument = errors.New("policy document not found")

// AgentSpec declares one agent's capabilities and ABAC attributes.
type AgentSpec struct {
	Capabilities []string       `yaml:"capabilities"`
	Attributes   map[string]any `yaml:"attributes"`
}

// Document is the on-disk policy declaration: agents, conditional
// permissions, quotas and risk policy, without any code.
type Document struct {
	Agents      map[string]AgentSpec     `yaml:"agents"`
	Permissions []ConditionalPermission  `yaml:"permissions"`
	Quota       *ResourceQuota           `yaml:"quota"`
	AgentQuotas map[string]ResourceQuota `yaml:"agent_quotas"`
	Risk        *RiskPolicy              `yaml:"risk"`
	SQLGuard    bool                     `yaml:"sql_guard"`
}

// LoadDocument reads and validates a YAML policy document.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoDocument, path)
		}
		return nil, fmt.Errorf("read policy document: %w", err)
	}
	return ParseDocument(data)
}

// ParseDocument parses a YAML policy document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy document: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) validate() error {
	for i, p := range d.Permissions {
		if p.Action == "" {
			return fmt.Errorf("permissions[%d]: action is required", i)
		}
		for j, c := range p.Conditions {
			if c.Path == "" {
				return fmt.Errorf("permissions[%d].conditions[%d]: path is required", i, j)
			}
			if !ValidOperator(c.Op) {
				return fmt.Errorf("permissions[%d].conditions[%d]: unknown operator %q", i, j, c.Op)
			}
		}
	}
	return nil
}

// EngineOptions translates the document into engine configuration.
func (d *Document) EngineOptions() []Option {
	var opts []Option
	if len(d.Permissions) > 0 {
		opts = append(opts, WithConditionalPermissions(d.Permissions...))
	}
	if d.Quota != nil {
		opts = append(opts, WithQuota(*d.Quota))
	}
	for agentID, quota := range d.AgentQuotas {
		opts = append(opts, WithAgentQuota(agentID, quota))
	}
	if d.SQLGuard {
		opts = append(opts, WithSQLGuard())
	}
	if d.Risk != nil {
		opts = append(opts, WithRiskPolicy(*d.Risk))
	}
	return opts
}

// Agent returns the declared spec for an agent id.
func (d *Document) Agent(id string) (AgentSpec, bool) {
	spec, ok := d.Agents[id]
	return spec, ok
}
