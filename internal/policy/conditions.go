package policy

import (
	"fmt"
	"maps"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/warden-sh/warden/internal/kernel/models"
)

// Operator compares a resolved attribute against a condition value.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNe  Operator = "ne"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
)

// ValidOperator reports whether op is a recognized comparison operator.
func ValidOperator(op Operator) bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

// Condition is one attribute comparison. Path is a dotted path resolved
// against the merged view of agent attributes and request arguments.
type Condition struct {
	Path  string   `yaml:"path"`
	Op    Operator `yaml:"op"`
	Value any      `yaml:"value"`
}

// ConditionalPermission gates one action behind a condition list.
type ConditionalPermission struct {
	// Action is the tool or action name the permission applies to.
	Action     string      `yaml:"action"`
	Conditions []Condition `yaml:"conditions"`
	// RequireAll demands every condition hold; otherwise one suffices.
	RequireAll bool `yaml:"require_all"`
}

// conditionalRule evaluates ABAC permissions. Permissions for a tool with no
// entry have no opinion; an unsatisfied permission is a denial.
type conditionalRule struct {
	byAction map[string][]ConditionalPermission
}

func newConditionalRule(perms []ConditionalPermission) *conditionalRule {
	byAction := make(map[string][]ConditionalPermission)
	for _, p := range perms {
		byAction[p.Action] = append(byAction[p.Action], p)
	}
	return &conditionalRule{byAction: byAction}
}

func (*conditionalRule) Name() string                   { return "conditional_permissions" }
func (*conditionalRule) Priority() int                  { return PriorityConditional }
func (*conditionalRule) AppliesTo() []models.ActionType { return nil }

func (c *conditionalRule) Evaluate(req *models.SyscallRequest, agent *models.AgentContext) *Decision {
	perms, ok := c.byAction[req.Tool]
	if !ok {
		return nil
	}

	doc := mergedDocument(agent, req)
	for _, p := range perms {
		if reason, ok := p.satisfied(doc); !ok {
			return &Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("conditional permission on %q unsatisfied: %s", p.Action, reason),
			}
		}
	}
	return nil
}

// mergedDocument builds the attribute view conditions resolve against.
// Request arguments shadow agent attributes of the same name.
func mergedDocument(agent *models.AgentContext, req *models.SyscallRequest) map[string]any {
	doc := agent.Attributes()
	maps.Copy(doc, req.Args)
	return doc
}

func (p ConditionalPermission) satisfied(doc map[string]any) (string, bool) {
	if len(p.Conditions) == 0 {
		return "", true
	}

	var firstFailure string
	for _, cond := range p.Conditions {
		err := cond.holds(doc)
		if err == nil {
			if !p.RequireAll {
				return "", true
			}
			continue
		}
		if p.RequireAll {
			return err.Error(), false
		}
		if firstFailure == "" {
			firstFailure = err.Error()
		}
	}
	if p.RequireAll {
		return "", true
	}
	return firstFailure, false
}

// holds returns nil when the condition is satisfied. A path that does not
// resolve fails the condition rather than erroring the whole check.
func (c Condition) holds(doc map[string]any) error {
	actual, ok := resolvePath(doc, c.Path)
	if !ok {
		return fmt.Errorf("attribute %q not present", c.Path)
	}

	switch c.Op {
	case OpEq, OpNe:
		equal := looselyEqual(actual, c.Value)
		if (c.Op == OpEq) == equal {
			return nil
		}
	case OpLt, OpLte, OpGt, OpGte:
		left, err := toFloat(actual)
		if err != nil {
			return fmt.Errorf("attribute %q is not numeric: %v", c.Path, err)
		}
		right, err := toFloat(c.Value)
		if err != nil {
			return fmt.Errorf("condition value for %q is not numeric: %v", c.Path, err)
		}
		if numericHolds(c.Op, left, right) {
			return nil
		}
	default:
		return fmt.Errorf("unknown operator %q", c.Op)
	}
	return fmt.Errorf("%s %s %v failed (actual %v)", c.Path, c.Op, c.Value, actual)
}

func numericHolds(op Operator, left, right float64) bool {
	switch op {
	case OpLt:
		return left < right
	case OpLte:
		return left <= right
	case OpGt:
		return left > right
	case OpGte:
		return left >= right
	}
	return false
}

// resolvePath walks a dotted path through nested maps.
func resolvePath(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = doc
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// looselyEqual compares two values numerically when both coerce to numbers,
// otherwise by their string form. Arguments arrive as whatever type the
// caller's decoder produced, so strict type equality would be too brittle.
func looselyEqual(a, b any) bool {
	fa, errA := toFloat(a)
	fb, errB := toFloat(b)
	if errA == nil && errB == nil {
		return fa == fb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// toFloat coerces ints, floats and numeric strings to float64.
func toFloat(v any) (float64, error) {
	var f float64
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &f,
	})
	if err != nil {
		return 0, err
	}
	if err := dec.Decode(v); err != nil {
		return 0, err
	}
	return f, nil
}
