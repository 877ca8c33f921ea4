// Package kernel implements the syscall mediation point between agent
// intent and tool execution: every action request passes through policy
// evaluation, is audited, and on denial raises a kernel panic.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/warden-sh/warden/internal/kernel/models"
	"github.com/warden-sh/warden/internal/policy"
	"github.com/warden-sh/warden/internal/recorder"
	"github.com/warden-sh/warden/internal/signal"
)

// Sentinel errors for kernel setup and registry operations.
var (
	ErrNoPolicyEngine  = errors.New("no policy engine bound; use WithPermissiveMode to run open")
	ErrPermissiveBound = errors.New("permissive mode cannot be combined with a policy engine")
	ErrToolRegistered  = errors.New("tool name already registered")
	ErrToolNameEmpty   = errors.New("tool name cannot be empty")
	ErrAgentRegistered = errors.New("agent already registered")
)

// PolicyChecker is the decision surface the kernel consults. *policy.Engine
// is the production implementation.
type PolicyChecker interface {
	Check(req *models.SyscallRequest, agent *models.AgentContext) policy.Decision
}

// Kernel is the single mediation point. One instance serves many agents
// concurrently; a tool running for one request never blocks another agent's
// syscalls.
type Kernel struct {
	engine     PolicyChecker
	permissive bool
	rec        *recorder.Recorder
	signals    *signal.Dispatcher

	toolsMu sync.RWMutex
	tools   map[string]Tool

	agentsMu sync.RWMutex
	agents   map[string]*models.AgentContext

	policyChecks atomic.Uint64
	violations   atomic.Uint64

	log zerolog.Logger
}

// KernelOption configures a Kernel.
type KernelOption func(*Kernel)

// WithEngine binds the policy engine.
func WithEngine(e PolicyChecker) KernelOption {
	return func(k *Kernel) {
		k.engine = e
	}
}

// WithPermissiveMode runs the kernel without a policy engine: every request
// is allowed. This is an explicit, logged choice, never an implicit
// fallback.
func WithPermissiveMode() KernelOption {
	return func(k *Kernel) {
		k.permissive = true
	}
}

// WithRecorder attaches the flight recorder. Without it the kernel creates
// an in-memory immediate-mode recorder.
func WithRecorder(r *recorder.Recorder) KernelOption {
	return func(k *Kernel) {
		k.rec = r
	}
}

// WithDispatcher attaches the signal dispatcher.
func WithDispatcher(d *signal.Dispatcher) KernelOption {
	return func(k *Kernel) {
		k.signals = d
	}
}

// WithLogger sets the kernel's logger.
func WithLogger(log zerolog.Logger) KernelOption {
	return func(k *Kernel) {
		k.log = log
	}
}

// New creates a Kernel. Exactly one of WithEngine and WithPermissiveMode is
// required.
func New(opts ...KernelOption) (*Kernel, error) {
	k := &Kernel{
		tools:  make(map[string]Tool),
		agents: make(map[string]*models.AgentContext),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(k)
	}

	if k.engine == nil && !k.permissive {
		return nil, ErrNoPolicyEngine
	}
	if k.engine != nil && k.permissive {
		return nil, ErrPermissiveBound
	}
	if k.rec == nil {
		rec, err := recorder.New()
		if err != nil {
			return nil, err
		}
		k.rec = rec
	}
	if k.signals == nil {
		k.signals = signal.NewDispatcher(signal.WithLogger(k.log))
	}

	if k.permissive {
		k.log.Warn().Msg("kernel running in permissive mode: every request will be allowed")
	}
	return k, nil
}

// RegisterAgent creates session state for an agent. The returned context is
// owned by the kernel and destroyed by ReleaseAgent.
func (k *Kernel) RegisterAgent(agentID, sessionID string, capabilities []string, attributes map[string]any) (*models.AgentContext, error) {
	k.agentsMu.Lock()
	defer k.agentsMu.Unlock()
	if _, ok := k.agents[agentID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentRegistered, agentID)
	}
	agent := models.NewAgentContext(agentID, sessionID, capabilities, attributes)
	k.agents[agentID] = agent
	k.log.Info().Str("agent_id", agentID).Str("session_id", sessionID).Msg("agent registered")
	return agent, nil
}

// ReleaseAgent destroys an agent's session state.
func (k *Kernel) ReleaseAgent(agentID string) {
	k.agentsMu.Lock()
	defer k.agentsMu.Unlock()
	delete(k.agents, agentID)
}

// Agent returns the live context for an agent id.
func (k *Kernel) Agent(agentID string) (*models.AgentContext, bool) {
	k.agentsMu.RLock()
	defer k.agentsMu.RUnlock()
	agent, ok := k.agents[agentID]
	return agent, ok
}

// RegisterTool adds a tool under its unique name.
func (k *Kernel) RegisterTool(t Tool) error {
	if t.Name() == "" {
		return ErrToolNameEmpty
	}
	k.toolsMu.Lock()
	defer k.toolsMu.Unlock()
	if _, ok := k.tools[t.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrToolRegistered, t.Name())
	}
	k.tools[t.Name()] = t
	return nil
}

// UnregisterTool removes a tool; unknown names are a no-op.
func (k *Kernel) UnregisterTool(name string) {
	k.toolsMu.Lock()
	defer k.toolsMu.Unlock()
	delete(k.tools, name)
}

// ListTools returns registered tool names, sorted.
func (k *Kernel) ListTools() []string {
	k.toolsMu.RLock()
	defer k.toolsMu.RUnlock()
	names := make([]string, 0, len(k.tools))
	for name := range k.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (k *Kernel) tool(name string) (Tool, bool) {
	k.toolsMu.RLock()
	defer k.toolsMu.RUnlock()
	t, ok := k.tools[name]
	return t, ok
}

// PolicyChecks reports how many policy decisions the kernel has made.
func (k *Kernel) PolicyChecks() uint64 { return k.policyChecks.Load() }

// Violations reports how many requests were denied.
func (k *Kernel) Violations() uint64 { return k.violations.Load() }

// Audit exposes the flight recorder's query surface.
func (k *Kernel) Audit() *recorder.Recorder { return k.rec }

// Subscribe registers a signal channel for the lifecycle layer.
func (k *Kernel) Subscribe(buffer int) (<-chan signal.Signal, func()) {
	return k.signals.Subscribe(buffer)
}

// Syscall mediates one request for the given agent. It returns a
// SyscallResult for every non-security outcome; a policy denial returns a
// *signal.KernelPanic error instead, after writing the blocked audit entry.
// Exactly one audit entry is written per call, and the policy verdict is
// always resolved before any tool side effect.
func (k *Kernel) Syscall(ctx context.Context, req *models.SyscallRequest, agent *models.AgentContext) (*models.SyscallResult, error) {
	start := time.Now()
	fingerprint := recorder.Fingerprint(req.Args)

	if agent == nil {
		res := &models.SyscallResult{
			ErrorCode:    models.ErrCodeAgentUnknown,
			ErrorMessage: "request has no registered agent context",
			DurationMS:   millisSince(start),
			Verdict:      models.VerdictError,
		}
		k.audit(req, "", models.VerdictError, res.ErrorMessage, res.DurationMS, fingerprint)
		return res, nil
	}

	decision := k.checkPolicy(req, agent)
	if !decision.Allowed {
		return nil, k.deny(req, agent, decision.Reason, decision.QuotaExceeded, millisSince(start), fingerprint)
	}

	if req.Kind == models.SyscallCheckPolicy {
		res := &models.SyscallResult{
			Success:    true,
			Value:      string(models.VerdictAllowed),
			DurationMS: millisSince(start),
			Verdict:    models.VerdictAllowed,
		}
		k.audit(req, agent.AgentID, models.VerdictAllowed, decision.Reason, res.DurationMS, fingerprint)
		return res, nil
	}

	t, ok := k.tool(req.Tool)
	if !ok {
		res := &models.SyscallResult{
			ErrorCode:    models.ErrCodeToolNotFound,
			ErrorMessage: fmt.Sprintf("tool %q is not registered", req.Tool),
			DurationMS:   millisSince(start),
			Verdict:      models.VerdictError,
		}
		k.audit(req, agent.AgentID, models.VerdictError, res.ErrorMessage, res.DurationMS, fingerprint)
		return res, nil
	}

	if !agent.TryAcquireSlot(decision.ConcurrencyLimit) {
		reason := fmt.Sprintf("max_concurrent quota exhausted (limit %d)", decision.ConcurrencyLimit)
		return nil, k.deny(req, agent, reason, true, millisSince(start), fingerprint)
	}
	defer agent.ReleaseSlot()

	value, invokeErr := invokeTool(ctx, t, req.Args)
	duration := millisSince(start)

	if invokeErr != nil {
		res := &models.SyscallResult{
			ErrorCode:    models.ErrCodeToolError,
			ErrorMessage: invokeErr.Error(),
			DurationMS:   duration,
			Verdict:      models.VerdictError,
		}
		k.audit(req, agent.AgentID, models.VerdictError, invokeErr.Error(), duration, fingerprint)
		return res, nil
	}

	res := &models.SyscallResult{
		Success:    true,
		Value:      value,
		DurationMS: duration,
		Verdict:    models.VerdictAllowed,
	}
	k.audit(req, agent.AgentID, models.VerdictAllowed, "", duration, fingerprint)
	return res, nil
}

func (k *Kernel) checkPolicy(req *models.SyscallRequest, agent *models.AgentContext) policy.Decision {
	k.policyChecks.Add(1)
	if k.engine == nil {
		return policy.Decision{Allowed: true, Reason: "permissive mode"}
	}
	return k.engine.Check(req, agent)
}

func (k *Kernel) deny(req *models.SyscallRequest, agent *models.AgentContext, reason string, quota bool, durationMS float64, fingerprint string) *signal.KernelPanic {
	k.violations.Add(1)
	k.audit(req, agent.AgentID, models.VerdictBlocked, reason, durationMS, fingerprint)
	k.log.Warn().
		Str("agent_id", agent.AgentID).
		Str("tool", req.Tool).
		Str("reason", reason).
		Msg("policy violation")
	return k.signals.Raise(agent.AgentID, req.Tool, reason, quota)
}

func (k *Kernel) audit(req *models.SyscallRequest, agentID string, verdict models.Verdict, reason string, durationMS float64, fingerprint string) {
	k.rec.Record(recorder.Entry{
		AgentID:         agentID,
		Tool:            req.Tool,
		Kind:            string(req.Kind),
		Verdict:         verdict,
		Reason:          reason,
		DurationMS:      durationMS,
		ArgsFingerprint: fingerprint,
		CorrelationID:   req.CorrelationID,
	})
}

// invokeTool runs the tool, converting a panic inside it into an execution
// error so it is reported like any other tool failure.
func invokeTool(ctx context.Context, t Tool, args map[string]any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return t.Invoke(ctx, args)
}

func millisSince(start time.Time) float64 {
	return float64(time.Since(start).Nanoseconds()) / 1e6
}
