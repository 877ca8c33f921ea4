// Package models defines the core data types exchanged between the kernel,
// the policy engine and the flight recorder.
package models

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// SyscallKind classifies how a request intends to touch the world.
type SyscallKind string

const (
	SyscallRead        SyscallKind = "read"
	SyscallWrite       SyscallKind = "write"
	SyscallExecute     SyscallKind = "execute"
	SyscallCheckPolicy SyscallKind = "check_policy"
)

// ActionType tags a request for rule applicability filtering.
type ActionType string

const (
	ActionFileRead        ActionType = "file_read"
	ActionFileWrite       ActionType = "file_write"
	ActionCodeExecution   ActionType = "code_execution"
	ActionDatabaseQuery   ActionType = "database_query"
	ActionDatabaseWrite   ActionType = "database_write"
	ActionAPICall         ActionType = "api_call"
	ActionWorkflowTrigger ActionType = "workflow_trigger"
)

// Verdict is the outcome recorded for a mediated request.
type Verdict string

const (
	VerdictAllowed Verdict = "allowed"
	VerdictBlocked Verdict = "blocked"
	VerdictError   Verdict = "error"
)

// Error codes surfaced in SyscallResult for non-fatal outcomes.
const (
	ErrCodeToolNotFound = "TOOL_NOT_FOUND"
	ErrCodeToolError    = "TOOL_EXECUTION_ERROR"
	ErrCodeAgentUnknown = "AGENT_UNKNOWN"
	ErrCodeInvalidInput = "INVALID_INPUT"
)

// SyscallRequest is a single mediated action attempt. Construct it via
// NewSyscallRequest and treat it as immutable afterwards.
type SyscallRequest struct {
	Kind          SyscallKind
	ActionType    ActionType
	Tool          string
	Args          map[string]any
	CorrelationID string
}

// NewSyscallRequest builds a request with a fresh correlation id and a
// defensive copy of the argument map.
func NewSyscallRequest(kind SyscallKind, actionType ActionType, tool string, args map[string]any) *SyscallRequest {
	copied := make(map[string]any, len(args))
	maps.Copy(copied, args)
	return &SyscallRequest{
		Kind:          kind,
		ActionType:    actionType,
		Tool:          tool,
		Args:          copied,
		CorrelationID: uuid.NewString(),
	}
}

// SyscallResult is produced exactly once per request that does not end in a
// kernel panic.
type SyscallResult struct {
	Success      bool
	Value        any
	ErrorCode    string
	ErrorMessage string
	DurationMS   float64
	Verdict      Verdict
}

// Duration returns the recorded execution time.
func (r *SyscallResult) Duration() time.Duration {
	return time.Duration(r.DurationMS * float64(time.Millisecond))
}
