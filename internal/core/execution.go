// Package core defines the domain model and ports for the conduit execution
// gateway: executions, agents, schedules, and the collaborator interfaces
// the orchestration layer is wired against.
package core

import "time"

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusExecuting ExecutionStatus = "executing"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status is a terminal state.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// TriggerKind distinguishes how an execution was started.
type TriggerKind string

const (
	TriggerManual    TriggerKind = "manual"
	TriggerScheduled TriggerKind = "scheduled"
)

// Execution is one run of an agent workflow. Exactly one orchestrator
// goroutine owns an Execution for its whole lifetime; it is mutated once, at
// completion, into a terminal state. A retry never mutates a terminal
// execution in place, it creates a new one referencing the original.
type Execution struct {
	ID          string                 `json:"id"`
	AgentID     string                 `json:"agent_id"`
	UserID      string                 `json:"user_id"`
	Trigger     TriggerKind            `json:"trigger"`
	RetryOf     string                 `json:"retry_of,omitempty"`
	Input       map[string]any         `json:"input,omitempty"`
	Status      ExecutionStatus        `json:"status"`
	BlockStates map[string]BlockState  `json:"block_states,omitempty"`
	FinalOutput map[string]any         `json:"final_output,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// BlockState is the per-block snapshot stored on the execution.
type BlockState struct {
	Status string         `json:"status"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// ExecutionUpdate is one interpreter progress step. Updates are ephemeral:
// produced by the interpreter, forwarded by the status relay, then discarded.
type ExecutionUpdate struct {
	BlockID string         `json:"block_id"`
	Status  string         `json:"status"`
	Inputs  map[string]any `json:"inputs,omitempty"`
	Output  map[string]any `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Result is what the interpreter returns for a finished run.
type Result struct {
	Status      ExecutionStatus       `json:"status"`
	Output      map[string]any        `json:"output,omitempty"`
	BlockStates map[string]BlockState `json:"block_states,omitempty"`
	Artifacts   []Artifact            `json:"artifacts,omitempty"`
	Files       []FileRef             `json:"files,omitempty"`
}

// Artifact is a structured output produced by a block.
type Artifact struct {
	BlockID string         `json:"block_id"`
	Kind    string         `json:"kind"`
	Content map[string]any `json:"content,omitempty"`
}

// FileRef points at a file produced during the run.
type FileRef struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// APIResponse is the structured completion representation, carried alongside
// the legacy raw final_output field for backward compatibility.
type APIResponse struct {
	AgentID     string     `json:"agent_id"`
	ExecutionID string     `json:"execution_id"`
	Status      string     `json:"status"`
	Result      any        `json:"result,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	Files       []FileRef  `json:"files,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
}

// RunOptions carries workflow-level settings into the interpreter.
type RunOptions struct {
	Goal               string
	EnableBlockChecker bool
	CheckerModelID     string
}
