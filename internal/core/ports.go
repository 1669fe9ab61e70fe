package core

import (
	"context"
	"time"
)

// AgentService resolves agents scoped to their owner. A foreign user asking
// for someone else's agent gets a not-found, never an auth hint.
type AgentService interface {
	GetAgent(ctx context.Context, agentID, userID string) (*Agent, error)
}

// Interpreter evaluates a workflow graph. It is an external collaborator:
// this layer never looks inside a run. The interpreter must poll ctx.Done()
// between blocks at minimum, so cancellation latency is bounded by one
// block's execution time. It sends progress on updates and must stop sending
// before returning; the caller owns closing the channel afterwards.
type Interpreter interface {
	Execute(ctx context.Context, workflow *Workflow, input map[string]any, updates chan<- ExecutionUpdate, opts RunOptions) (*Result, error)
	BuildAPIResponse(result *Result, workflow *Workflow, executionID string, durationMS int64) *APIResponse
}

// ExecutionStore persists execution records. All writes are best-effort from
// the orchestrator's point of view: a store failure is logged, never allowed
// to change what the client sees.
type ExecutionStore interface {
	Create(ctx context.Context, exec *Execution) error
	Complete(ctx context.Context, id string, status ExecutionStatus, finalOutput map[string]any, blockStates map[string]BlockState, errText string, completedAt time.Time) error
	Get(ctx context.Context, id string) (*Execution, error)
	// CountCreatedSince backs the rolling daily quota.
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// ScheduleStore persists cron schedules.
type ScheduleStore interface {
	Create(ctx context.Context, s *Schedule) error
	Update(ctx context.Context, s *Schedule) error
	Delete(ctx context.Context, agentID string) error
	GetByAgentID(ctx context.Context, agentID string) (*Schedule, error)
	ListAll(ctx context.Context) ([]*Schedule, error)
	CountTriggeredSince(ctx context.Context, userID string, since time.Time) (int, error)
}
