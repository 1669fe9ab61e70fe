package events

import "github.com/hugo-lorenzo-mato/conduit-ai/internal/core"

// Event type constants for execution lifecycle events.
const (
	TypeExecutionStarted   = "execution_started"
	TypeExecutionUpdate    = "execution_update"
	TypeExecutionCompleted = "execution_completed"
	TypeExecutionFailed    = "execution_failed"
	TypeExecutionCancelled = "execution_cancelled"
	TypeScheduleTriggered  = "schedule_triggered"
)

// ExecutionStartedEvent signals an admitted run entering the executing state.
type ExecutionStartedEvent struct {
	BaseEvent
	AgentID string           `json:"agent_id"`
	UserID  string           `json:"user_id"`
	Trigger core.TriggerKind `json:"trigger"`
}

// NewExecutionStartedEvent creates an execution started event.
func NewExecutionStartedEvent(executionID, agentID, userID string, trigger core.TriggerKind) ExecutionStartedEvent {
	return ExecutionStartedEvent{
		BaseEvent: NewBaseEvent(TypeExecutionStarted, executionID),
		AgentID:   agentID,
		UserID:    userID,
		Trigger:   trigger,
	}
}

// ExecutionUpdateEvent mirrors one interpreter progress step for observers.
type ExecutionUpdateEvent struct {
	BaseEvent
	BlockID string `json:"block_id"`
	Status  string `json:"status"`
}

// NewExecutionUpdateEvent creates an execution update event.
func NewExecutionUpdateEvent(executionID string, u core.ExecutionUpdate) ExecutionUpdateEvent {
	return ExecutionUpdateEvent{
		BaseEvent: NewBaseEvent(TypeExecutionUpdate, executionID),
		BlockID:   u.BlockID,
		Status:    u.Status,
	}
}

// ExecutionFinishedEvent signals a run reaching a terminal state.
type ExecutionFinishedEvent struct {
	BaseEvent
	AgentID    string `json:"agent_id"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// NewExecutionFinishedEvent creates a terminal event typed by status.
func NewExecutionFinishedEvent(executionID, agentID string, status core.ExecutionStatus, durationMS int64, errText string) ExecutionFinishedEvent {
	eventType := TypeExecutionCompleted
	switch status {
	case core.ExecutionStatusFailed:
		eventType = TypeExecutionFailed
	case core.ExecutionStatusCancelled:
		eventType = TypeExecutionCancelled
	}
	return ExecutionFinishedEvent{
		BaseEvent:  NewBaseEvent(eventType, executionID),
		AgentID:    agentID,
		Status:     string(status),
		DurationMS: durationMS,
		Error:      errText,
	}
}

// ScheduleTriggeredEvent signals the cron runner firing a schedule.
type ScheduleTriggeredEvent struct {
	BaseEvent
	AgentID  string `json:"agent_id"`
	CronExpr string `json:"cron_expr"`
}

// NewScheduleTriggeredEvent creates a schedule triggered event.
func NewScheduleTriggeredEvent(executionID, agentID, cronExpr string) ScheduleTriggeredEvent {
	return ScheduleTriggeredEvent{
		BaseEvent: NewBaseEvent(TypeScheduleTriggered, executionID),
		AgentID:   agentID,
		CronExpr:  cronExpr,
	}
}
