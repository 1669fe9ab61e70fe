// Package orchestrator drives one workflow execution end to end: admission,
// record creation, interpreter invocation, status relaying, and completion
// persistence. Both the live connection path and the cron trigger path enter
// through Run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/admission"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/events"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/logging"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/relay"
)

// Orchestrator validates run requests, passes the admission gates, invokes
// the interpreter, and persists outcomes. It is safe for concurrent use; each
// Run owns its execution exclusively.
type Orchestrator struct {
	interpreter core.Interpreter
	store       core.ExecutionStore // nil means transient executions
	drain       *admission.DrainGate
	limiter     admission.UserLimiter
	bus         *events.Bus // nil disables observer events
	logger      *logging.Logger
	relayBuffer int
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithStore sets the execution store.
func WithStore(store core.ExecutionStore) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithBus sets the observer event bus.
func WithBus(bus *events.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithRelayBuffer sets the status relay capacity per execution.
func WithRelayBuffer(n int) Option {
	return func(o *Orchestrator) { o.relayBuffer = n }
}

// New creates an orchestrator.
func New(interpreter core.Interpreter, drain *admission.DrainGate, limiter admission.UserLimiter, logger *logging.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	o := &Orchestrator{
		interpreter: interpreter,
		drain:       drain,
		limiter:     limiter,
		logger:      logger,
		relayBuffer: 100,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunRequest describes one execution to perform.
type RunRequest struct {
	Agent              *core.Agent
	UserID             string
	Trigger            core.TriggerKind
	Input              map[string]any
	EnableBlockChecker bool
	CheckerModelID     string
	// RetryOf references the original execution when this run is a retry.
	// A retry never mutates the terminal original.
	RetryOf string
}

// Run executes one workflow run to its terminal state and returns the
// execution id. A non-nil error means the run was rejected before an
// execution record existed (admission or validation); in that case exactly
// one error frame has already been sent on the sink and the caller must not
// send another. An interpreter failure is NOT an error here: it yields a
// terminal failed execution, a completion frame, and a nil error.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest, sink relay.Sink) (string, error) {
	if err := o.validate(req); err != nil {
		sink.SendError(err.Error())
		return "", err
	}

	// Drain gate: reject before any record exists.
	if !o.drain.Acquire() {
		err := core.ErrAdmission(core.CodeShuttingDown, core.MsgShuttingDown)
		sink.SendError(err.Message)
		return "", err
	}
	defer o.drain.Release()

	// Fairness gate: concurrent slot first, then the daily quota.
	if !o.limiter.AcquireExecution(req.UserID) {
		err := core.ErrAdmission(core.CodeConcurrencyLimit, core.MsgConcurrency)
		sink.SendError(err.Message)
		return "", err
	}
	defer o.limiter.ReleaseExecution(req.UserID)

	remaining, err := o.limiter.GetRemainingExecutions(ctx, req.UserID)
	if err != nil {
		// Fail open: a transient counting failure never blocks a run.
		o.logger.Warn("quota check failed, allowing run",
			"user_id", req.UserID, "error", err)
	} else if remaining == 0 {
		err := core.ErrAdmission(core.CodeDailyQuotaExceeded, core.MsgQuotaExceeded)
		sink.SendError(err.Message)
		return "", err
	}
	o.limiter.IncrementCount(ctx, req.UserID)

	exec := o.createExecution(ctx, req)
	logger := o.logger.WithExecution(exec.ID).WithAgent(req.Agent.ID).WithUser(req.UserID)
	logger.Info("execution started", "trigger", req.Trigger)

	sink.SendStarted(exec.ID)
	if o.bus != nil {
		o.bus.Publish(events.NewExecutionStartedEvent(exec.ID, req.Agent.ID, req.UserID, req.Trigger))
	}

	o.execute(ctx, exec, req, sink, logger)
	return exec.ID, nil
}

func (o *Orchestrator) validate(req RunRequest) *core.DomainError {
	if req.UserID == "" {
		return core.ErrAuth("user identity required")
	}
	if req.Agent == nil {
		return core.ErrNotFound(core.CodeAgentNotFound, "agent", "")
	}
	if req.Agent.Workflow == nil || len(req.Agent.Workflow.Blocks) == 0 {
		return core.ErrValidation(core.CodeWorkflowMissing,
			fmt.Sprintf("agent %s has no workflow to execute", req.Agent.ID))
	}
	return nil
}

// createExecution builds the pending record. Store failures are soft: the
// run proceeds with a transient record and the client never notices.
func (o *Orchestrator) createExecution(ctx context.Context, req RunRequest) *core.Execution {
	exec := &core.Execution{
		ID:        uuid.NewString(),
		AgentID:   req.Agent.ID,
		UserID:    req.UserID,
		Trigger:   req.Trigger,
		RetryOf:   req.RetryOf,
		Input:     req.Input,
		Status:    core.ExecutionStatusPending,
		CreatedAt: time.Now(),
	}
	if o.store != nil {
		if err := o.store.Create(ctx, exec); err != nil {
			o.logger.Warn("persisting execution failed, continuing transient",
				"execution_id", exec.ID, "error", err)
		}
	}
	return exec
}

// execute runs the interpreter and settles the execution into its terminal
// state. It always sends exactly one completion frame.
func (o *Orchestrator) execute(ctx context.Context, exec *core.Execution, req RunRequest, sink relay.Sink, logger *logging.Logger) {
	exec.Status = core.ExecutionStatusExecuting
	start := time.Now()

	rel := relay.New(o.relayBuffer)
	rel.Start(exec.ID, o.observing(sink))

	opts := core.RunOptions{
		Goal:               req.Agent.Workflow.Goal,
		EnableBlockChecker: req.EnableBlockChecker,
		CheckerModelID:     req.CheckerModelID,
	}

	result, runErr := o.safeExecute(ctx, req.Agent.Workflow, req.Input, rel.Updates(), opts)

	// Completion must be the last frame for this execution id.
	rel.CloseAndWait()
	durationMS := time.Since(start).Milliseconds()

	status, errText := terminalState(result, runErr)
	exec.Status = status
	exec.Error = errText
	if result != nil {
		exec.FinalOutput = result.Output
		exec.BlockStates = result.BlockStates
	}
	now := time.Now()
	exec.CompletedAt = &now

	if o.store != nil {
		if err := o.store.Complete(ctx, exec.ID, status, exec.FinalOutput, exec.BlockStates, errText, now); err != nil {
			// The client-visible result outranks the persisted copy.
			logger.Warn("persisting completion failed", "error", err)
		}
	}

	completion := relay.Completion{
		Status:      status,
		FinalOutput: exec.FinalOutput,
		DurationMS:  durationMS,
		Error:       errText,
	}
	if result != nil {
		api := o.interpreter.BuildAPIResponse(result, req.Agent.Workflow, exec.ID, durationMS)
		if api != nil {
			// The response always references the agent the client asked for.
			api.AgentID = req.Agent.ID
			api.ExecutionID = exec.ID
			completion.APIResponse = api
		}
	}
	sink.SendComplete(exec.ID, completion)

	if o.bus != nil {
		o.bus.PublishPriority(events.NewExecutionFinishedEvent(exec.ID, req.Agent.ID, status, durationMS, errText))
	}
	logger.Info("execution finished", "status", status, "duration_ms", durationMS)
}

// safeExecute shields the orchestrator from interpreter panics so the
// admission slots are always released and a completion frame still goes out.
func (o *Orchestrator) safeExecute(ctx context.Context, wf *core.Workflow, input map[string]any, updates chan<- core.ExecutionUpdate, opts core.RunOptions) (result *core.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = core.ErrExecution(core.CodeInterpreterFailed, fmt.Sprintf("interpreter panic: %v", r))
		}
	}()
	return o.interpreter.Execute(ctx, wf, input, updates, opts)
}

// terminalState maps the interpreter outcome to a terminal status. The
// orchestrator never force-classifies a cancellation; it reports cancelled
// only when the interpreter surfaced the cancellation itself.
func terminalState(result *core.Result, runErr error) (core.ExecutionStatus, string) {
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return core.ExecutionStatusCancelled, runErr.Error()
		}
		return core.ExecutionStatusFailed, runErr.Error()
	}
	if result != nil && result.Status.IsTerminal() {
		return result.Status, ""
	}
	return core.ExecutionStatusCompleted, ""
}

// observing wraps a sink so interpreter updates also reach the observer bus.
func (o *Orchestrator) observing(sink relay.Sink) relay.Sink {
	if o.bus == nil {
		return sink
	}
	return &observingSink{inner: sink, bus: o.bus}
}

type observingSink struct {
	inner relay.Sink
	bus   *events.Bus
}

func (s *observingSink) SendStarted(executionID string) { s.inner.SendStarted(executionID) }
func (s *observingSink) SendUpdate(executionID string, u core.ExecutionUpdate) {
	s.inner.SendUpdate(executionID, u)
	s.bus.Publish(events.NewExecutionUpdateEvent(executionID, u))
}
func (s *observingSink) SendComplete(executionID string, c relay.Completion) {
	s.inner.SendComplete(executionID, c)
}
func (s *observingSink) SendError(message string) { s.inner.SendError(message) }
