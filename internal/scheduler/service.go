// Package scheduler is the time-driven trigger source: cron schedules stored
// per agent that fire the same orchestrator entry point the live connection
// path uses, with trigger kind "scheduled".
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/events"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/logging"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/orchestrator"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/relay"
)

// fileInputMessage explains why file-input workflows cannot be scheduled:
// uploads expire 30 minutes after upload and will not exist at fire time.
const fileInputMessage = "workflows with file upload inputs cannot be scheduled: uploaded files expire after 30 minutes and will not be available at the scheduled time"

// Runner is the orchestrator entry point scheduled triggers call into.
type Runner interface {
	Run(ctx context.Context, req orchestrator.RunRequest, sink relay.Sink) (string, error)
}

// QuotaReader reports remaining daily runs for usage summaries.
type QuotaReader interface {
	GetRemainingExecutions(ctx context.Context, userID string) (int, error)
}

// Service manages schedule CRUD, enforces schedule invariants, and runs the
// cron loop that fires them.
type Service struct {
	store  core.ScheduleStore
	agents core.AgentService
	runner Runner
	quota  QuotaReader
	bus    *events.Bus
	logger *logging.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID // agentID -> entry
	parser  cron.Parser
}

// New creates a scheduler service.
func New(store core.ScheduleStore, agents core.AgentService, runner Runner, quota QuotaReader, bus *events.Bus, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:   store,
		agents:  agents,
		runner:  runner,
		quota:   quota,
		bus:     bus,
		logger:  logger,
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		// Standard five-field crontab syntax, optional descriptors.
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start loads persisted schedules, registers them, and starts the cron loop.
func (s *Service) Start(ctx context.Context) error {
	schedules, err := s.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("loading schedules: %w", err)
	}
	for _, sched := range schedules {
		if err := s.register(sched); err != nil {
			s.logger.Warn("skipping unregisterable schedule",
				"agent_id", sched.AgentID, "cron", sched.CronExpr, "error", err)
		}
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "schedules", len(schedules))
	return nil
}

// Stop halts the cron loop and waits for running trigger callbacks.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

// CreateSchedule creates the agent's schedule. At most one schedule exists
// per agent; a second create fails with a conflict.
func (s *Service) CreateSchedule(ctx context.Context, userID, agentID, cronExpr, timezone string, input map[string]any) (*core.Schedule, error) {
	agent, err := s.agents.GetAgent(ctx, agentID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.validateSchedulable(agent, cronExpr, timezone); err != nil {
		return nil, err
	}

	if existing, err := s.store.GetByAgentID(ctx, agentID); err == nil && existing != nil {
		return nil, core.ErrConflict(core.CodeScheduleExists,
			fmt.Sprintf("agent %s already has a schedule", agentID))
	}

	now := time.Now()
	sched := &core.Schedule{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		UserID:    userID,
		CronExpr:  cronExpr,
		Timezone:  timezone,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, sched); err != nil {
		return nil, err
	}
	if err := s.register(sched); err != nil {
		// The schedule persisted but cannot fire; surface this loudly.
		s.logger.Error("schedule persisted but not registered", "agent_id", agentID, "error", err)
	}
	s.logger.Info("schedule created", "agent_id", agentID, "cron", cronExpr, "timezone", timezone)
	return sched, nil
}

// UpdateSchedule replaces the agent's schedule definition.
func (s *Service) UpdateSchedule(ctx context.Context, userID, agentID, cronExpr, timezone string, input map[string]any) (*core.Schedule, error) {
	agent, err := s.agents.GetAgent(ctx, agentID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.validateSchedulable(agent, cronExpr, timezone); err != nil {
		return nil, err
	}

	sched, err := s.store.GetByAgentID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, core.ErrNotFound(core.CodeScheduleNotFound, "schedule", agentID)
	}

	sched.CronExpr = cronExpr
	sched.Timezone = timezone
	sched.Input = input
	sched.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, sched); err != nil {
		return nil, err
	}
	s.unregister(agentID)
	if err := s.register(sched); err != nil {
		s.logger.Error("updated schedule not registered", "agent_id", agentID, "error", err)
	}
	return sched, nil
}

// DeleteSchedule removes the agent's schedule.
func (s *Service) DeleteSchedule(ctx context.Context, userID, agentID string) error {
	if _, err := s.agents.GetAgent(ctx, agentID, userID); err != nil {
		return err
	}
	sched, err := s.store.GetByAgentID(ctx, agentID)
	if err != nil {
		return err
	}
	if sched == nil {
		return core.ErrNotFound(core.CodeScheduleNotFound, "schedule", agentID)
	}
	if err := s.store.Delete(ctx, agentID); err != nil {
		return err
	}
	s.unregister(agentID)
	s.logger.Info("schedule deleted", "agent_id", agentID)
	return nil
}

// GetScheduleByAgentID returns the agent's schedule.
func (s *Service) GetScheduleByAgentID(ctx context.Context, userID, agentID string) (*core.Schedule, error) {
	if _, err := s.agents.GetAgent(ctx, agentID, userID); err != nil {
		return nil, err
	}
	sched, err := s.store.GetByAgentID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, core.ErrNotFound(core.CodeScheduleNotFound, "schedule", agentID)
	}
	return sched, nil
}

// TriggerNow fires the agent's schedule immediately through the same
// orchestrator entry point the live path uses. The file-input check runs
// here too: the workflow may have been edited since the schedule was made.
func (s *Service) TriggerNow(ctx context.Context, userID, agentID string) (string, error) {
	agent, err := s.agents.GetAgent(ctx, agentID, userID)
	if err != nil {
		return "", err
	}
	if agent.Workflow.HasFileInput() {
		return "", core.ErrValidation(core.CodeFileInputSchedule, fileInputMessage)
	}
	sched, err := s.store.GetByAgentID(ctx, agentID)
	if err != nil {
		return "", err
	}
	if sched == nil {
		return "", core.ErrNotFound(core.CodeScheduleNotFound, "schedule", agentID)
	}
	return s.fire(ctx, sched, agent)
}

// GetScheduleUsage summarizes the user's schedules and scheduled runs today.
func (s *Service) GetScheduleUsage(ctx context.Context, userID string) (*core.ScheduleUsage, error) {
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	count := 0
	for _, sched := range all {
		if sched.UserID == userID {
			count++
		}
	}
	runs, err := s.store.CountTriggeredSince(ctx, userID, startOfDay(time.Now()))
	if err != nil {
		return nil, err
	}
	usage := &core.ScheduleUsage{Schedules: count, RunsToday: runs}
	if s.quota != nil {
		if remaining, err := s.quota.GetRemainingExecutions(ctx, userID); err == nil {
			usage.RemainingToday = remaining
		}
	}
	return usage, nil
}

// validateSchedulable enforces the creation-time invariants: a parseable
// cron expression, a real timezone, and no file-upload inputs.
func (s *Service) validateSchedulable(agent *core.Agent, cronExpr, timezone string) error {
	if agent.Workflow == nil || len(agent.Workflow.Blocks) == 0 {
		return core.ErrValidation(core.CodeWorkflowMissing,
			fmt.Sprintf("agent %s has no workflow to schedule", agent.ID))
	}
	// File-input rejection is independent of cron validity and comes first.
	if agent.Workflow.HasFileInput() {
		return core.ErrValidation(core.CodeFileInputSchedule, fileInputMessage)
	}
	if _, err := s.parser.Parse(cronExpr); err != nil {
		return core.ErrValidation(core.CodeInvalidCron,
			fmt.Sprintf("invalid cron expression %q: %v", cronExpr, err))
	}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return core.ErrValidation(core.CodeInvalidTimezone,
				fmt.Sprintf("unknown timezone %q", timezone))
		}
	}
	return nil
}

// register adds the schedule to the cron loop. Timezone is applied per entry
// via the CRON_TZ spec prefix.
func (s *Service) register(sched *core.Schedule) error {
	spec := sched.CronExpr
	if sched.Timezone != "" {
		spec = "CRON_TZ=" + sched.Timezone + " " + spec
	}

	agentID := sched.AgentID
	userID := sched.UserID
	entryID, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		agent, err := s.agents.GetAgent(ctx, agentID, userID)
		if err != nil {
			s.logger.Warn("scheduled trigger skipped, agent unavailable",
				"agent_id", agentID, "error", err)
			return
		}
		current, err := s.store.GetByAgentID(ctx, agentID)
		if err != nil || current == nil {
			s.logger.Warn("scheduled trigger skipped, schedule gone", "agent_id", agentID)
			return
		}
		if agent.Workflow.HasFileInput() {
			s.logger.Warn("scheduled trigger skipped, workflow gained a file input",
				"agent_id", agentID)
			return
		}
		if _, err := s.fire(ctx, current, agent); err != nil {
			s.logger.Warn("scheduled trigger rejected", "agent_id", agentID, "error", err)
		}
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[agentID] = entryID
	return nil
}

func (s *Service) unregister(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[agentID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, agentID)
	}
}

// fire runs one scheduled execution with a log-backed sink.
func (s *Service) fire(ctx context.Context, sched *core.Schedule, agent *core.Agent) (string, error) {
	sink := orchestrator.NewLogSink(s.logger.WithAgent(agent.ID))
	execID, err := s.runner.Run(ctx, orchestrator.RunRequest{
		Agent:   agent,
		UserID:  sched.UserID,
		Trigger: core.TriggerScheduled,
		Input:   sched.Input,
	}, sink)
	if err != nil {
		return "", err
	}
	if s.bus != nil {
		s.bus.Publish(events.NewScheduleTriggeredEvent(execID, agent.ID, sched.CronExpr))
	}
	return execID, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
