package admission

import (
	"context"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/logging"
)

// UserLimiter is the fairness gate consulted before a run starts. It is an
// interface so admission logic stays deterministic in unit tests.
type UserLimiter interface {
	// AcquireExecution reserves a concurrent slot for the user. False means
	// the user is saturated; no execution is created.
	AcquireExecution(userID string) bool
	// ReleaseExecution frees the slot. Must pair exactly once per acquire.
	ReleaseExecution(userID string)
	// GetRemainingExecutions returns how many runs the user has left today.
	// Exactly 0 blocks the run. An error is fail-open: the caller logs it and
	// proceeds, so a transient counting failure never blocks a legitimate run.
	GetRemainingExecutions(ctx context.Context, userID string) (int, error)
	// IncrementCount records one confirmed run. Failures are logged by the
	// implementation, never surfaced: the run has already started.
	IncrementCount(ctx context.Context, userID string)
}

// Limits are the tunable fairness parameters. Reloadable at runtime via
// SetLimits (wired to the config watcher).
type Limits struct {
	MaxConcurrentPerUser int
	DailyQuota           int
}

// FairnessGate enforces a per-user concurrent-execution cap and a rolling
// daily quota backed by the execution store.
type FairnessGate struct {
	mu     sync.Mutex
	limits Limits
	active map[string]int

	store  core.ExecutionStore
	logger *logging.Logger

	// counted tracks runs recorded in-process today, so quota enforcement
	// keeps working while the store is unavailable.
	counted    map[string]int
	countedDay string
}

// NewFairnessGate creates a fairness gate. store may be nil, in which case
// quota counting is purely in-memory.
func NewFairnessGate(limits Limits, store core.ExecutionStore, logger *logging.Logger) *FairnessGate {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FairnessGate{
		limits:  limits,
		active:  make(map[string]int),
		counted: make(map[string]int),
		store:   store,
		logger:  logger,
	}
}

// SetLimits swaps the limits. Existing slots are unaffected; only future
// acquisitions see the new values.
func (g *FairnessGate) SetLimits(limits Limits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limits = limits
	g.logger.Debug("fairness limits updated",
		"max_concurrent_per_user", limits.MaxConcurrentPerUser,
		"daily_quota", limits.DailyQuota,
	)
}

// AcquireExecution reserves a concurrent slot for the user.
func (g *FairnessGate) AcquireExecution(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[userID] >= g.limits.MaxConcurrentPerUser {
		return false
	}
	g.active[userID]++
	return true
}

// ReleaseExecution frees the slot.
func (g *FairnessGate) ReleaseExecution(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[userID] > 0 {
		g.active[userID]--
	}
	if g.active[userID] == 0 {
		delete(g.active, userID)
	}
}

// ActiveExecutions returns the user's current concurrent count.
func (g *FairnessGate) ActiveExecutions(userID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[userID]
}

// GetRemainingExecutions returns the user's remaining daily quota.
func (g *FairnessGate) GetRemainingExecutions(ctx context.Context, userID string) (int, error) {
	g.mu.Lock()
	quota := g.limits.DailyQuota
	inMem := g.countedToday(userID)
	g.mu.Unlock()

	used := inMem
	if g.store != nil {
		n, err := g.store.CountCreatedSince(ctx, userID, startOfDay(time.Now()))
		if err != nil {
			return 0, err
		}
		if n > used {
			used = n
		}
	}

	remaining := quota - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// IncrementCount records one confirmed run for the user.
func (g *FairnessGate) IncrementCount(ctx context.Context, userID string) {
	g.mu.Lock()
	day := dayKey(time.Now())
	if g.countedDay != day {
		g.countedDay = day
		g.counted = make(map[string]int)
	}
	g.counted[userID]++
	g.mu.Unlock()
	// The persisted count comes from execution rows written by the
	// orchestrator; nothing extra to write here. Kept as a method so a future
	// external counter can slot in behind the interface.
	_ = ctx
}

// countedToday must be called with g.mu held.
func (g *FairnessGate) countedToday(userID string) int {
	if g.countedDay != dayKey(time.Now()) {
		return 0
	}
	return g.counted[userID]
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
