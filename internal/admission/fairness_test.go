package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/logging"
)

// countingStore stubs the execution store for quota checks.
type countingStore struct {
	count int
	err   error
}

func (s *countingStore) Create(context.Context, *core.Execution) error { return nil }
func (s *countingStore) Complete(context.Context, string, core.ExecutionStatus, map[string]any, map[string]core.BlockState, string, time.Time) error {
	return nil
}
func (s *countingStore) Get(context.Context, string) (*core.Execution, error) { return nil, nil }
func (s *countingStore) CountCreatedSince(context.Context, string, time.Time) (int, error) {
	return s.count, s.err
}

func TestFairnessGate_ConcurrencyCap(t *testing.T) {
	g := NewFairnessGate(Limits{MaxConcurrentPerUser: 2, DailyQuota: 10}, nil, logging.NewNop())

	if !g.AcquireExecution("u1") || !g.AcquireExecution("u1") {
		t.Fatal("first two acquisitions should succeed")
	}
	if g.AcquireExecution("u1") {
		t.Error("third acquisition should be rejected")
	}
	// Another user is unaffected.
	if !g.AcquireExecution("u2") {
		t.Error("u2 should not be affected by u1's saturation")
	}

	g.ReleaseExecution("u1")
	if !g.AcquireExecution("u1") {
		t.Error("acquisition should succeed after a release")
	}
}

func TestFairnessGate_ReleaseNeverGoesNegative(t *testing.T) {
	g := NewFairnessGate(Limits{MaxConcurrentPerUser: 1, DailyQuota: 10}, nil, logging.NewNop())
	g.ReleaseExecution("u1")
	if got := g.ActiveExecutions("u1"); got != 0 {
		t.Errorf("active = %d, want 0", got)
	}
}

func TestFairnessGate_QuotaFromStore(t *testing.T) {
	store := &countingStore{count: 8}
	g := NewFairnessGate(Limits{MaxConcurrentPerUser: 1, DailyQuota: 10}, store, logging.NewNop())

	remaining, err := g.GetRemainingExecutions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remaining != 2 {
		t.Errorf("remaining = %d, want 2", remaining)
	}

	store.count = 15 // over quota
	remaining, err = g.GetRemainingExecutions(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0 when over quota", remaining)
	}
}

func TestFairnessGate_QuotaErrorIsSurfaced(t *testing.T) {
	store := &countingStore{err: errors.New("db locked")}
	g := NewFairnessGate(Limits{MaxConcurrentPerUser: 1, DailyQuota: 10}, store, logging.NewNop())

	if _, err := g.GetRemainingExecutions(context.Background(), "u1"); err == nil {
		t.Error("expected the store error to be surfaced so the caller can fail open")
	}
}

func TestFairnessGate_InMemoryCountWithoutStore(t *testing.T) {
	g := NewFairnessGate(Limits{MaxConcurrentPerUser: 5, DailyQuota: 2}, nil, logging.NewNop())
	ctx := context.Background()

	if r, _ := g.GetRemainingExecutions(ctx, "u1"); r != 2 {
		t.Fatalf("remaining = %d, want 2", r)
	}
	g.IncrementCount(ctx, "u1")
	g.IncrementCount(ctx, "u1")
	if r, _ := g.GetRemainingExecutions(ctx, "u1"); r != 0 {
		t.Errorf("remaining = %d, want 0 after two runs", r)
	}
}

func TestFairnessGate_SetLimits(t *testing.T) {
	g := NewFairnessGate(Limits{MaxConcurrentPerUser: 1, DailyQuota: 10}, nil, logging.NewNop())
	if !g.AcquireExecution("u1") {
		t.Fatal("first acquire failed")
	}
	if g.AcquireExecution("u1") {
		t.Fatal("second acquire should fail at limit 1")
	}

	g.SetLimits(Limits{MaxConcurrentPerUser: 2, DailyQuota: 10})
	if !g.AcquireExecution("u1") {
		t.Error("second acquire should succeed after raising the limit")
	}
}
