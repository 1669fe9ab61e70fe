// Package interpreter provides the built-in loopback interpreter. It walks
// the workflow graph without evaluating block semantics: every block reports
// executing then completed, and the run's output echoes the input. Useful for
// local development and for exercising the full execution pipeline; real
// deployments plug in an external interpreter behind the same port.
package interpreter

import (
	"context"
	"time"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
)

// Loopback implements core.Interpreter.
type Loopback struct {
	// StepDelay simulates per-block work. Zero means no delay.
	StepDelay time.Duration
}

// NewLoopback creates a loopback interpreter.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// Execute walks the blocks in order, emitting an executing and a completed
// update per block, checking ctx between blocks.
func (l *Loopback) Execute(ctx context.Context, workflow *core.Workflow, input map[string]any, updates chan<- core.ExecutionUpdate, _ core.RunOptions) (*core.Result, error) {
	states := make(map[string]core.BlockState, len(workflow.Blocks))

	for _, block := range workflow.Blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		updates <- core.ExecutionUpdate{BlockID: block.ID, Status: "executing", Inputs: input}
		if l.StepDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(l.StepDelay):
			}
		}

		output := map[string]any{"echo": input}
		updates <- core.ExecutionUpdate{BlockID: block.ID, Status: "completed", Output: output}
		states[block.ID] = core.BlockState{Status: "completed", Output: output}
	}

	return &core.Result{
		Status:      core.ExecutionStatusCompleted,
		Output:      map[string]any{"echo": input},
		BlockStates: states,
	}, nil
}

// BuildAPIResponse shapes the structured completion payload.
func (l *Loopback) BuildAPIResponse(result *core.Result, _ *core.Workflow, executionID string, durationMS int64) *core.APIResponse {
	if result == nil {
		return &core.APIResponse{ExecutionID: executionID, Status: string(core.ExecutionStatusFailed), DurationMS: durationMS}
	}
	return &core.APIResponse{
		ExecutionID: executionID,
		Status:      string(result.Status),
		Result:      result.Output,
		Artifacts:   result.Artifacts,
		Files:       result.Files,
		DurationMS:  durationMS,
	}
}
