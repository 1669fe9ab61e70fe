package interpreter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
)

func TestLoopbackWalksEveryBlock(t *testing.T) {
	wf := &core.Workflow{Blocks: []core.Block{
		{ID: "in", Type: core.BlockTypeInput},
		{ID: "llm", Type: "llm"},
	}}
	updates := make(chan core.ExecutionUpdate, 10)

	result, err := NewLoopback().Execute(context.Background(), wf,
		map[string]any{"q": "hi"}, updates, core.RunOptions{})
	require.NoError(t, err)
	close(updates)

	assert.Equal(t, core.ExecutionStatusCompleted, result.Status)
	assert.Len(t, result.BlockStates, 2)

	var got []core.ExecutionUpdate
	for u := range updates {
		got = append(got, u)
	}
	require.Len(t, got, 4) // executing + completed per block
	assert.Equal(t, "in", got[0].BlockID)
	assert.Equal(t, "executing", got[0].Status)
	assert.Equal(t, "completed", got[3].Status)
}

func TestLoopbackStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	wf := &core.Workflow{Blocks: []core.Block{{ID: "b1"}}}
	updates := make(chan core.ExecutionUpdate, 10)

	_, err := NewLoopback().Execute(ctx, wf, nil, updates, core.RunOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildAPIResponse(t *testing.T) {
	result := &core.Result{
		Status: core.ExecutionStatusCompleted,
		Output: map[string]any{"echo": "x"},
	}
	api := NewLoopback().BuildAPIResponse(result, nil, "e1", 42)

	assert.Equal(t, "e1", api.ExecutionID)
	assert.Equal(t, "completed", api.Status)
	assert.EqualValues(t, 42, api.DurationMS)
}
