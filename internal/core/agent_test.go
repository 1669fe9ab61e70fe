package core

import "testing"

func TestWorkflow_HasFileInput(t *testing.T) {
	tests := []struct {
		name string
		wf   *Workflow
		want bool
	}{
		{"nil workflow", nil, false},
		{"no blocks", &Workflow{}, false},
		{
			"text input only",
			&Workflow{Blocks: []Block{{ID: "in", Type: BlockTypeInput, InputType: "text"}}},
			false,
		},
		{
			"file input",
			&Workflow{Blocks: []Block{
				{ID: "in", Type: BlockTypeInput, InputType: InputTypeFile},
				{ID: "llm", Type: "llm"},
			}},
			true,
		},
		{
			"file type on non-input block is ignored",
			&Workflow{Blocks: []Block{{ID: "tool", Type: "tool", InputType: InputTypeFile}}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.wf.HasFileInput(); got != tt.want {
				t.Errorf("HasFileInput() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecutionStatus_IsTerminal(t *testing.T) {
	terminal := []ExecutionStatus{ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []ExecutionStatus{ExecutionStatusPending, ExecutionStatusExecuting} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
