package gateway

import (
	"encoding/json"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/relay"
)

// Client → server message types.
const (
	msgExecuteWorkflow = "execute_workflow"
	msgCancelExecution = "cancel_execution"
)

// Server → client message types.
const (
	msgConnected         = "connected"
	msgExecutionStarted  = "execution_started"
	msgExecutionUpdate   = "execution_update"
	msgExecutionComplete = "execution_complete"
	msgError             = "error"
)

// clientMessage is the envelope for inbound frames.
type clientMessage struct {
	Type               string         `json:"type"`
	AgentID            string         `json:"agent_id,omitempty"`
	Input              map[string]any `json:"input,omitempty"`
	EnableBlockChecker bool           `json:"enable_block_checker,omitempty"`
	CheckerModelID     string         `json:"checker_model_id,omitempty"`
}

type connectedMessage struct {
	Type string `json:"type"`
}

type executionStartedMessage struct {
	Type        string `json:"type"`
	ExecutionID string `json:"execution_id"`
}

type executionUpdateMessage struct {
	Type        string         `json:"type"`
	ExecutionID string         `json:"execution_id"`
	BlockID     string         `json:"block_id"`
	Status      string         `json:"status"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
}

type executionCompleteMessage struct {
	Type        string            `json:"type"`
	ExecutionID string            `json:"execution_id"`
	Status      string            `json:"status"`
	FinalOutput map[string]any    `json:"final_output,omitempty"`
	DurationMS  int64             `json:"duration_ms"`
	Error       string            `json:"error,omitempty"`
	APIResponse *core.APIResponse `json:"api_response,omitempty"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func marshalConnected() []byte {
	b, _ := json.Marshal(connectedMessage{Type: msgConnected})
	return b
}

func marshalStarted(executionID string) []byte {
	b, _ := json.Marshal(executionStartedMessage{Type: msgExecutionStarted, ExecutionID: executionID})
	return b
}

func marshalUpdate(executionID string, u core.ExecutionUpdate) []byte {
	b, _ := json.Marshal(executionUpdateMessage{
		Type:        msgExecutionUpdate,
		ExecutionID: executionID,
		BlockID:     u.BlockID,
		Status:      u.Status,
		Inputs:      u.Inputs,
		Output:      u.Output,
		Error:       u.Error,
	})
	return b
}

func marshalComplete(executionID string, c relay.Completion) []byte {
	b, _ := json.Marshal(executionCompleteMessage{
		Type:        msgExecutionComplete,
		ExecutionID: executionID,
		Status:      string(c.Status),
		FinalOutput: c.FinalOutput,
		DurationMS:  c.DurationMS,
		Error:       c.Error,
		APIResponse: c.APIResponse,
	})
	return b
}

func marshalError(message string) []byte {
	b, _ := json.Marshal(errorMessage{Type: msgError, Error: message})
	return b
}
