// Package relay implements the per-execution status pipe between the
// interpreter and the connection's output sink.
//
// Each relay is single-producer (the interpreter), single-consumer (one
// forwarder goroutine) and bounded. The overflow policy is Block: when the
// consumer falls behind, the channel back-pressures the interpreter. Nothing
// is dropped and updates for one execution are delivered strictly in emission
// order; no ordering holds across executions. Observer paths that prefer loss
// over pressure live on the events bus instead.
package relay

import (
	"sync"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
)

// Completion is the terminal payload for an execution. It carries both the
// legacy raw final_output field and the structured APIResponse so older
// clients keep working.
type Completion struct {
	Status      core.ExecutionStatus `json:"status"`
	FinalOutput map[string]any       `json:"final_output,omitempty"`
	DurationMS  int64                `json:"duration_ms"`
	Error       string               `json:"error,omitempty"`
	APIResponse *core.APIResponse    `json:"api_response,omitempty"`
}

// Sink receives everything an execution emits toward a client. Gateway
// sessions implement it over the serialized connection writer; scheduled runs
// use a log-backed sink. Implementations must tolerate calls from the relay
// goroutine at any time until SendComplete.
type Sink interface {
	SendStarted(executionID string)
	SendUpdate(executionID string, u core.ExecutionUpdate)
	SendComplete(executionID string, c Completion)
	SendError(message string)
}

// Relay forwards interpreter updates to a sink, tagged with the execution id.
type Relay struct {
	ch   chan core.ExecutionUpdate
	done chan struct{}
	once sync.Once
}

// New creates a relay with the given buffer capacity.
func New(buffer int) *Relay {
	if buffer <= 0 {
		buffer = 100
	}
	return &Relay{
		ch:   make(chan core.ExecutionUpdate, buffer),
		done: make(chan struct{}),
	}
}

// Updates returns the producer side handed to the interpreter.
func (r *Relay) Updates() chan<- core.ExecutionUpdate {
	return r.ch
}

// Start launches the forwarder goroutine. It runs until the update channel is
// closed, then signals done. Start must be called exactly once.
func (r *Relay) Start(executionID string, sink Sink) {
	go func() {
		defer close(r.done)
		for u := range r.ch {
			sink.SendUpdate(executionID, u)
		}
	}()
}

// CloseAndWait closes the producer side and blocks until the forwarder has
// drained every buffered update. After it returns, the completion frame is
// guaranteed to be the last message for this execution id.
func (r *Relay) CloseAndWait() {
	r.once.Do(func() {
		close(r.ch)
	})
	<-r.done
}
