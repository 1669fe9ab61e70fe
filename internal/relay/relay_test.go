package relay

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
)

// recordingSink captures everything sent through it.
type recordingSink struct {
	mu       sync.Mutex
	updates  []core.ExecutionUpdate
	execIDs  []string
	complete []Completion
	slow     time.Duration
}

func (s *recordingSink) SendStarted(string) {}
func (s *recordingSink) SendUpdate(execID string, u core.ExecutionUpdate) {
	if s.slow > 0 {
		time.Sleep(s.slow)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	s.execIDs = append(s.execIDs, execID)
}
func (s *recordingSink) SendComplete(_ string, c Completion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete = append(s.complete, c)
}
func (s *recordingSink) SendError(string) {}

func TestRelay_ForwardsInOrder(t *testing.T) {
	sink := &recordingSink{}
	r := New(10)
	r.Start("e1", sink)

	for i := 0; i < 25; i++ {
		r.Updates() <- core.ExecutionUpdate{BlockID: fmt.Sprintf("b%d", i), Status: "completed"}
	}
	r.CloseAndWait()

	if len(sink.updates) != 25 {
		t.Fatalf("forwarded %d updates, want 25", len(sink.updates))
	}
	for i, u := range sink.updates {
		if u.BlockID != fmt.Sprintf("b%d", i) {
			t.Fatalf("update %d out of order: %s", i, u.BlockID)
		}
	}
	for _, id := range sink.execIDs {
		if id != "e1" {
			t.Errorf("update tagged with wrong execution id: %s", id)
		}
	}
}

func TestRelay_BlocksProducerWhenConsumerStalls(t *testing.T) {
	sink := &recordingSink{slow: 20 * time.Millisecond}
	r := New(2)
	r.Start("e1", sink)

	start := time.Now()
	for i := 0; i < 6; i++ {
		r.Updates() <- core.ExecutionUpdate{BlockID: "b", Status: "running"}
	}
	elapsed := time.Since(start)
	r.CloseAndWait()

	// Capacity 2 and a 20ms consumer mean the producer must have waited for
	// at least a few drains; with drop semantics the sends would be instant.
	if elapsed < 40*time.Millisecond {
		t.Errorf("producer finished in %s, expected back-pressure", elapsed)
	}
	if len(sink.updates) != 6 {
		t.Errorf("forwarded %d updates, want 6 (block policy never drops)", len(sink.updates))
	}
}

func TestRelay_CloseAndWaitDrainsBuffer(t *testing.T) {
	sink := &recordingSink{}
	r := New(100)

	// Fill the buffer before the forwarder gets scheduled.
	for i := 0; i < 50; i++ {
		r.Updates() <- core.ExecutionUpdate{BlockID: fmt.Sprintf("b%d", i), Status: "completed"}
	}
	r.Start("e1", sink)
	r.CloseAndWait()

	if len(sink.updates) != 50 {
		t.Errorf("CloseAndWait returned before draining: %d/50", len(sink.updates))
	}
}

func TestRelay_CloseAndWaitIsIdempotent(t *testing.T) {
	r := New(1)
	r.Start("e1", &recordingSink{})
	r.CloseAndWait()
	r.CloseAndWait() // second call must not panic
}
