package events

import (
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
)

func TestBus_Subscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()

	bus.Publish(NewExecutionStartedEvent("e1", "a1", "u1", core.TriggerManual))

	select {
	case received := <-ch:
		if received.EventType() != TypeExecutionStarted {
			t.Errorf("expected %s, got %s", TypeExecutionStarted, received.EventType())
		}
		if received.ExecutionID() != "e1" {
			t.Errorf("expected e1, got %s", received.ExecutionID())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestBus_SubscribeByType(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	terminalCh := bus.Subscribe(TypeExecutionCompleted, TypeExecutionFailed)
	allCh := bus.Subscribe()

	bus.Publish(NewExecutionStartedEvent("e1", "a1", "u1", core.TriggerManual))
	bus.Publish(NewExecutionFinishedEvent("e1", "a1", core.ExecutionStatusCompleted, 12, ""))

	// allCh receives both.
	for i := 0; i < 2; i++ {
		select {
		case <-allCh:
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("allCh missing event %d", i)
		}
	}

	// terminalCh only receives the completion.
	select {
	case received := <-terminalCh:
		if received.EventType() != TypeExecutionCompleted {
			t.Errorf("expected completion, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("terminalCh should receive the completion event")
	}
	select {
	case e := <-terminalCh:
		t.Errorf("terminalCh received unexpected event %s", e.EventType())
	default:
	}
}

func TestBus_PriorityNeverDrops(t *testing.T) {
	bus := New(5)
	defer bus.Close()

	priorityCh := bus.SubscribePriority()

	// Saturate the regular path.
	for i := 0; i < 100; i++ {
		bus.Publish(NewExecutionUpdateEvent("e1", core.ExecutionUpdate{BlockID: "b1", Status: "running"}))
	}

	bus.PublishPriority(NewExecutionFinishedEvent("e1", "a1", core.ExecutionStatusFailed, 5, "boom"))

	select {
	case received := <-priorityCh:
		if received.EventType() != TypeExecutionFailed {
			t.Errorf("expected failure event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("priority subscriber missed the terminal event")
	}
}

func TestBus_DropOldestUnderPressure(t *testing.T) {
	bus := New(2)
	defer bus.Close()

	ch := bus.Subscribe()

	for i := 0; i < 10; i++ {
		bus.Publish(NewExecutionUpdateEvent("e1", core.ExecutionUpdate{BlockID: "b", Status: "running"}))
	}

	if bus.DroppedCount() == 0 {
		t.Error("expected drops with a saturated subscriber")
	}
	// The buffer still holds the most recent events.
	select {
	case <-ch:
	default:
		t.Error("subscriber buffer should not be empty")
	}
}

func TestBus_CloseIsIdempotentAndClosesChannels(t *testing.T) {
	bus := New(10)
	ch := bus.Subscribe()

	bus.Close()
	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed")
	}
	// Publish after close must not panic.
	bus.Publish(NewExecutionStartedEvent("e1", "a1", "u1", core.TriggerManual))
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("unsubscribed channel should be closed")
	}
}
