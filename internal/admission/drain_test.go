package admission

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDrainGate_AcquireRelease(t *testing.T) {
	g := NewDrainGate()

	if !g.Acquire() {
		t.Fatal("acquire should succeed before drain")
	}
	if g.InFlight() != 1 {
		t.Errorf("in-flight = %d, want 1", g.InFlight())
	}
	g.Release()
	if g.InFlight() != 0 {
		t.Errorf("in-flight = %d, want 0", g.InFlight())
	}
}

func TestDrainGate_RejectsAfterBeginDrain(t *testing.T) {
	g := NewDrainGate()
	g.BeginDrain()

	if g.Acquire() {
		t.Error("acquire should fail while draining")
	}
	if !g.Draining() {
		t.Error("gate should report draining")
	}
}

func TestDrainGate_WaitReturnsWhenIdle(t *testing.T) {
	g := NewDrainGate()
	if !g.Acquire() {
		t.Fatal("acquire failed")
	}
	g.BeginDrain()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- g.Wait(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Wait returned while a run was still in flight")
	default:
	}

	g.Release()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after last release")
	}
}

func TestDrainGate_WaitTimesOut(t *testing.T) {
	g := NewDrainGate()
	if !g.Acquire() {
		t.Fatal("acquire failed")
	}
	g.BeginDrain()

	if err := g.WaitTimeout(30 * time.Millisecond); err == nil {
		t.Error("expected timeout while a run is in flight")
	}
}

func TestDrainGate_ConcurrentAcquireRelease(t *testing.T) {
	g := NewDrainGate()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Acquire() {
				defer g.Release()
			}
		}()
	}
	wg.Wait()
	if g.InFlight() != 0 {
		t.Errorf("in-flight = %d after all releases, want 0", g.InFlight())
	}
}
