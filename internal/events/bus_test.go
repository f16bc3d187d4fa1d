package events

import (
	"testing"
	"time"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := NewBus(TransportConfig{Port: -1})
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	t.Cleanup(bus.Shutdown)
	return bus
}

func TestBus_PublishSubscribe_SameTarget(t *testing.T) {
	bus := newTestBus(t)

	ch, cancel, err := bus.Subscribe(TaskTarget("t-1"), nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	t.Cleanup(cancel)

	evt := New(TaskAssigned, TaskTarget("t-1"), map[string]any{"assignedTo": "president"})
	if err := bus.Publish(evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.ID != evt.ID {
			t.Errorf("expected event id %s, got %s", evt.ID, got.ID)
		}
		if got.Type != TaskAssigned {
			t.Errorf("expected type %s, got %s", TaskAssigned, got.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive event within timeout")
	}
}

func TestBus_FilterByType(t *testing.T) {
	bus := newTestBus(t)

	ch, cancel, err := bus.Subscribe(TaskTarget("t-2"), []Type{TaskCompleted})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	t.Cleanup(cancel)

	if err := bus.Publish(New(TaskAssigned, TaskTarget("t-2"), nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	wanted := New(TaskCompleted, TaskTarget("t-2"), nil)
	if err := bus.Publish(wanted); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.ID != wanted.ID {
			t.Fatalf("expected only the filtered-in event %s, got %s (type %s)", wanted.ID, got.ID, got.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive the filtered-in event")
	}
}

func TestBus_TargetAllSeesEverything(t *testing.T) {
	bus := newTestBus(t)

	ch, cancel, err := bus.Subscribe(TargetAll, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	t.Cleanup(cancel)

	evt := New(SystemHealth, AgentTarget("captain"), map[string]any{"overallHealth": "healthy"})
	if err := bus.Publish(evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.ID != evt.ID {
			t.Errorf("expected event id %s, got %s", evt.ID, got.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("TargetAll subscriber did not receive the event")
	}
}

func TestBus_OrderingWithinTarget(t *testing.T) {
	bus := newTestBus(t)

	ch, cancel, err := bus.Subscribe(TaskTarget("t-3"), nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	t.Cleanup(cancel)

	seq := []Type{TaskQueued, TaskAssigned, TaskCompleted}
	for _, et := range seq {
		if err := bus.Publish(New(et, TaskTarget("t-3"), nil)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	for _, want := range seq {
		select {
		case got := <-ch:
			if got.Type != want {
				t.Fatalf("expected %s next, got %s", want, got.Type)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}
