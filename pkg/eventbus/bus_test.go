package eventbus

import "testing"

func TestBus_PublishOrder(t *testing.T) {
	bus := New[int]()
	var got []string

	bus.Subscribe(func(v int) { got = append(got, "a") })
	bus.Subscribe(func(v int) { got = append(got, "b") })
	bus.Publish(1)

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected delivery order: %v", got)
	}
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	bus := New[string]()
	calls := 0
	unsub := bus.Subscribe(func(string) { calls++ })

	bus.Publish("x")
	unsub()
	unsub()
	bus.Publish("y")

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if bus.Len() != 0 {
		t.Errorf("Len = %d, want 0", bus.Len())
	}
}

func TestBus_UnsubscribeDuringPublish(t *testing.T) {
	bus := New[int]()
	calls := 0
	var unsub Unsubscribe
	unsub = bus.Subscribe(func(int) {
		calls++
		unsub()
	})
	bus.Subscribe(func(int) { calls++ })

	bus.Publish(1)
	bus.Publish(2)

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}
