package eventqueue

import "testing"

func TestQueuePushPopOrder(t *testing.T) {
	t.Parallel()

	var q Queue

	for i := uint8(0); i < Capacity; i++ {
		if err := q.Push(i, nil); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}

	if err := q.Push(99, nil); err == nil {
		t.Fatal("Push on a full queue: got nil error, want InvalidInput")
	}

	for i := uint8(0); i < Capacity; i++ {
		ev, ok := q.Peek()
		if !ok {
			t.Fatalf("Peek at iteration %d: queue empty early", i)
		}

		if ev.Vector != i {
			t.Fatalf("Peek at iteration %d: got vector %d, want %d", i, ev.Vector, i)
		}

		q.Pop()
	}

	if _, ok := q.Peek(); ok {
		t.Fatal("Peek on drained queue: got an event, want none")
	}
}

func TestQueueWrapsAroundRingBuffer(t *testing.T) {
	t.Parallel()

	var q Queue

	for i := uint8(0); i < Capacity; i++ {
		_ = q.Push(i, nil)
	}

	q.Pop()
	q.Pop()

	if err := q.Push(100, nil); err != nil {
		t.Fatalf("Push after freeing room: %v", err)
	}

	if err := q.Push(101, nil); err != nil {
		t.Fatalf("Push after freeing room: %v", err)
	}

	if got := q.Len(); got != Capacity {
		t.Fatalf("Len() = %d, want %d", got, Capacity)
	}

	ev, _ := q.Peek()
	if ev.Vector != 2 {
		t.Fatalf("Peek() vector = %d, want 2 (oldest surviving event)", ev.Vector)
	}
}

func TestEventIsException(t *testing.T) {
	t.Parallel()

	tests := []struct {
		vector uint8
		want   bool
	}{
		{0, true},
		{31, true},
		{32, false},
		{255, false},
	}

	for _, tt := range tests {
		if got := (Event{Vector: tt.vector}).IsException(); got != tt.want {
			t.Errorf("Event{Vector: %d}.IsException() = %v, want %v", tt.vector, got, tt.want)
		}
	}
}

func TestAllowInterrupt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		rflagsIF         bool
		interruptibility uint32
		want             bool
	}{
		{"IF set, not blocked", true, 0, true},
		{"IF clear", false, 0, false},
		{"IF set but blocked", true, 1, false},
		{"IF clear and blocked", false, 1, false},
	}

	for _, tt := range tests {
		if got := AllowInterrupt(tt.rflagsIF, tt.interruptibility); got != tt.want {
			t.Errorf("%s: AllowInterrupt() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
