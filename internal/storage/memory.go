package storage

import "sync"

const DefaultMemoryCapacity = 10000

// MemoryRecorder keeps the most recent events in a fixed-size ring.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
	next   int
	full   bool
}

func NewMemoryRecorder(capacity int) *MemoryRecorder {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryRecorder{events: make([]Event, capacity)}
}

func (r *MemoryRecorder) AppendInteraction(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[r.next] = event
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

func (r *MemoryRecorder) LoadInteractions() ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Event(nil), r.events[:r.next]...), nil
	}
	out := make([]Event, 0, len(r.events))
	out = append(out, r.events[r.next:]...)
	out = append(out, r.events[:r.next]...)
	return out, nil
}
