package audit

import "sync"

// MemorySink retains events in memory. It exists for tests; production
// sinks never hold events.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *MemorySink) Close() error { return nil }

// Events returns a snapshot of everything recorded so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByStatus returns recorded events with the given status.
func (s *MemorySink) ByStatus(status Status) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}
