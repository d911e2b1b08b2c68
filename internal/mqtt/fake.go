package mqtt

import "sync"

// FakePublisher records published events for tests.
type FakePublisher struct {
	mu     sync.Mutex
	events []Event

	// PublishError, if set, is returned by Publish.
	PublishError error
	Closed       bool
}

// NewFakePublisher creates an empty fake.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish implements Publisher.
func (f *FakePublisher) Publish(event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.events = append(f.events, event)
	return nil
}

// Close implements Publisher.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Events returns a copy of everything published.
func (f *FakePublisher) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}
