package bus

import (
	"context"
	"sync"

	"github.com/yasunorioi/uecs-actuatord/internal/actuator"
)

// SentCommand records one logical command for assertions.
type SentCommand struct {
	ActuatorID string
	Value      string
	Level      actuator.Level
}

// Fake is a test double recording every command. If Err is set it is
// returned by Send (after recording), simulating bus I/O failures.
type Fake struct {
	mu       sync.Mutex
	commands []SentCommand

	Err error
}

// NewFake creates an empty fake sender.
func NewFake() *Fake {
	return &Fake{}
}

// Send implements Sender.
func (f *Fake) Send(_ context.Context, actuatorID, value string, level actuator.Level) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, SentCommand{ActuatorID: actuatorID, Value: value, Level: level})
	return f.Err
}

// Close implements Sender.
func (f *Fake) Close() error { return nil }

// Commands returns a copy of everything sent so far.
func (f *Fake) Commands() []SentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentCommand, len(f.commands))
	copy(out, f.commands)
	return out
}

// Last returns the most recent command, if any.
func (f *Fake) Last() (SentCommand, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.commands) == 0 {
		return SentCommand{}, false
	}
	return f.commands[len(f.commands)-1], true
}

// Reset clears the record.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = nil
}
