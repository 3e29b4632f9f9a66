package bmc

import (
	"context"
	"sync"
)

// Fake records sent commands for test assertions.
type Fake struct {
	mu sync.Mutex

	// Sent contains every command passed to Send, including failed ones.
	Sent []Command

	// SendError, if set, is returned by every Send.
	SendError error

	// FailOn, if set, makes Send fail only for matching commands.
	FailOn Command
}

// NewFake creates a Fake channel.
func NewFake() *Fake {
	return &Fake{}
}

// Send records cmd.
func (f *Fake) Send(ctx context.Context, cmd Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Sent = append(f.Sent, append(Command(nil), cmd...))
	if f.SendError != nil {
		return &CommandError{Command: cmd, Err: f.SendError}
	}
	if f.FailOn != nil && f.FailOn.Equal(cmd) {
		return &CommandError{Command: cmd, Err: ErrTimeout}
	}
	return nil
}

// Commands returns a copy of the recorded commands.
func (f *Fake) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.Sent))
	copy(out, f.Sent)
	return out
}

// Count returns how many times cmd was sent.
func (f *Fake) Count(cmd Command) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Sent {
		if c.Equal(cmd) {
			n++
		}
	}
	return n
}

// Reset clears recorded commands and injected errors.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = nil
	f.SendError = nil
	f.FailOn = nil
}
