package sensor

import (
	"context"
	"errors"
	"sync"
)

// Fake is a test double that returns scripted readings.
type Fake struct {
	mu sync.Mutex

	// Samples contains scripted readings. Each call to Sample consumes
	// the next entry; the last entry repeats once exhausted.
	Samples [][]float64

	// Errors, when set at the same index as a sample, is returned
	// instead of that sample.
	Errors []error

	index int
	calls int
}

// NewFake creates a Fake with the given samples.
func NewFake(samples ...[]float64) *Fake {
	return &Fake{Samples: samples}
}

// Sample returns the next scripted reading.
func (f *Fake) Sample(ctx context.Context) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if len(f.Samples) == 0 {
		return nil, errors.New("no samples configured")
	}

	i := f.index
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	if i < len(f.Errors) && f.Errors[i] != nil {
		return nil, f.Errors[i]
	}
	if len(f.Samples[i]) == 0 {
		return nil, ErrNoReadings
	}
	out := make([]float64, len(f.Samples[i]))
	copy(out, f.Samples[i])
	return out, nil
}

// Calls returns how many times Sample was called.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
