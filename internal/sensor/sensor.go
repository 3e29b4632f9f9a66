// Package sensor provides temperature sampling with hardware abstraction.
// The local implementation reads hwmon chips on this machine.
// The remote implementation runs a configured command and parses its output.
// The fake implementation allows testing without hardware.
package sensor

import (
	"context"
	"errors"
	"fmt"

	"github.com/sweeney/fan-controller/internal/logic"
)

// Source produces the temperature readings of one host.
type Source interface {
	// Sample returns one reading per sensor input, in °C.
	// The slice is never empty when err is nil.
	Sample(ctx context.Context) ([]float64, error)
}

var (
	// ErrNoSensors is returned when no compatible sensor chip is present.
	ErrNoSensors = errors.New("no compatible sensor detected")

	// ErrNoReadings is returned when a source produced no values. It is
	// the same error logic.Average reports for an empty slice.
	ErrNoReadings = logic.ErrNoReadings
)

// ParseError reports a line of remote output that is not a number.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: cannot parse %q as temperature: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
