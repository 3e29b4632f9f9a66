// Package logic contains the pure fan-control decision logic.
// This package has NO external dependencies (no IPMI, sensors, OS, or time.Sleep).
package logic

import "fmt"

// Mode is the fan control mode of a BMC.
type Mode string

const (
	ModeAutomatic Mode = "automatic"
	ModeManual    Mode = "manual"
)

// Speed limits accepted by the BMC, in percent.
const (
	MinSpeed = 5
	MaxSpeed = 100
)

// Threshold is the upper edge of a temperature band and the fan speed
// used while the average temperature sits inside that band.
type Threshold struct {
	Temperature float64 // °C, inclusive upper bound
	Speed       int     // percent, MinSpeed..MaxSpeed
}

func (t Threshold) String() string {
	return fmt.Sprintf("threshold of %g°C => %d%%", t.Temperature, t.Speed)
}

// Decision is the outcome of one decision pass.
type Decision struct {
	// Band is the index of the matching threshold, -1 on fallback.
	Band int
	// Speed is the selected speed. Zero on fallback.
	Speed int
	// Fallback is set when no band matched; the fan must go back to
	// automatic control and no speed is sent.
	Fallback bool
}
