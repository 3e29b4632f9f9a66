package sensor

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// Local reads temperature inputs from the hwmon chips of this machine.
type Local struct {
	chip string
	read func(ctx context.Context) ([]host.TemperatureStat, error)
}

// NewLocal returns a source keeping the inputs of chips whose name starts
// with chip, e.g. "coretemp" for Intel CPU cores.
func NewLocal(chip string) *Local {
	return &Local{
		chip: strings.ToLower(chip),
		read: host.SensorsTemperaturesWithContext,
	}
}

// Sample returns one reading per matching temperature input.
func (l *Local) Sample(ctx context.Context) ([]float64, error) {
	stats, err := l.read(ctx)
	if err != nil && len(stats) == 0 {
		return nil, fmt.Errorf("read hwmon sensors: %w", err)
	}
	// A partial read still carries the inputs that could be read.

	var temps []float64
	for _, s := range stats {
		if strings.HasPrefix(strings.ToLower(s.SensorKey), l.chip) {
			temps = append(temps, s.Temperature)
		}
	}
	if len(temps) == 0 {
		return nil, fmt.Errorf("%s: %w", l.chip, ErrNoSensors)
	}
	return temps, nil
}
