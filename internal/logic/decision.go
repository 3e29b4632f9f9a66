package logic

import (
	"errors"
	"math"
)

// ErrNoReadings is returned when an average is requested over zero readings.
var ErrNoReadings = errors.New("no temperature readings")

// Average returns the mean of the readings rounded to the nearest integer,
// halves to even.
func Average(readings []float64) (int, error) {
	if len(readings) == 0 {
		return 0, ErrNoReadings
	}
	var sum float64
	for _, r := range readings {
		sum += r
	}
	return int(math.RoundToEven(sum / float64(len(readings)))), nil
}

// Decide maps an average temperature onto the ascending thresholds.
//
// Bands are (previous threshold, threshold]. With a non-zero hysteresis, a
// band whose speed is below the current speed (or any band while the fan
// is under automatic control) is only entered once the average has dropped
// to threshold - hysteresis. An average exactly on a threshold always
// selects that band. When no band matches the decision is a fallback.
func Decide(thresholds []Threshold, hysteresis float64, average int, speed int, mode Mode) Decision {
	avg := float64(average)
	prev := 0.0
	for i, t := range thresholds {
		hysteresisOK := true
		if hysteresis != 0 && (speed > t.Speed || mode == ModeAutomatic) {
			hysteresisOK = avg <= t.Temperature-hysteresis
		}

		if (prev < avg && avg <= t.Temperature && hysteresisOK) || avg == t.Temperature {
			return Decision{Band: i, Speed: t.Speed}
		}
		prev = t.Temperature
	}
	return Decision{Band: -1, Fallback: true}
}

// ClampSpeed bounds a speed to MinSpeed..MaxSpeed.
func ClampSpeed(speed int) int {
	if speed < MinSpeed {
		return MinSpeed
	}
	if speed > MaxSpeed {
		return MaxSpeed
	}
	return speed
}
