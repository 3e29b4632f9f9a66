package controller

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/fan-controller/internal/bmc"
	"github.com/sweeney/fan-controller/internal/logic"
)

// DefaultSettleDelay is how long the BMC is given to enter manual mode
// before it accepts a speed.
const DefaultSettleDelay = time.Second

// Snapshot is a copy of the control state.
type Snapshot struct {
	LastTemperature int // -1 before the first sample
	Speed           int // last commanded speed, 0 when unknown
	Mode            logic.Mode
}

// State tracks the fan mode and speed of one host and issues the BMC
// commands needed to change them. It is owned by a single goroutine.
type State struct {
	channel bmc.Channel
	log     *zap.SugaredLogger
	settle  time.Duration
	after   func(time.Duration) <-chan time.Time

	lastTemperature int
	speed           int
	mode            logic.Mode
}

// NewState returns the state of a host whose fans are assumed to run
// under firmware control at full speed.
func NewState(channel bmc.Channel, log *zap.SugaredLogger, settle time.Duration, after func(time.Duration) <-chan time.Time) *State {
	if after == nil {
		after = time.After
	}
	return &State{
		channel:         channel,
		log:             log,
		settle:          settle,
		after:           after,
		lastTemperature: -1,
		speed:           logic.MaxSpeed,
		mode:            logic.ModeAutomatic,
	}
}

// Snapshot returns the current state.
func (s *State) Snapshot() Snapshot {
	return Snapshot{LastTemperature: s.lastTemperature, Speed: s.speed, Mode: s.mode}
}

// Observe records the latest average temperature.
func (s *State) Observe(average int) {
	s.lastTemperature = average
}

// SetMode switches the fan mode. Nothing is sent when the mode is already
// active. The mode is recorded even if the command fails.
func (s *State) SetMode(ctx context.Context, mode logic.Mode) error {
	if s.mode == mode {
		return nil
	}
	return s.setMode(ctx, mode)
}

// ForceAutomatic sends enable-automatic whatever the recorded mode.
func (s *State) ForceAutomatic(ctx context.Context) error {
	return s.setMode(ctx, logic.ModeAutomatic)
}

func (s *State) setMode(ctx context.Context, mode logic.Mode) error {
	s.log.Infof("setting fan mode to %s", mode)

	cmd := bmc.EnableManual
	if mode == logic.ModeAutomatic {
		cmd = bmc.EnableAutomatic
	}
	err := s.channel.Send(ctx, cmd)
	if err != nil {
		s.log.Warnw("failed to set fan mode", "mode", mode, "error", err)
	} else if mode == logic.ModeAutomatic {
		s.speed = 0
	}
	s.mode = mode
	return err
}

// SetSpeed commands pct percent, switching to manual mode first when
// needed. The speed is recorded even if the command fails.
func (s *State) SetSpeed(ctx context.Context, pct int) error {
	var modeErr error
	if s.mode != logic.ModeManual {
		modeErr = s.setMode(ctx, logic.ModeManual)
		select {
		case <-s.after(s.settle):
		case <-ctx.Done():
			return errors.Join(modeErr, ctx.Err())
		}
	}

	if pct == s.speed {
		return modeErr
	}

	s.log.Infof("setting fan speed to %d%%", pct)
	err := s.channel.Send(ctx, bmc.SetSpeed(pct))
	if err != nil {
		s.log.Warnw("failed to set fan speed", "speed", pct, "error", err)
	}
	s.speed = pct
	return errors.Join(modeErr, err)
}
