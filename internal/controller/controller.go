// Package controller runs the per-host fan control loop: sample the
// temperatures, pick a speed from the thresholds and drive the BMC.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/fan-controller/internal/bmc"
	"github.com/sweeney/fan-controller/internal/config"
	"github.com/sweeney/fan-controller/internal/logic"
	"github.com/sweeney/fan-controller/internal/mqtt"
	"github.com/sweeney/fan-controller/internal/sensor"
	"github.com/sweeney/fan-controller/internal/status"
)

// ErrAlreadyStarted is returned by Run when the controller is already running.
var ErrAlreadyStarted = errors.New("controller already started")

// Event reasons.
const (
	ReasonThreshold = "threshold"
	ReasonFallback  = "fallback"
	ReasonShutdown  = "shutdown"
)

// Option configures a Controller.
type Option func(*Controller)

// WithPublisher publishes mode and speed changes.
func WithPublisher(p mqtt.Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithTracker reports host state after every iteration.
func WithTracker(t *status.Tracker) Option {
	return func(c *Controller) { c.tracker = t }
}

// WithConnectionStatus refreshes the tracker's MQTT state on every report.
func WithConnectionStatus(cs mqtt.ConnectionStatus) Option {
	return func(c *Controller) { c.conn = cs }
}

// WithClock replaces the wall clock and timers.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(c *Controller) {
		c.now = now
		c.after = after
	}
}

// WithSettleDelay overrides DefaultSettleDelay.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Controller) { c.settle = d }
}

// Controller drives the fans of one host.
type Controller struct {
	host      config.Host
	interval  time.Duration
	source    sensor.Source
	state     *State
	log       *zap.SugaredLogger
	publisher mqtt.Publisher
	tracker   *status.Tracker
	conn      mqtt.ConnectionStatus
	now       func() time.Time
	after     func(time.Duration) <-chan time.Time
	settle    time.Duration

	// Status fields, written by the loop goroutine only.
	readings   []float64
	band       int
	fallback   bool
	lastSample time.Time
	lastErr    error

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// New creates a controller for host. log should already carry the host name.
func New(host config.Host, interval time.Duration, source sensor.Source, channel bmc.Channel, log *zap.SugaredLogger, opts ...Option) *Controller {
	c := &Controller{
		host:     host,
		interval: interval,
		source:   source,
		log:      log,
		now:      time.Now,
		after:    time.After,
		settle:   DefaultSettleDelay,
		band:     -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state = NewState(channel, log, c.settle, c.after)
	return c
}

// Name returns the host name.
func (c *Controller) Name() string {
	return c.host.Name
}

// Run executes the control loop until ctx is cancelled or Stop is called,
// then returns the fans to automatic control. Run on a stopped controller
// returns nil immediately.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	defer close(c.done)
	defer cancel()

	for _, t := range c.host.Thresholds {
		c.log.Info(t.String())
	}
	c.report(true)

	for ctx.Err() == nil {
		c.iterate(ctx)
		select {
		case <-ctx.Done():
		case <-c.after(c.interval):
		}
	}

	// The final command must not inherit the cancellation.
	c.shutdown(context.WithoutCancel(ctx))
	return nil
}

// Stop ends the loop and blocks until the fans are back under automatic
// control. It may be called more than once, and before Run.
func (c *Controller) Stop() {
	c.mu.Lock()
	first := !c.stopped
	c.stopped = true
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		if first {
			c.shutdown(context.Background())
		}
		return
	}
	cancel()
	<-done
}

func (c *Controller) shutdown(ctx context.Context) {
	c.log.Info("stopping execution")
	before := c.state.Snapshot()
	if err := c.state.ForceAutomatic(ctx); err != nil {
		c.lastErr = err
	}
	c.fallback = false
	c.band = -1
	c.publishChanges(before, ReasonShutdown)
	c.report(false)
}

// iterate runs one sample, decide, actuate cycle.
func (c *Controller) iterate(ctx context.Context) {
	readings, err := c.source.Sample(ctx)
	if err == nil {
		var avg int
		if avg, err = logic.Average(readings); err == nil {
			c.actuate(ctx, readings, avg)
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	c.log.Warnw("failed to sample temperatures", "error", err)
	c.lastErr = err
	c.report(true)
}

func (c *Controller) actuate(ctx context.Context, readings []float64, avg int) {
	c.log.Infof("average temperature %d°C", avg)
	for i, r := range readings {
		c.log.Debugf("core %d => %v°C", i, r)
	}
	c.state.Observe(avg)
	c.readings = readings
	c.lastSample = c.now()

	before := c.state.Snapshot()
	d := logic.Decide(c.host.Thresholds, c.host.Hysteresis, avg, before.Speed, before.Mode)
	c.band = d.Band
	c.fallback = d.Fallback

	var err error
	reason := ReasonThreshold
	if d.Fallback {
		c.log.Warnf("fallback needed for %d°C", avg)
		err = c.state.SetMode(ctx, logic.ModeAutomatic)
		reason = ReasonFallback
	} else {
		err = c.state.SetSpeed(ctx, d.Speed)
	}
	c.lastErr = err

	c.publishChanges(before, reason)
	c.report(true)
}

// publishChanges emits one event per field that differs from before.
func (c *Controller) publishChanges(before Snapshot, reason string) {
	if c.publisher == nil {
		return
	}
	after := c.state.Snapshot()
	ts := c.now()

	var events []mqtt.Event
	if after.Mode != before.Mode {
		events = append(events, c.event(ts, mqtt.EventModeChange, after, reason))
	}
	if after.Speed != before.Speed && after.Mode == logic.ModeManual {
		events = append(events, c.event(ts, mqtt.EventSpeedChange, after, reason))
	}
	for _, e := range events {
		if err := c.publisher.Publish(e); err != nil {
			c.log.Warnw("failed to publish event", "event", e.Type, "error", err)
		}
	}
}

func (c *Controller) event(ts time.Time, typ mqtt.EventType, s Snapshot, reason string) mqtt.Event {
	e := mqtt.NewEvent(ts, c.host.Name, typ)
	e.Mode = s.Mode
	e.Speed = s.Speed
	e.Temperature = s.LastTemperature
	e.Reason = reason
	return e
}

func (c *Controller) report(running bool) {
	if c.tracker == nil {
		return
	}
	s := c.state.Snapshot()
	hs := status.HostStatus{
		Name:        c.host.Name,
		Type:        string(c.host.Type),
		Running:     running,
		Mode:        s.Mode,
		Speed:       s.Speed,
		Temperature: s.LastTemperature,
		Readings:    c.readings,
		Band:        c.band,
		Fallback:    c.fallback,
		LastSample:  c.lastSample,
	}
	if c.lastErr != nil {
		hs.LastError = c.lastErr.Error()
	}
	c.tracker.Update(hs)
	if c.conn != nil {
		c.tracker.SetMQTTConnected(c.conn.IsConnected())
	}
}
