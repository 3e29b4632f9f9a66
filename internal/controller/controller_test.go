package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/sweeney/fan-controller/internal/bmc"
	"github.com/sweeney/fan-controller/internal/config"
	"github.com/sweeney/fan-controller/internal/logic"
	"github.com/sweeney/fan-controller/internal/mqtt"
	"github.com/sweeney/fan-controller/internal/sensor"
	"github.com/sweeney/fan-controller/internal/status"
)

var testHost = config.Host{
	Name:       "nas",
	Type:       config.HostRemote,
	Hysteresis: 5,
	Thresholds: []logic.Threshold{
		{Temperature: 40, Speed: 20},
		{Temperature: 60, Speed: 50},
		{Temperature: 80, Speed: 100},
	},
}

// fakeClock hands out ready channels for the settle delay and blocks
// interval waits until the test ticks.
type fakeClock struct {
	now     time.Time
	waiting chan time.Duration
	ticks   chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		waiting: make(chan time.Duration, 16),
		ticks:   make(chan time.Time),
	}
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	if d == 0 {
		ch := make(chan time.Time, 1)
		ch <- f.now
		return ch
	}
	f.waiting <- d
	return f.ticks
}

type harness struct {
	c       *Controller
	source  *sensor.Fake
	channel *bmc.Fake
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	clock   *fakeClock
}

func newHarness(t *testing.T, host config.Host, samples ...[]float64) (*harness, *observedLogs) {
	t.Helper()
	log, logs := newObservedLogger()
	h := &harness{
		source:  sensor.NewFake(samples...),
		channel: bmc.NewFake(),
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(time.Now(), status.Config{}),
		clock:   newFakeClock(),
	}
	h.c = New(host, 30*time.Second, h.source, h.channel, log,
		WithPublisher(h.pub),
		WithConnectionStatus(h.pub),
		WithTracker(h.tracker),
		WithClock(h.clock.Now, h.clock.After),
		WithSettleDelay(0),
	)
	return h, &observedLogs{logs}
}

func TestIterateScenarioAlreadyInBand(t *testing.T) {
	h, _ := newHarness(t, testHost, []float64{58})
	ctx := context.Background()
	h.c.state.SetSpeed(ctx, 50)
	h.channel.Reset()

	h.c.iterate(ctx)

	assertCommands(t, h.channel.Commands())
	if h.c.band != 1 {
		t.Errorf("band: got %d, want 1", h.c.band)
	}
	if len(h.pub.Events) != 0 {
		t.Errorf("expected no events, got %v", h.pub.Events)
	}
}

func TestIterateScenarioFallback(t *testing.T) {
	h, logs := newHarness(t, testHost, []float64{95})
	ctx := context.Background()
	h.c.state.SetSpeed(ctx, 100)
	h.channel.Reset()

	h.c.iterate(ctx)

	assertCommands(t, h.channel.Commands(), bmc.EnableAutomatic)
	if h.c.state.Snapshot().Mode != logic.ModeAutomatic {
		t.Error("expected automatic mode after fallback")
	}
	if !logs.has("fallback needed for 95°C") {
		t.Error("expected fallback warning")
	}

	events := h.pub.EventsFor("nas")
	if len(events) != 1 || events[0].Type != mqtt.EventModeChange || events[0].Reason != ReasonFallback {
		t.Errorf("expected one fallback MODE_CHANGE event, got %+v", events)
	}

	hs, _ := h.tracker.Snapshot().Host("nas")
	if !hs.Fallback || hs.Band != -1 || hs.Temperature != 95 {
		t.Errorf("unexpected status: %+v", hs)
	}
}

func TestIterateFallbackWhileAutomaticSendsNothing(t *testing.T) {
	h, _ := newHarness(t, testHost, []float64{95})
	h.c.iterate(context.Background())
	assertCommands(t, h.channel.Commands())
}

func TestIterateRemoteReadings(t *testing.T) {
	h, logs := newHarness(t, testHost, []float64{41.0, 43.5})

	h.c.iterate(context.Background())

	if !logs.has("average temperature 42°C") {
		t.Error("expected average log")
	}
	if !logs.has("core 0 => 41°C") || !logs.has("core 1 => 43.5°C") {
		t.Error("expected per-reading debug logs")
	}
	// 42 from automatic: band (60,50) needs 42 <= 55.
	assertCommands(t, h.channel.Commands(), bmc.EnableManual, bmc.SetSpeed(50))

	hs, _ := h.tracker.Snapshot().Host("nas")
	if len(hs.Readings) != 2 || hs.Readings[1] != 43.5 {
		t.Errorf("readings: got %v", hs.Readings)
	}
	if !hs.LastSample.Equal(h.clock.now) {
		t.Errorf("LastSample: got %v", hs.LastSample)
	}
}

func TestIteratePublishesTransitions(t *testing.T) {
	h, _ := newHarness(t, testHost, []float64{50})

	h.c.iterate(context.Background())

	events := h.pub.EventsFor("nas")
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != mqtt.EventModeChange || events[0].Mode != logic.ModeManual {
		t.Errorf("event 0: got %+v", events[0])
	}
	if events[1].Type != mqtt.EventSpeedChange || events[1].Speed != 50 || events[1].Temperature != 50 {
		t.Errorf("event 1: got %+v", events[1])
	}
	if events[0].ID == events[1].ID {
		t.Error("events share an ID")
	}
	if !events[0].Timestamp.Equal(h.clock.now) {
		t.Errorf("timestamp: got %v", events[0].Timestamp)
	}
}

func TestIterateSampleErrorSkipsActuation(t *testing.T) {
	h, logs := newHarness(t, testHost, []float64{50}, []float64{50})
	h.source.Errors = []error{errors.New("exit status 1")}

	h.c.iterate(context.Background())

	assertCommands(t, h.channel.Commands())
	if !logs.hasAt("failed to sample temperatures", zapcore.WarnLevel) {
		t.Error("expected sampling failure logged as a warning")
	}
	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 0 {
		t.Error("recovered failures must not be logged at error level")
	}
	hs, _ := h.tracker.Snapshot().Host("nas")
	if hs.LastError != "exit status 1" {
		t.Errorf("LastError: got %q", hs.LastError)
	}

	// The next cycle recovers and clears the error.
	h.c.iterate(context.Background())
	assertCommands(t, h.channel.Commands(), bmc.EnableManual, bmc.SetSpeed(50))
	hs, _ = h.tracker.Snapshot().Host("nas")
	if hs.LastError != "" {
		t.Errorf("LastError not cleared: %q", hs.LastError)
	}
}

func TestIterateEmptySampleSkipsActuation(t *testing.T) {
	h, _ := newHarness(t, testHost, []float64{})
	h.c.iterate(context.Background())
	assertCommands(t, h.channel.Commands())
}

func TestIterateCommandFailureDoesNotStopLoop(t *testing.T) {
	h, _ := newHarness(t, testHost, []float64{50}, []float64{70})
	h.channel.SendError = errors.New("ipmitool: exit status 1")

	h.c.iterate(context.Background())
	h.c.iterate(context.Background())

	if h.c.state.Snapshot().Speed != 100 {
		t.Errorf("speed should follow the last attempt, got %d", h.c.state.Snapshot().Speed)
	}
	hs, _ := h.tracker.Snapshot().Host("nas")
	if hs.LastError == "" {
		t.Error("expected command failure in status")
	}
}

func TestIterateHysteresisSequence(t *testing.T) {
	h, _ := newHarness(t, testHost,
		[]float64{70}, // band 2
		[]float64{54}, // band 1, under 60-5
		[]float64{58}, // stays in band 1
		[]float64{33}, // band 0, under 40-5
	)
	ctx := context.Background()

	wantSpeeds := []int{100, 50, 50, 20}
	for i, want := range wantSpeeds {
		h.c.iterate(ctx)
		if got := h.c.state.Snapshot().Speed; got != want {
			t.Errorf("iteration %d: speed %d, want %d", i, got, want)
		}
	}
	if n := h.channel.Count(bmc.SetSpeed(50)); n != 1 {
		t.Errorf("expected one 50%% command, got %d", n)
	}
}

func TestIterateHysteresisHoldsSpeed(t *testing.T) {
	h, _ := newHarness(t, testHost, []float64{50}, []float64{38})
	ctx := context.Background()

	h.c.iterate(ctx) // 50%
	h.c.iterate(ctx) // 38 is not under 40-5 while at 50%: fallback

	if h.c.state.Snapshot().Mode != logic.ModeAutomatic {
		t.Error("expected fallback to automatic when hysteresis blocks every band")
	}
	if h.channel.Count(bmc.SetSpeed(20)) != 0 {
		t.Error("lower band must not be selected above threshold-hysteresis")
	}
}

func TestRunLogsThresholdsAndStops(t *testing.T) {
	h, logs := newHarness(t, testHost, []float64{50}, []float64{70})

	errc := make(chan error, 1)
	go func() { errc <- h.c.Run(context.Background()) }()

	if d := <-h.clock.waiting; d != 30*time.Second {
		t.Errorf("interval wait: got %v, want 30s", d)
	}
	h.clock.ticks <- h.clock.now
	<-h.clock.waiting

	h.c.Stop()
	if err := <-errc; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	for _, th := range testHost.Thresholds {
		if !logs.has(th.String()) {
			t.Errorf("missing threshold log %q", th.String())
		}
	}
	if !logs.has("stopping execution") {
		t.Error("expected stop log")
	}
	if h.source.Calls() != 2 {
		t.Errorf("expected 2 samples, got %d", h.source.Calls())
	}

	cmds := h.channel.Commands()
	assertCommands(t, cmds,
		bmc.EnableManual, bmc.SetSpeed(50),
		bmc.SetSpeed(100),
		bmc.EnableAutomatic,
	)

	hs, _ := h.tracker.Snapshot().Host("nas")
	if hs.Running || hs.Mode != logic.ModeAutomatic {
		t.Errorf("unexpected final status: %+v", hs)
	}

	events := h.pub.EventsFor("nas")
	last := events[len(events)-1]
	if last.Type != mqtt.EventModeChange || last.Reason != ReasonShutdown {
		t.Errorf("expected shutdown MODE_CHANGE last, got %+v", last)
	}
}

func TestStopAlwaysLeavesAutomatic(t *testing.T) {
	for _, temp := range []float64{50, 95} {
		h, _ := newHarness(t, testHost, []float64{temp})

		errc := make(chan error, 1)
		go func() { errc <- h.c.Run(context.Background()) }()
		<-h.clock.waiting

		h.c.Stop()
		<-errc

		cmds := h.channel.Commands()
		if len(cmds) == 0 || !cmds[len(cmds)-1].Equal(bmc.EnableAutomatic) {
			t.Errorf("temp=%v: last command should enable automatic, got %v", temp, cmds)
		}
		if h.c.state.Snapshot().Mode != logic.ModeAutomatic {
			t.Errorf("temp=%v: mode %s after stop", temp, h.c.state.Snapshot().Mode)
		}
	}
}

func TestStopFinalCommandFailureIsTolerated(t *testing.T) {
	h, logs := newHarness(t, testHost, []float64{50})

	errc := make(chan error, 1)
	go func() { errc <- h.c.Run(context.Background()) }()
	<-h.clock.waiting

	h.channel.FailOn = bmc.EnableAutomatic
	h.c.Stop()
	if err := <-errc; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if h.c.state.Snapshot().Mode != logic.ModeAutomatic {
		t.Error("mode should be automatic even when the command fails")
	}
	if !logs.has("failed to set fan mode") {
		t.Error("expected failure log")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h, _ := newHarness(t, testHost, []float64{50})
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- h.c.Run(ctx) }()
	<-h.clock.waiting

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	cmds := h.channel.Commands()
	if !cmds[len(cmds)-1].Equal(bmc.EnableAutomatic) {
		t.Errorf("expected enable-automatic on cancel, got %v", cmds)
	}
}

func TestStopBeforeRun(t *testing.T) {
	h, _ := newHarness(t, testHost, []float64{50})

	h.c.Stop()
	assertCommands(t, h.channel.Commands(), bmc.EnableAutomatic)

	if err := h.c.Run(context.Background()); err != nil {
		t.Fatalf("Run after Stop returned %v", err)
	}
	if h.source.Calls() != 0 {
		t.Errorf("Run after Stop sampled %d times", h.source.Calls())
	}
}

func TestStopIdempotent(t *testing.T) {
	h, _ := newHarness(t, testHost, []float64{50})

	errc := make(chan error, 1)
	go func() { errc <- h.c.Run(context.Background()) }()
	<-h.clock.waiting

	h.c.Stop()
	h.c.Stop()
	<-errc

	if n := h.channel.Count(bmc.EnableAutomatic); n != 1 {
		t.Errorf("expected one enable-automatic, got %d", n)
	}
}

func TestRunTwice(t *testing.T) {
	h, _ := newHarness(t, testHost, []float64{50})

	errc := make(chan error, 1)
	go func() { errc <- h.c.Run(context.Background()) }()
	<-h.clock.waiting

	if err := h.c.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
	h.c.Stop()
	<-errc
}

func TestWithoutOptionalCollaborators(t *testing.T) {
	log, _ := newObservedLogger()
	ch := bmc.NewFake()
	c := New(testHost, time.Second, sensor.NewFake([]float64{95}), ch, log, WithSettleDelay(0))

	c.iterate(context.Background())
	c.Stop()
	assertCommands(t, ch.Commands(), bmc.EnableAutomatic)
	if c.Name() != "nas" {
		t.Errorf("Name: got %q", c.Name())
	}
}

func TestIterateCommandFailureLoggedAsWarning(t *testing.T) {
	h, logs := newHarness(t, testHost, []float64{50})
	h.channel.SendError = errors.New("ipmitool: exit status 1")

	h.c.iterate(context.Background())

	if !logs.hasAt("failed to set fan mode", zapcore.WarnLevel) {
		t.Error("expected mode failure logged as a warning")
	}
	if !logs.hasAt("failed to set fan speed", zapcore.WarnLevel) {
		t.Error("expected speed failure logged as a warning")
	}
	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 0 {
		t.Error("recovered failures must not be logged at error level")
	}
}

func TestReportRefreshesMQTTConnection(t *testing.T) {
	h, _ := newHarness(t, testHost, []float64{50})
	ctx := context.Background()

	h.pub.SetConnected(true)
	h.c.iterate(ctx)
	if !h.tracker.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	h.pub.SetConnected(false)
	h.c.iterate(ctx)
	if h.tracker.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false after disconnect")
	}
}
