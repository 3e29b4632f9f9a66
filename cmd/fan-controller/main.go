// Command fan-controller drives BMC fan speeds from temperature thresholds
// and returns every host to automatic control on shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sweeney/fan-controller/internal/bmc"
	"github.com/sweeney/fan-controller/internal/config"
	"github.com/sweeney/fan-controller/internal/controller"
	"github.com/sweeney/fan-controller/internal/logger"
	"github.com/sweeney/fan-controller/internal/logic"
	"github.com/sweeney/fan-controller/internal/mqtt"
	"github.com/sweeney/fan-controller/internal/sensor"
	"github.com/sweeney/fan-controller/internal/status"
	"github.com/sweeney/fan-controller/internal/supervisor"
	"github.com/sweeney/fan-controller/internal/web"
)

func main() {
	fs := pflag.NewFlagSet("fan-controller", pflag.ExitOnError)
	config.BindFlags(fs)
	printTemps := fs.Bool("print-temps", false, "print current temperatures of every host and exit")
	fs.Parse(os.Args[1:])

	log := logger.New(startLevel(fs))
	defer log.Sync()

	path, _ := fs.GetString(config.FlagConfig)
	cfg, err := config.Load(path, fs, log.SugaredLogger)
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
	log.SetDebug(cfg.General.Debug)

	if *printTemps {
		if err := printTemperatures(context.Background(), os.Stdout, cfg); err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, log.SugaredLogger); err != nil {
		log.Errorf("fatal: %v", err)
		os.Exit(1)
	}
}

// startLevel lets --verbose surface config loading at debug before the file's
// general.debug setting is known.
func startLevel(fs *pflag.FlagSet) string {
	if verbose, _ := fs.GetBool(config.FlagVerbose); verbose {
		return logger.DebugLevel
	}
	return logger.InfoLevel
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	tracker := status.NewTracker(time.Now(), status.Config{
		IntervalMs: cfg.General.Interval.Milliseconds(),
		Broker:     cfg.MQTT.Broker,
		HTTPAddr:   cfg.HTTP.Addr,
	})

	var (
		publisher mqtt.Publisher
		conn      mqtt.ConnectionStatus
	)
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
		}, log.With("component", "mqtt"))
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		publisher, conn = p, p
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warnf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Infof("http status server listening on %s", cfg.HTTP.Addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	runners := newRunners(cfg, log, publisher, conn, tracker)
	return runDaemon(context.Background(), runners, publisher, conn, tracker, log, sigCh)
}

// runDaemon announces startup, supervises the controllers until a signal
// arrives and announces the shutdown once every host is back to automatic.
func runDaemon(ctx context.Context, runners []supervisor.Runner, publisher mqtt.Publisher, conn mqtt.ConnectionStatus, tracker *status.Tracker, log *zap.SugaredLogger, sig <-chan os.Signal) error {
	publishLifecycle(publisher, conn, tracker, log, "STARTUP", "")

	received, err := supervisor.New(log, runners...).Run(ctx, sig)

	publishLifecycle(publisher, conn, tracker, log, "SHUTDOWN", supervisor.SignalName(received))
	return err
}

func publishLifecycle(publisher mqtt.Publisher, conn mqtt.ConnectionStatus, tracker *status.Tracker, log *zap.SugaredLogger, event, reason string) {
	if publisher == nil {
		return
	}
	if conn != nil {
		tracker.SetMQTTConnected(conn.IsConnected())
	}
	snap := tracker.Snapshot()
	e := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := publisher.PublishSystem(e); err != nil {
		log.Warnf("failed to publish %s event: %v", strings.ToLower(event), err)
		return
	}
	log.Debugf("published %s event", strings.ToLower(event))
}

// newRunners builds one controller per configured host.
func newRunners(cfg *config.Config, log *zap.SugaredLogger, publisher mqtt.Publisher, conn mqtt.ConnectionStatus, tracker *status.Tracker) []supervisor.Runner {
	runners := make([]supervisor.Runner, 0, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		hlog := log.With("host", h.Name)
		opts := []controller.Option{controller.WithTracker(tracker)}
		if publisher != nil {
			opts = append(opts, controller.WithPublisher(publisher))
		}
		if conn != nil {
			opts = append(opts, controller.WithConnectionStatus(conn))
		}
		c := controller.New(h, cfg.General.Interval, newSource(h, cfg.General.CommandTimeout), newChannel(h, cfg.General.CommandTimeout, hlog), hlog, opts...)
		runners = append(runners, c)
	}
	return runners
}

// newSource selects the temperature source of a host by its type.
func newSource(h config.Host, timeout time.Duration) sensor.Source {
	if h.Type == config.HostRemote {
		return sensor.NewRemote(h.Remote.Command, timeout)
	}
	return sensor.NewLocal(h.SensorChip)
}

// newChannel selects the BMC transport of a host by its type.
func newChannel(h config.Host, timeout time.Duration, log *zap.SugaredLogger) bmc.Channel {
	if h.Type == config.HostRemote {
		r := h.Remote
		return bmc.NewRemote(r.Interface, r.Host, r.User, r.Pass, timeout, log)
	}
	return bmc.NewLocal(timeout, log)
}

// printTemperatures samples every host once and writes one line per host.
// Sampling failures are reported per host; the error covers the first one.
func printTemperatures(ctx context.Context, w io.Writer, cfg *config.Config) error {
	sources := make(map[string]sensor.Source, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		sources[h.Name] = newSource(h, cfg.General.CommandTimeout)
	}
	return writeTemperatures(ctx, w, cfg.Hosts, sources)
}

func writeTemperatures(ctx context.Context, w io.Writer, hosts []config.Host, sources map[string]sensor.Source) error {
	var first error
	for _, h := range hosts {
		readings, err := sources[h.Name].Sample(ctx)
		var avg int
		if err == nil {
			avg, err = logic.Average(readings)
		}
		if err != nil {
			fmt.Fprintf(w, "%s: error: %v\n", h.Name, err)
			if first == nil {
				first = fmt.Errorf("sample %s: %w", h.Name, err)
			}
			continue
		}
		parts := make([]string, len(readings))
		for i, r := range readings {
			parts[i] = fmt.Sprintf("%v", r)
		}
		fmt.Fprintf(w, "%s: %d°C [%s]\n", h.Name, avg, strings.Join(parts, ", "))
	}
	return first
}
