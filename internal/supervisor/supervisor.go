// Package supervisor runs one controller per host and coordinates their
// shutdown.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner is a controller managed by the supervisor.
type Runner interface {
	Name() string
	// Run blocks until ctx is cancelled or Stop is called.
	Run(ctx context.Context) error
	// Stop ends Run and blocks until the runner is fully stopped. It is
	// safe to call before Run and more than once.
	Stop()
}

// Supervisor owns a set of runners.
type Supervisor struct {
	runners []Runner
	log     *zap.SugaredLogger
}

// New creates a supervisor for runners.
func New(log *zap.SugaredLogger, runners ...Runner) *Supervisor {
	return &Supervisor{runners: runners, log: log}
}

// Run starts every runner and blocks until a signal is received on sig,
// ctx is cancelled or a runner fails. Every runner is then stopped and
// joined before Run returns. The received signal is nil when Run ended
// for another reason.
func (s *Supervisor) Run(ctx context.Context, sig <-chan os.Signal) (os.Signal, error) {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range s.runners {
		g.Go(func() error {
			if err := r.Run(gctx); err != nil {
				return fmt.Errorf("%s: %w", r.Name(), err)
			}
			return nil
		})
	}
	s.log.Infof("started %d controller(s)", len(s.runners))

	var received os.Signal
	select {
	case received = <-sig:
		s.log.Infof("received %v, shutting down", received)
	case <-gctx.Done():
		s.log.Info("shutting down")
	}

	s.stopAll()
	return received, g.Wait()
}

// stopAll stops the runners concurrently and waits for all of them.
func (s *Supervisor) stopAll() {
	var wg sync.WaitGroup
	for _, r := range s.runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Stop()
			s.log.Debugw("controller stopped", "host", r.Name())
		}(r)
	}
	wg.Wait()
}

// SignalName returns the conventional name of a termination signal.
func SignalName(sig os.Signal) string {
	switch sig {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	case nil:
		return ""
	default:
		return "UNKNOWN"
	}
}
