// Package bmc sends raw fan-control commands to a baseboard management
// controller. The real implementation shells out to ipmitool; the fake
// implementation records commands for tests.
package bmc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout bounds a single command send.
const DefaultTimeout = 15 * time.Second

// Command is a raw IPMI request: network function, command and data bytes.
type Command []byte

var (
	// EnableManual hands fan control to the host.
	EnableManual = Command{0x30, 0x30, 0x01, 0x00}

	// EnableAutomatic returns fan control to the BMC firmware.
	EnableAutomatic = Command{0x30, 0x30, 0x01, 0x01}
)

// SetSpeed returns the command setting every fan to pct percent duty cycle.
func SetSpeed(pct int) Command {
	return Command{0x30, 0x30, 0x02, 0xff, byte(pct)}
}

// Args formats the command as ipmitool raw arguments, e.g. "0x30".
func (c Command) Args() []string {
	args := make([]string, len(c))
	for i, b := range c {
		args[i] = fmt.Sprintf("0x%02x", b)
	}
	return args
}

func (c Command) String() string {
	return "raw " + strings.Join(c.Args(), " ")
}

// Equal reports whether two commands carry the same bytes.
func (c Command) Equal(o Command) bool {
	if len(c) != len(o) {
		return false
	}
	for i := range c {
		if c[i] != o[i] {
			return false
		}
	}
	return true
}

// Channel sends raw commands to one BMC.
type Channel interface {
	// Send delivers cmd. A non-nil error means the BMC may not have
	// applied it; callers log and carry on.
	Send(ctx context.Context, cmd Command) error
}

// ErrTimeout is wrapped by CommandError when a send exceeds its timeout.
var ErrTimeout = errors.New("command timed out")

// CommandError reports a failed send.
type CommandError struct {
	Command Command
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, e.Output)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
