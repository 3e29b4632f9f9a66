package bmc

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

const waitDelay = time.Second

// IPMITool sends commands by running ipmitool.
type IPMITool struct {
	path    string
	target  []string // interface/host/credential arguments
	masked  []string // target with the password hidden, for logging
	timeout time.Duration
	log     *zap.SugaredLogger
}

// NewLocal returns a channel for the BMC of this machine, reached through
// the local IPMI device.
func NewLocal(timeout time.Duration, log *zap.SugaredLogger) *IPMITool {
	return &IPMITool{
		path:    "ipmitool",
		timeout: timeout,
		log:     log,
	}
}

// NewRemote returns a channel for a BMC reached over the network with the
// given IPMI interface (usually "lanplus").
func NewRemote(iface, host, user, pass string, timeout time.Duration, log *zap.SugaredLogger) *IPMITool {
	return &IPMITool{
		path:    "ipmitool",
		target:  []string{"-I", iface, "-H", host, "-U", user, "-P", pass},
		masked:  []string{"-I", iface, "-H", host, "-U", user, "-P", "****"},
		timeout: timeout,
		log:     log,
	}
}

// WithPath overrides the ipmitool executable.
func (t *IPMITool) WithPath(path string) *IPMITool {
	t.path = path
	return t
}

func (t *IPMITool) args(cmd Command) []string {
	args := make([]string, 0, len(t.target)+1+len(cmd))
	args = append(args, t.target...)
	args = append(args, "raw")
	return append(args, cmd.Args()...)
}

// display renders the command line without the password.
func (t *IPMITool) display(cmd Command) string {
	parts := append([]string{t.path}, t.masked...)
	return strings.Join(append(parts, cmd.String()), " ")
}

// Send runs ipmitool raw with the command bytes. A non-zero exit status or
// a timeout is returned as a *CommandError.
func (t *IPMITool) Send(ctx context.Context, cmd Command) error {
	timeout := t.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t.log.Debugw("command: "+t.display(cmd), "timeout", timeout)

	c := exec.CommandContext(ctx, t.path, t.args(cmd)...)
	c.WaitDelay = waitDelay
	out, err := c.CombinedOutput()
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = ErrTimeout
	}
	return &CommandError{Command: cmd, Output: strings.TrimSpace(string(out)), Err: err}
}
