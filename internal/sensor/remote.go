package sensor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const waitDelay = time.Second

// Remote runs a shell command that prints one temperature per line.
type Remote struct {
	command string
	shell   string
	timeout time.Duration
}

// NewRemote returns a source running command through /bin/sh, killed
// after timeout.
func NewRemote(command string, timeout time.Duration) *Remote {
	return &Remote{
		command: command,
		shell:   "/bin/sh",
		timeout: timeout,
	}
}

// Sample runs the command and parses its standard output.
func (r *Remote) Sample(ctx context.Context) ([]float64, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.shell, "-c", r.command)
	// Children of the shell may hold stdout open after it is killed.
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("sample command timed out after %v", r.timeout)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("sample command: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("sample command: %w", err)
	}
	return ParseReadings(stdout.String())
}

// ParseReadings parses newline separated temperatures. Surrounding
// whitespace is ignored; any other blank or non-numeric line is an error.
func ParseReadings(output string) ([]float64, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil, ErrNoReadings
	}

	lines := strings.Split(output, "\n")
	temps := make([]float64, 0, len(lines))
	for i, line := range lines {
		text := strings.TrimSpace(line)
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, &ParseError{Line: i + 1, Text: text, Err: err}
		}
		temps = append(temps, v)
	}
	return temps, nil
}
