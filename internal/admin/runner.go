// Package admin drives the managed server's administrative CLI.
// Commands run on a channel independent of the reconciliation loop; the
// server itself serializes conflicting writes.
package admin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrTimeout means an admin command exceeded its bounded deadline.
// Interactive actions report it to the caller without auto-retry.
var ErrTimeout = errors.New("admin command timed out")

// Runner executes an admin command and returns its JSON stdout.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// CmdError carries the exit status and stderr of a failed command.
type CmdError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CmdError) Error() string {
	return fmt.Sprintf("headscale %v exited %d: %s", e.Args, e.ExitCode, e.Stderr)
}

// CLIRunner runs `headscale --output json ...` with a bounded timeout and a
// rate limit on the admin channel.
type CLIRunner struct {
	binary  string
	timeout time.Duration
	limiter *rate.Limiter
}

// NewCLIRunner creates a runner for the given binary.
func NewCLIRunner(binary string, timeout time.Duration, rateLimitRPS float64) *CLIRunner {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if rateLimitRPS == 0 {
		rateLimitRPS = 5.0
	}
	// A fractional rate must still admit one call; a zero burst would make
	// every Wait fail.
	burst := int(math.Ceil(rateLimitRPS))
	if burst < 1 {
		burst = 1
	}
	return &CLIRunner{
		binary:  binary,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(rateLimitRPS), burst),
	}
}

// Run executes one admin command. Deadline expiry maps to ErrTimeout,
// non-zero exits to *CmdError.
func (r *CLIRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	full := append([]string{"--output", "json"}, args...)
	cmd := exec.CommandContext(ctx, r.binary, full...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: headscale %v", ErrTimeout, args)
	}
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		cmdErr := &CmdError{Args: args, ExitCode: exitCode, Stderr: stderr.String()}
		log.Error().
			Strs("args", args).
			Int("exit_code", exitCode).
			Str("stderr", stderr.String()).
			Msg("Admin command failed")
		return stdout.Bytes(), cmdErr
	}

	return stdout.Bytes(), nil
}
