// Package workload supervises the managed headscale process and applies
// rendered configuration to it.
package workload

import (
	"context"
	"errors"
	"net/http"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nettics/hswarden/internal/config"
)

// Error taxonomy for the apply path.
var (
	// ErrUnreachable means the managed process could not be signaled or
	// started. Transient: the reconciler retries with backoff.
	ErrUnreachable = errors.New("workload unreachable")

	// ErrRejected means the managed process refused the new configuration
	// (exited or failed readiness right after a restart). Surfaced to the
	// operator, not retried until desired state changes.
	ErrRejected = errors.New("workload rejected config")

	// ErrTimeout means a bounded apply or readiness wait expired while the
	// process kept running. Transient.
	ErrTimeout = errors.New("workload operation timed out")
)

// Supervisor manages headscale as a child process.
type Supervisor struct {
	cfg        config.WorkloadConfig
	httpClient *http.Client

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{} // closed when the current process exits
}

// NewSupervisor creates a process supervisor. The process is not started
// until the first Restart.
func NewSupervisor(cfg config.WorkloadConfig) *Supervisor {
	return &Supervisor{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.ReadyInterval.Duration(),
		},
	}
}

// Running reports whether a managed process is currently alive.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running()
}

func (s *Supervisor) running() bool {
	if s.cmd == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Restart stops the current process (if any) and starts a fresh one with the
// current on-disk configuration. Failure to start is ErrUnreachable.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running() {
		if err := s.stop(ctx); err != nil {
			return err
		}
	}

	cmd := exec.Command(s.cfg.Binary, "serve", "--config", filepath.Join(s.cfg.ConfigDir, "config.yaml"))
	if err := cmd.Start(); err != nil {
		return errors.Join(ErrUnreachable, err)
	}

	done := make(chan struct{})
	go func() {
		err := cmd.Wait()
		close(done)
		if err != nil {
			log.Warn().Err(err).Msg("Managed process exited")
		} else {
			log.Info().Msg("Managed process exited cleanly")
		}
	}()

	s.cmd = cmd
	s.done = done

	log.Info().Str("binary", s.cfg.Binary).Int("pid", cmd.Process.Pid).Msg("Managed process started")
	return nil
}

// Stop terminates the managed process with SIGTERM, escalating to SIGKILL
// after the configured grace period. Stopping a stopped process is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running() {
		return nil
	}
	return s.stop(ctx)
}

// stop must be called with the mutex held.
func (s *Supervisor) stop(ctx context.Context) error {
	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-time.After(s.cfg.StopTimeout.Duration()):
		log.Warn().Msg("Managed process did not stop in time, killing")
		_ = s.cmd.Process.Kill()
		<-s.done
		return nil
	case <-ctx.Done():
		_ = s.cmd.Process.Kill()
		return ctx.Err()
	}
}

// Ready waits until the managed server answers its health endpoint.
// A process exit during the wait means the config was rejected; an expired
// wait with the process still running is a timeout.
func (s *Supervisor) Ready(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.ReadyTimeout.Duration())
	ticker := time.NewTicker(s.cfg.ReadyInterval.Duration())
	defer ticker.Stop()

	for {
		s.mu.Lock()
		alive := s.running()
		done := s.done
		s.mu.Unlock()

		if !alive {
			return ErrRejected
		}

		if s.healthy(ctx) {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrTimeout
		}

		select {
		case <-ctx.Done():
			return errors.Join(ErrTimeout, ctx.Err())
		case <-done:
			return ErrRejected
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.HealthURL, nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
