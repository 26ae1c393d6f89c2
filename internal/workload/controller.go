package workload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nettics/hswarden/internal/render"
)

// Handle is the capability the controller needs over the managed process.
// It is not owned data, only a way to restart and observe it.
type Handle interface {
	Restart(ctx context.Context) error
	Ready(ctx context.Context) error
	Running() bool
}

// AppliedStore persists the hash of the last configuration the managed
// process was successfully restarted with, and the hash of the last one it
// rejected.
type AppliedStore interface {
	LastApplied() (string, error)
	SetApplied(hash string) error
	LastRejected() (string, error)
	SetRejected(hash string) error
	ClearRejected() error
}

// Controller applies rendered configuration to the managed process.
type Controller struct {
	handle       Handle
	applied      AppliedStore
	configDir    string
	applyTimeout time.Duration
}

// NewController creates a controller writing artifacts into configDir.
func NewController(handle Handle, applied AppliedStore, configDir string, applyTimeout time.Duration) *Controller {
	return &Controller{
		handle:       handle,
		applied:      applied,
		configDir:    configDir,
		applyTimeout: applyTimeout,
	}
}

// Apply brings the managed process in line with the rendered configuration.
// An unchanged hash with a live process is a no-op; otherwise the artifacts
// are written atomically and the process restarted and health-checked.
// A config the process already rejected is not reapplied: the hash stays
// pinned until the desired state changes.
func (c *Controller) Apply(ctx context.Context, rc render.RenderedConfig) error {
	last, err := c.applied.LastApplied()
	if err != nil {
		return err
	}
	if last == rc.Hash && c.handle.Running() {
		log.Debug().Str("hash", rc.Hash).Msg("Config unchanged, skipping restart")
		return nil
	}

	rejected, err := c.applied.LastRejected()
	if err != nil {
		return err
	}
	if rejected != "" && rejected == rc.Hash {
		log.Debug().Str("hash", rc.Hash).Msg("Config unchanged since rejection, not reapplying")
		return fmt.Errorf("%w: config unchanged since last rejection", ErrRejected)
	}

	ctx, cancel := context.WithTimeout(ctx, c.applyTimeout)
	defer cancel()

	if err := c.writeArtifacts(rc); err != nil {
		return err
	}

	if err := c.handle.Restart(ctx); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.Join(ErrTimeout, err)
		}
		return err
	}

	if err := c.handle.Ready(ctx); err != nil {
		if errors.Is(err, ErrRejected) {
			if serr := c.applied.SetRejected(rc.Hash); serr != nil {
				log.Error().Err(serr).Msg("Failed to pin rejected config hash")
			}
		}
		return err
	}

	if err := c.applied.SetApplied(rc.Hash); err != nil {
		return err
	}
	if err := c.applied.ClearRejected(); err != nil {
		return err
	}

	log.Info().Str("hash", rc.Hash).Msg("Config applied")
	return nil
}

// writeArtifacts writes config and policy via temp-file rename so the
// managed process never observes a torn file.
func (c *Controller) writeArtifacts(rc render.RenderedConfig) error {
	if err := os.MkdirAll(c.configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	if err := atomicWrite(filepath.Join(c.configDir, render.ConfigFileName), rc.Config); err != nil {
		return err
	}

	policyPath := filepath.Join(c.configDir, render.PolicyFileName)
	if rc.Policy == nil {
		// No policy section desired: remove any stale policy file
		if err := os.Remove(policyPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale policy: %w", err)
		}
		return nil
	}
	return atomicWrite(policyPath, rc.Policy)
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}
