// Package reconcile runs the loop that keeps the managed server's
// configuration in sync with desired state.
package reconcile

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/nettics/hswarden/internal/ledger"
	"github.com/nettics/hswarden/internal/render"
	"github.com/nettics/hswarden/internal/state"
	"github.com/nettics/hswarden/internal/status"
)

// Source provides the desired-state snapshot for a pass.
type Source interface {
	Snapshot() (state.DesiredState, error)
}

// Applier applies a rendered config to the managed service.
type Applier interface {
	Apply(ctx context.Context, rc render.RenderedConfig) error
}

// StatusSink receives the outcome of every pass.
type StatusSink interface {
	Set(phase status.Phase, message, configHash string) error
}

// Options tunes the loop.
type Options struct {
	PeriodicInterval time.Duration
	MinRetryBackoff  time.Duration
	MaxRetryBackoff  time.Duration
	RetryMultiplier  float64
	MaxApplyRetries  int
}

func (o *Options) defaults() {
	if o.PeriodicInterval == 0 {
		o.PeriodicInterval = 5 * time.Minute
	}
	if o.MinRetryBackoff == 0 {
		o.MinRetryBackoff = time.Second
	}
	if o.MaxRetryBackoff == 0 {
		o.MaxRetryBackoff = time.Minute
	}
	if o.RetryMultiplier == 0 {
		o.RetryMultiplier = 2.0
	}
	if o.MaxApplyRetries == 0 {
		o.MaxApplyRetries = 5
	}
}

// Reconciler is the single logical worker processing reconciliation passes.
// Passes never run concurrently; overlapping triggers coalesce into one
// follow-up pass through the capacity-1 trigger channel.
type Reconciler struct {
	source  Source
	applier Applier
	status  StatusSink
	ledger  *ledger.Ledger
	opts    Options

	// onActive runs after a pass reaches Active (admin user bootstrap).
	onActive func(ctx context.Context)

	trigger   chan struct{}
	lastPhase status.Phase
}

// New creates a new Reconciler
func New(source Source, applier Applier, statusSink StatusSink, l *ledger.Ledger, opts Options) *Reconciler {
	opts.defaults()
	return &Reconciler{
		source:  source,
		applier: applier,
		status:  statusSink,
		ledger:  l,
		opts:    opts,
		trigger: make(chan struct{}, 1),
	}
}

// OnActive registers a hook that runs once a pass reaches Active.
func (r *Reconciler) OnActive(fn func(ctx context.Context)) {
	r.onActive = fn
}

// Trigger requests a reconciliation pass. Safe to call concurrently; a
// trigger while a pass is in flight coalesces into a single subsequent pass.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
		// Already triggered
	}
}

// Run starts the reconciliation loop. It blocks until the context is
// cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	log.Info().Dur("periodic_interval", r.opts.PeriodicInterval).Msg("Reconciler started")

	ticker := time.NewTicker(r.opts.PeriodicInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Reconciler stopping")
			return nil

		case <-r.trigger:
			r.pass(ctx)

		case <-ticker.C:
			r.pass(ctx)
		}
	}
}

// pass executes one reconciliation pass: snapshot, preconditions, render,
// apply with bounded backoff. Every exit path records a status.
func (r *Reconciler) pass(ctx context.Context) {
	snapshot, err := r.source.Snapshot()
	if err != nil {
		out := Classify(err)
		r.setStatus(out, "")
		return
	}

	if blocked, reason := CheckPreconditions(snapshot); blocked {
		r.setStatus(Outcome{Phase: status.PhaseBlocked, Message: reason}, "")
		return
	}

	rc, err := render.Render(snapshot)
	if err != nil {
		r.setStatus(Classify(err), "")
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.opts.MinRetryBackoff
	bo.MaxInterval = r.opts.MaxRetryBackoff
	bo.Multiplier = r.opts.RetryMultiplier

	var out Outcome
	for attempt := 1; ; attempt++ {
		err = r.applier.Apply(ctx, rc)
		out = Classify(err)
		r.setStatus(out, rc.Hash)

		if !out.Retry || attempt >= r.opts.MaxApplyRetries {
			break
		}

		wait := bo.NextBackOff()
		log.Debug().
			Int("attempt", attempt).
			Dur("backoff", wait).
			Str("message", out.Message).
			Msg("Apply failed, retrying")

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}

	if out.Phase == status.PhaseActive && r.onActive != nil {
		r.onActive(ctx)
	}
}

func (r *Reconciler) setStatus(out Outcome, configHash string) {
	if err := r.status.Set(out.Phase, out.Message, configHash); err != nil {
		log.Error().Err(err).Msg("Failed to record status")
	}

	if out.Phase != r.lastPhase {
		event := ledger.EventReconcilePass
		if out.Phase == status.PhaseBlocked {
			event = ledger.EventReconcileBlocked
		}
		if r.ledger != nil {
			if err := r.ledger.AppendWithSource(event, "", "reconciler", map[string]any{
				"phase":   string(out.Phase),
				"message": out.Message,
				"hash":    configHash,
			}); err != nil {
				log.Error().Err(err).Msg("Failed to append to ledger")
			}
		}

		logEvent := log.Info()
		if out.Phase == status.PhaseBlocked {
			logEvent = log.Warn()
		}
		logEvent.
			Str("phase", string(out.Phase)).
			Str("message", out.Message).
			Msg("Reconciliation phase changed")
	}
	r.lastPhase = out.Phase
}
