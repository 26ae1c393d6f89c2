package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nettics/hswarden/internal/actions"
	"github.com/nettics/hswarden/internal/admin"
	"github.com/nettics/hswarden/internal/config"
	"github.com/nettics/hswarden/internal/db"
	"github.com/nettics/hswarden/internal/eventbus"
	"github.com/nettics/hswarden/internal/ledger"
	"github.com/nettics/hswarden/internal/reconcile"
	"github.com/nettics/hswarden/internal/route"
	"github.com/nettics/hswarden/internal/server"
	"github.com/nettics/hswarden/internal/state"
	"github.com/nettics/hswarden/internal/status"
	"github.com/nettics/hswarden/internal/storage"
	"github.com/nettics/hswarden/internal/workload"
)

// Services is a container for all warden services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB        *db.DB
	Resources *storage.Store
	Ledger    *ledger.Ledger

	// Desired state and status
	State  *state.Store
	Status *status.Store
	Bus    *eventbus.Bus

	// Managed workload
	Supervisor *workload.Supervisor
	Applied    *workload.AppliedState
	Controller *workload.Controller

	// Action system
	Admin      *admin.Client
	Registry   *actions.Registry
	Dispatcher *actions.Dispatcher

	// Loop and surfaces
	Reconciler *reconcile.Reconciler
	Route      *route.Integration
	Server     *server.Server
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Resources = storage.NewStore(database.DB)
	s.Ledger = ledger.New(database.DB)
	s.State = state.NewStore(s.Resources)
	s.Status = status.NewStore(s.Resources)
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	s.Supervisor = workload.NewSupervisor(cfg.Workload)
	s.Applied = workload.NewAppliedState(s.Resources)
	s.Controller = workload.NewController(
		s.Supervisor,
		s.Applied,
		cfg.Workload.ConfigDir,
		cfg.Workload.ApplyTimeout.Duration(),
	)

	runner := admin.NewCLIRunner(cfg.Workload.Binary, cfg.Admin.Timeout.Duration(), cfg.Admin.RateLimitRPS)
	s.Admin = admin.NewClient(runner, cfg.Admin.User)

	s.Registry = actions.NewRegistry()
	if err := actions.RegisterAuthKeyActions(s.Registry, s.Admin); err != nil {
		s.Close()
		return nil, err
	}
	s.Dispatcher = actions.NewDispatcher(s.Registry, s.Ledger)

	s.Reconciler = reconcile.New(s.State, s.Controller, s.Status, s.Ledger, reconcile.Options{
		PeriodicInterval: cfg.Reconciler.PeriodicInterval.Duration(),
		MinRetryBackoff:  cfg.Reconciler.MinRetryBackoff.Duration(),
		MaxRetryBackoff:  cfg.Reconciler.MaxRetryBackoff.Duration(),
		RetryMultiplier:  cfg.Reconciler.RetryMultiplier,
		MaxApplyRetries:  cfg.Reconciler.MaxApplyRetries,
	})
	s.Reconciler.OnActive(s.bootstrapAdminUser)

	s.Route = route.NewIntegration(s.State, s.Bus)

	s.Server = server.NewServer(cfg.Server.Host, cfg.Server.Port, &server.Handlers{
		State:       s.State,
		Status:      s.Status,
		Bus:         s.Bus,
		Dispatcher:  s.Dispatcher,
		Route:       s.Route,
		InternalURL: cfg.Route.InternalURL,
	})

	return s, nil
}

// Start starts all background services.
// The onFatalError callback is called when a fatal error occurs.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Any observed change is a reconciliation trigger
	s.Bus.SubscribeAll(func(eventbus.Event) {
		s.Reconciler.Trigger()
	})

	go func() {
		if err := s.Reconciler.Run(ctx); err != nil {
			onFatalError(err)
		}
	}()

	go s.runStorageProbe(ctx)
	go s.runLedgerCleanup(ctx)

	go func() {
		if err := s.Server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			onFatalError(err)
		}
	}()

	// Initial pass so a restart converges without waiting for an event
	s.Reconciler.Trigger()

	return nil
}

// runStorageProbe keeps the storage-readiness fact current. A flip to ready
// is the storage-attached event the loop waits for while Blocked.
func (s *Services) runStorageProbe(ctx context.Context) {
	probe := func() {
		ready := workload.StorageReady(s.cfg.Workload.DataDir)
		_, changed, err := s.State.UpdateFacts(func(f state.Facts) state.Facts {
			f.StorageReady = ready
			return f
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to update storage fact")
			return
		}
		if changed {
			log.Info().Bool("ready", ready).Msg("Storage readiness changed")
			s.Bus.Publish(eventbus.Event{
				Type: eventbus.EventTypeStorageAttached,
				Data: map[string]any{"ready": ready},
			})
		}
	}

	probe()

	ticker := time.NewTicker(s.cfg.Reconciler.StorageProbe.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}

// runLedgerCleanup enforces the ledger retention policy.
func (s *Services) runLedgerCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(s.cfg.Ledger.CleanupInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Ledger cleanup failed")
			} else if deleted > 0 {
				log.Debug().Int64("deleted", deleted).Msg("Ledger cleanup done")
			}
		}
	}
}

// bootstrapAdminUser creates the headscale user owning pre-auth keys once,
// after the first successful apply.
func (s *Services) bootstrapAdminUser(ctx context.Context) {
	done, err := s.Applied.Bootstrapped()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read bootstrap marker")
		return
	}
	if done {
		return
	}

	if err := s.Admin.EnsureUser(ctx, s.cfg.Admin.User); err != nil {
		log.Error().Err(err).Str("user", s.cfg.Admin.User).Msg("Failed to bootstrap admin user")
		return
	}
	if err := s.Applied.SetBootstrapped(); err != nil {
		log.Error().Err(err).Msg("Failed to record bootstrap marker")
		return
	}
	log.Info().Str("user", s.cfg.Admin.User).Msg("Admin user bootstrapped")
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	defer cancel()

	if s.Supervisor != nil {
		if err := s.Supervisor.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to stop managed process")
		}
	}
	if s.Bus != nil {
		s.Bus.Close(shutdownCtx)
	}

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.DB != nil {
		s.DB.Close()
	}
}
