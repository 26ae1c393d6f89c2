package actions

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nettics/hswarden/internal/ledger"
)

// Dispatcher executes actions synchronously and records every invocation in
// the ledger. It holds no state between calls; concurrent dispatches are
// safe and may overlap reconciliation passes.
type Dispatcher struct {
	registry *Registry
	ledger   *ledger.Ledger
}

// NewDispatcher creates a new action dispatcher
func NewDispatcher(registry *Registry, l *ledger.Ledger) *Dispatcher {
	return &Dispatcher{registry: registry, ledger: l}
}

// HasAction checks if an action is registered
func (d *Dispatcher) HasAction(name string) bool {
	_, exists := d.registry.Get(name)
	return exists
}

// Dispatch runs the named action. The returned Result is always non-nil;
// the error (when set) classifies the failure for the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) (*Result, error) {
	action, exists := d.registry.Get(name)
	if !exists {
		return &Result{Success: false, Message: fmt.Sprintf("action %q not found", name)},
			fmt.Errorf("%w: action %q", ErrNotFound, name)
	}

	invocationID := uuid.NewString()

	d.appendLedger(ledger.EventActionStarted, invocationID, map[string]any{
		"action": name,
		"args":   args,
	})

	log.Debug().
		Str("action", name).
		Str("invocation_id", invocationID).
		Interface("args", args).
		Msg("Executing action")

	result, err := action.Execute(ctx, args)
	if err != nil {
		d.appendLedger(ledger.EventActionFailed, invocationID, map[string]any{
			"action": name,
			"error":  err.Error(),
		})
		if result == nil {
			result = &Result{Success: false, Message: err.Error()}
		}
		return result, err
	}

	if result == nil {
		result = &Result{Success: true}
	}
	d.appendLedger(ledger.EventActionCompleted, invocationID, map[string]any{
		"action": name,
	})
	return result, nil
}

func (d *Dispatcher) appendLedger(eventType ledger.EventType, invocationID string, payload map[string]any) {
	if d.ledger == nil {
		return
	}
	if err := d.ledger.AppendWithSource(eventType, invocationID, "api", payload); err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to append to ledger")
	}
}
