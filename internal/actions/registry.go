// Package actions provides the imperative action surface: named one-shot
// operations dispatched against the managed server's admin channel,
// independent of the reconciliation loop.
package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Action-level error taxonomy. These return synchronously to the caller and
// are never auto-retried.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidDuration = errors.New("invalid duration")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Result is the structured outcome returned to the invoking operator.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Action represents a named, invokable unit of work
type Action interface {
	Name() string
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// SimpleAction is the standard action implementation
type SimpleAction struct {
	name string
	fn   func(ctx context.Context, args map[string]any) (*Result, error)
}

func (a *SimpleAction) Name() string { return a.name }

func (a *SimpleAction) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	return a.fn(ctx, args)
}

// Registry holds all registered actions
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates a new action registry
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]Action),
	}
}

// Register adds an action to the registry
func (r *Registry) Register(action Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[action.Name()]; exists {
		return fmt.Errorf("action %q already registered", action.Name())
	}

	r.actions[action.Name()] = action
	return nil
}

// RegisterSimple adds a simple action (convenience method)
func (r *Registry) RegisterSimple(name string, fn func(ctx context.Context, args map[string]any) (*Result, error)) error {
	return r.Register(&SimpleAction{name: name, fn: fn})
}

// Get retrieves an action by name
func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	action, exists := r.actions[name]
	return action, exists
}

// Names returns all registered action names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	return names
}
