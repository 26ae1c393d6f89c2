// Package status keeps the operator-visible unit status. Reconciliation
// never raises errors to a caller; every pass outcome lands here instead.
package status

import (
	"encoding/json"
	"time"

	"github.com/nettics/hswarden/internal/storage"
)

// Phase is the single logical state of the reconciliation loop.
type Phase string

const (
	// PhaseBlocked: a required precondition is missing or the desired
	// state is invalid. No config applied; cleared only by new input.
	PhaseBlocked Phase = "blocked"

	// PhaseWaiting: preconditions met but the managed process is not yet
	// reachable. Apply is retried with backoff.
	PhaseWaiting Phase = "waiting"

	// PhaseActive: config applied and consistent with the latest desired
	// state.
	PhaseActive Phase = "active"
)

// Status is the persisted operator-visible record.
type Status struct {
	Phase      Phase     `json:"phase"`
	Message    string    `json:"message,omitempty"`
	ConfigHash string    `json:"config_hash,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Resource store keys for the status record.
const (
	kindStatus = "status"
	idUnit     = "unit"
)

// Store persists the unit status in the resource store.
type Store struct {
	res *storage.Store
}

// NewStore creates a status store.
func NewStore(res *storage.Store) *Store {
	return &Store{res: res}
}

// Set records the current status.
func (s *Store) Set(phase Phase, message, configHash string) error {
	payload, err := json.Marshal(Status{
		Phase:      phase,
		Message:    message,
		ConfigHash: configHash,
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return s.res.Set(kindStatus, idUnit, payload)
}

// Get returns the last recorded status. Before the first pass the phase is
// Waiting with an empty message.
func (s *Store) Get() (Status, error) {
	payload, _, err := s.res.Get(kindStatus, idUnit)
	if err != nil {
		return Status{}, err
	}
	if len(payload) == 0 {
		return Status{Phase: PhaseWaiting}, nil
	}
	var st Status
	if err := json.Unmarshal(payload, &st); err != nil {
		return Status{}, err
	}
	return st, nil
}
