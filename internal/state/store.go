package state

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nettics/hswarden/internal/storage"
)

// Resource store keys for the two desired-state documents.
const (
	kindDesired = "desired"
	idOptions   = "options"
	idFacts     = "facts"
)

// Store persists options and facts in the versioned resource store. Writers
// hold the store lock for the whole read-modify-write, so concurrent fact
// updates never lose each other's fields; Snapshot reads both documents
// under the same lock.
type Store struct {
	res *storage.Store
	mu  sync.RWMutex
}

// NewStore creates a desired-state store over the generic resource store.
func NewStore(res *storage.Store) *Store {
	return &Store{res: res}
}

// Options returns the stored options document (zero value when unset)
// and its version.
func (s *Store) Options() (Options, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.options()
}

// options must be called with the lock held.
func (s *Store) options() (Options, int64, error) {
	var opts Options
	payload, version, err := s.res.Get(kindDesired, idOptions)
	if err != nil {
		return opts, 0, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &opts); err != nil {
			return opts, 0, fmt.Errorf("%w: stored options are unreadable: %v", ErrConfigInvalid, err)
		}
	}
	return opts, version, nil
}

// PutOptions validates and stores a full options document.
func (s *Store) PutOptions(opts Options) error {
	if err := Validate(withDefaults(opts)); err != nil {
		return err
	}
	payload, err := json.Marshal(opts)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res.Set(kindDesired, idOptions, payload)
}

// Facts returns the stored facts document and its version.
func (s *Store) Facts() (Facts, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.facts()
}

// facts must be called with the lock held.
func (s *Store) facts() (Facts, int64, error) {
	var facts Facts
	payload, version, err := s.res.Get(kindDesired, idFacts)
	if err != nil {
		return facts, 0, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &facts); err != nil {
			return facts, 0, fmt.Errorf("stored facts are unreadable: %w", err)
		}
	}
	return facts, version, nil
}

// PutFacts stores a full facts document.
func (s *Store) PutFacts(facts Facts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putFacts(facts)
}

// putFacts must be called with the write lock held.
func (s *Store) putFacts(facts Facts) error {
	payload, err := json.Marshal(facts)
	if err != nil {
		return err
	}
	return s.res.Set(kindDesired, idFacts, payload)
}

// UpdateFacts applies fn to the current facts and stores the result, holding
// the write lock across the whole read-modify-write. Returns the updated
// facts and whether anything changed.
func (s *Store) UpdateFacts(fn func(Facts) Facts) (Facts, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	facts, _, err := s.facts()
	if err != nil {
		return facts, false, err
	}
	updated := fn(facts)
	if updated == facts {
		return facts, false, nil
	}
	if err := s.putFacts(updated); err != nil {
		return facts, false, err
	}
	return updated, true, nil
}

// Snapshot takes an atomic, validated read of options and facts for one
// reconciliation pass. Missing or malformed options fail with ErrConfigInvalid.
func (s *Store) Snapshot() (DesiredState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opts, optVersion, err := s.options()
	if err != nil {
		return DesiredState{}, err
	}
	opts = withDefaults(opts)
	if err := Validate(opts); err != nil {
		return DesiredState{}, err
	}

	facts, factVersion, err := s.facts()
	if err != nil {
		return DesiredState{}, err
	}

	return DesiredState{
		Options: opts,
		Facts:   facts,
		Version: optVersion + factVersion,
	}, nil
}
