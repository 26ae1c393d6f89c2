package workload

import (
	"encoding/json"

	"github.com/nettics/hswarden/internal/storage"
)

// Resource store keys for the applied-config record.
const (
	kindApplied = "applied"
	idConfig    = "config"
	idRejected  = "rejected"
	idBootstrap = "bootstrap"
)

type appliedRecord struct {
	Hash string `json:"hash"`
}

// AppliedState keeps the last-applied config hash and the one-time bootstrap
// marker in the versioned resource store.
type AppliedState struct {
	res *storage.Store
}

// NewAppliedState creates an AppliedState over the generic resource store.
func NewAppliedState(res *storage.Store) *AppliedState {
	return &AppliedState{res: res}
}

// LastApplied returns the hash of the last successfully applied config,
// "" when nothing has been applied yet.
func (a *AppliedState) LastApplied() (string, error) {
	payload, _, err := a.res.Get(kindApplied, idConfig)
	if err != nil || len(payload) == 0 {
		return "", err
	}
	var rec appliedRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return "", err
	}
	return rec.Hash, nil
}

// SetApplied records a successfully applied config hash.
func (a *AppliedState) SetApplied(hash string) error {
	payload, err := json.Marshal(appliedRecord{Hash: hash})
	if err != nil {
		return err
	}
	return a.res.Set(kindApplied, idConfig, payload)
}

// LastRejected returns the hash of the last config the managed process
// rejected, "" when none is pinned.
func (a *AppliedState) LastRejected() (string, error) {
	payload, _, err := a.res.Get(kindApplied, idRejected)
	if err != nil || len(payload) == 0 {
		return "", err
	}
	var rec appliedRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return "", err
	}
	return rec.Hash, nil
}

// SetRejected pins a rejected config hash so it is not reapplied until the
// desired state changes.
func (a *AppliedState) SetRejected(hash string) error {
	payload, err := json.Marshal(appliedRecord{Hash: hash})
	if err != nil {
		return err
	}
	return a.res.Set(kindApplied, idRejected, payload)
}

// ClearRejected removes the rejected pin after a differing config applies.
func (a *AppliedState) ClearRejected() error {
	return a.res.Delete(kindApplied, idRejected)
}

// Bootstrapped reports whether the one-time admin-user bootstrap has run.
func (a *AppliedState) Bootstrapped() (bool, error) {
	payload, _, err := a.res.Get(kindApplied, idBootstrap)
	if err != nil {
		return false, err
	}
	return len(payload) > 0, nil
}

// SetBootstrapped marks the admin-user bootstrap as done.
func (a *AppliedState) SetBootstrapped() error {
	return a.res.Set(kindApplied, idBootstrap, []byte(`{"done":true}`))
}
