package reconcile

import (
	"errors"

	"github.com/nettics/hswarden/internal/state"
	"github.com/nettics/hswarden/internal/status"
	"github.com/nettics/hswarden/internal/workload"
)

// Outcome classifies the result of one apply attempt: which phase the unit
// lands in, and whether the attempt may be retried within the same pass.
type Outcome struct {
	Phase   status.Phase
	Retry   bool
	Message string
}

// Classify maps an apply error onto the loop's phase machine.
//
//	nil            -> Active
//	ConfigInvalid  -> Blocked, no retry (operator must change input)
//	Rejected       -> Blocked, no retry (operator must fix config)
//	Unreachable    -> Waiting, retried with backoff
//	Timeout        -> Waiting, retried with backoff
//	anything else  -> Waiting, retried (assumed transient)
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Phase: status.PhaseActive}
	case errors.Is(err, state.ErrConfigInvalid):
		return Outcome{Phase: status.PhaseBlocked, Message: err.Error()}
	case errors.Is(err, workload.ErrRejected):
		return Outcome{Phase: status.PhaseBlocked, Message: "managed service rejected config: " + err.Error()}
	case errors.Is(err, workload.ErrUnreachable):
		return Outcome{Phase: status.PhaseWaiting, Retry: true, Message: "waiting for managed service: " + err.Error()}
	case errors.Is(err, workload.ErrTimeout):
		return Outcome{Phase: status.PhaseWaiting, Retry: true, Message: "apply timed out: " + err.Error()}
	default:
		return Outcome{Phase: status.PhaseWaiting, Retry: true, Message: err.Error()}
	}
}

// CheckPreconditions verifies external dependencies before any render or
// apply. A missing precondition blocks the pass without error.
func CheckPreconditions(st state.DesiredState) (blocked bool, reason string) {
	if !st.Facts.StorageReady {
		return true, "waiting for storage"
	}
	return false, ""
}
