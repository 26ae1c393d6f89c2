package reconcile

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nettics/hswarden/internal/state"
	"github.com/nettics/hswarden/internal/status"
	"github.com/nettics/hswarden/internal/workload"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantPhase status.Phase
		wantRetry bool
	}{
		{
			name:      "success",
			err:       nil,
			wantPhase: status.PhaseActive,
		},
		{
			name:      "config_invalid_blocks",
			err:       fmt.Errorf("%w: bad log level", state.ErrConfigInvalid),
			wantPhase: status.PhaseBlocked,
		},
		{
			name:      "rejected_blocks",
			err:       workload.ErrRejected,
			wantPhase: status.PhaseBlocked,
		},
		{
			name:      "unreachable_retries",
			err:       workload.ErrUnreachable,
			wantPhase: status.PhaseWaiting,
			wantRetry: true,
		},
		{
			name:      "timeout_retries",
			err:       workload.ErrTimeout,
			wantPhase: status.PhaseWaiting,
			wantRetry: true,
		},
		{
			name:      "wrapped_unreachable_retries",
			err:       fmt.Errorf("apply: %w", workload.ErrUnreachable),
			wantPhase: status.PhaseWaiting,
			wantRetry: true,
		},
		{
			name:      "unknown_error_assumed_transient",
			err:       errors.New("disk full"),
			wantPhase: status.PhaseWaiting,
			wantRetry: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Classify(tt.err)
			if out.Phase != tt.wantPhase {
				t.Errorf("phase = %q, want %q", out.Phase, tt.wantPhase)
			}
			if out.Retry != tt.wantRetry {
				t.Errorf("retry = %v, want %v", out.Retry, tt.wantRetry)
			}
		})
	}
}

func TestCheckPreconditions(t *testing.T) {
	ready := state.DesiredState{Facts: state.Facts{StorageReady: true}}
	if blocked, reason := CheckPreconditions(ready); blocked {
		t.Errorf("unexpectedly blocked: %s", reason)
	}

	noStorage := state.DesiredState{}
	blocked, reason := CheckPreconditions(noStorage)
	if !blocked {
		t.Fatal("expected blocked without storage")
	}
	if reason == "" {
		t.Error("blocked without a reason")
	}

	// Route integration is optional: its absence never blocks
	noRoute := state.DesiredState{Facts: state.Facts{StorageReady: true, ExternalHost: ""}}
	if blocked, _ := CheckPreconditions(noRoute); blocked {
		t.Error("missing route integration must not block")
	}
}
