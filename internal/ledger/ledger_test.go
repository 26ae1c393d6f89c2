package ledger

import (
	"testing"
	"time"

	"github.com/nettics/hswarden/internal/db"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestAppendAndGetByType(t *testing.T) {
	l := newTestLedger(t)

	if err := l.AppendWithSource(EventActionStarted, "inv-1", "api", map[string]any{"action": "create-authkey"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := l.AppendWithSource(EventActionCompleted, "inv-1", "api", nil); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := l.Append(EventReconcilePass, "", map[string]any{"phase": "active"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	started, err := l.GetByType(EventActionStarted, 10)
	if err != nil {
		t.Fatalf("GetByType failed: %v", err)
	}
	if len(started) != 1 {
		t.Fatalf("got %d started entries, want 1", len(started))
	}
	entry := started[0]
	if entry.Source != "api" || entry.InvocationID != "inv-1" {
		t.Errorf("entry = source %q invocation %q", entry.Source, entry.InvocationID)
	}
	if entry.Payload["action"] != "create-authkey" {
		t.Errorf("payload = %v", entry.Payload)
	}
}

func TestGetByInvocation(t *testing.T) {
	l := newTestLedger(t)

	for _, inv := range []string{"inv-a", "inv-a", "inv-b"} {
		if err := l.AppendWithSource(EventActionStarted, inv, "api", nil); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := l.GetByInvocation("inv-a")
	if err != nil {
		t.Fatalf("GetByInvocation failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d entries for inv-a, want 2", len(entries))
	}
}

func TestDeleteOlderThan(t *testing.T) {
	l := newTestLedger(t)

	if err := l.Append(EventReconcilePass, "", nil); err != nil {
		t.Fatal(err)
	}

	// Fresh entries survive a generous retention window
	deleted, err := l.DeleteOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted %d fresh entries", deleted)
	}

	// A negative retention puts the cutoff in the future, removing everything
	deleted, err = l.DeleteOlderThan(-time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}
