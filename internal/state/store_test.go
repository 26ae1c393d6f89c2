package state

import (
	"errors"
	"testing"
	"time"

	"github.com/nettics/hswarden/internal/db"
	"github.com/nettics/hswarden/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(storage.NewStore(database.DB))
}

func TestPutOptionsRejectsInvalid(t *testing.T) {
	s := newTestStore(t)

	err := s.PutOptions(Options{LogLevel: "verbose"})
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("error = %v, want ErrConfigInvalid", err)
	}

	// Nothing was stored
	_, version, err := s.Options()
	if err != nil {
		t.Fatalf("Options failed: %v", err)
	}
	if version != 0 {
		t.Errorf("version = %d after rejected put, want 0", version)
	}
}

func TestSnapshotAppliesDefaults(t *testing.T) {
	s := newTestStore(t)

	if err := s.PutOptions(Options{Policy: `{"acls": []}`}); err != nil {
		t.Fatalf("PutOptions failed: %v", err)
	}

	snapshot, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snapshot.Options.LogLevel != DefaultLogLevel {
		t.Errorf("log level = %q, want default", snapshot.Options.LogLevel)
	}
	if snapshot.Options.Name != DefaultName {
		t.Errorf("name = %q, want default", snapshot.Options.Name)
	}
	if snapshot.Options.Policy != `{"acls": []}` {
		t.Errorf("policy = %q", snapshot.Options.Policy)
	}
}

func TestSnapshotVersionTracksWrites(t *testing.T) {
	s := newTestStore(t)

	if err := s.PutOptions(Options{}); err != nil {
		t.Fatal(err)
	}
	first, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if err := s.PutOptions(Options{LogLevel: "debug"}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutFacts(Facts{StorageReady: true}); err != nil {
		t.Fatal(err)
	}
	second, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if second.Version <= first.Version {
		t.Errorf("version did not advance: %d -> %d", first.Version, second.Version)
	}
	if !second.Facts.StorageReady {
		t.Error("facts not reflected in snapshot")
	}
}

// Overlapping fact updates must serialize: the storage probe and the route
// handlers update different fields of the same document, and an interleaved
// read-modify-write would silently drop one of them.
func TestUpdateFactsSerialized(t *testing.T) {
	s := newTestStore(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _, err := s.UpdateFacts(func(f Facts) Facts {
			close(entered)
			<-release
			f.ExternalHost = "cloud.example.com"
			return f
		})
		if err != nil {
			t.Errorf("first update failed: %v", err)
		}
	}()

	<-entered // first update is mid read-modify-write

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		_, _, err := s.UpdateFacts(func(f Facts) Facts {
			f.StorageReady = true
			return f
		})
		if err != nil {
			t.Errorf("second update failed: %v", err)
		}
	}()

	select {
	case <-secondDone:
		t.Fatal("overlapping facts updates ran concurrently")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	<-firstDone
	<-secondDone

	facts, _, err := s.Facts()
	if err != nil {
		t.Fatalf("Facts failed: %v", err)
	}
	if facts.ExternalHost != "cloud.example.com" || !facts.StorageReady {
		t.Errorf("lost update, facts = %+v", facts)
	}
}

func TestUpdateFacts(t *testing.T) {
	s := newTestStore(t)

	facts, changed, err := s.UpdateFacts(func(f Facts) Facts {
		f.ExternalHost = "cloud.example.com"
		return f
	})
	if err != nil {
		t.Fatalf("UpdateFacts failed: %v", err)
	}
	if !changed || facts.ExternalHost != "cloud.example.com" {
		t.Errorf("changed = %v, facts = %+v", changed, facts)
	}

	// Writing the same value reports no change
	_, changed, err = s.UpdateFacts(func(f Facts) Facts {
		f.ExternalHost = "cloud.example.com"
		return f
	})
	if err != nil {
		t.Fatalf("UpdateFacts failed: %v", err)
	}
	if changed {
		t.Error("identical update reported a change")
	}
}
