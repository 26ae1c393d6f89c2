package storage

import (
	"testing"

	"github.com/nettics/hswarden/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database.DB)
}

func TestGetAbsent(t *testing.T) {
	s := newTestStore(t)

	payload, version, err := s.Get("desired", "options")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if payload != nil || version != 0 {
		t.Errorf("absent resource = (%q, %d), want (nil, 0)", payload, version)
	}
}

func TestSetBumpsVersion(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set("desired", "options", []byte(`{"name":"a"}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	payload, version, err := s.Get("desired", "options")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(payload) != `{"name":"a"}` || version != 1 {
		t.Errorf("after first set = (%q, %d)", payload, version)
	}

	if err := s.Set("desired", "options", []byte(`{"name":"b"}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	payload, version, err = s.Get("desired", "options")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(payload) != `{"name":"b"}` || version != 2 {
		t.Errorf("after second set = (%q, %d)", payload, version)
	}
}

func TestKindsAreIndependent(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set("desired", "options", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("applied", "config", []byte(`{"hash":"x"}`)); err != nil {
		t.Fatal(err)
	}

	if v, err := s.Version("desired", "options"); err != nil || v != 1 {
		t.Errorf("desired version = %d, err %v", v, err)
	}
	if v, err := s.Version("applied", "config"); err != nil || v != 1 {
		t.Errorf("applied version = %d, err %v", v, err)
	}
	if v, err := s.Version("desired", "facts"); err != nil || v != 0 {
		t.Errorf("unset resource version = %d, err %v", v, err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set("status", "unit", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("status", "unit"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	payload, version, err := s.Get("status", "unit")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if payload != nil || version != 0 {
		t.Errorf("deleted resource = (%q, %d)", payload, version)
	}

	// Deleting again is a no-op
	if err := s.Delete("status", "unit"); err != nil {
		t.Errorf("second delete failed: %v", err)
	}
}
