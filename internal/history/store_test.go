package history

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/dj-oyu/bottle-monitor/internal/inference"
)

func result(i int) inference.Result {
	return inference.Result{
		ID:         fmt.Sprintf("r-%d", i),
		Model:      inference.ModelTap,
		Label:      "ok",
		Confidence: 0.9,
		Timestamp:  time.Date(2024, 5, 1, 10, 0, i, 0, time.UTC),
		ImageName:  fmt.Sprintf("img-%d.jpg", i),
	}
}

func TestAddIsNewestFirstAndCapped(t *testing.T) {
	s, err := Open(":memory:", "tfg-analysis-history", 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for i := 1; i <= 5; i++ {
		if _, err := s.Add(result(i)); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}
	items, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3", len(items))
	}
	for i, want := range []string{"r-5", "r-4", "r-3"} {
		if items[i].ID != want {
			t.Fatalf("items[%d] = %s, want %s", i, items[i].ID, want)
		}
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path, "k", 20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Add(result(1)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Add(result(2)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(path, "k", 20)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	items, _ := s.List()
	if len(items) != 2 || items[0].ID != "r-2" || !items[1].Timestamp.Equal(result(1).Timestamp) {
		t.Fatalf("reloaded items = %+v", items)
	}

	// Other keys are independent.
	other, err := Open(path, "other", 20)
	if err != nil {
		t.Fatalf("open other key: %v", err)
	}
	defer other.Close()
	if other.Len() != 0 {
		t.Fatalf("other key sees %d items", other.Len())
	}
}

func TestCorruptDataIsDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path, "k", 20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO kv (key, value, updated_at) VALUES ('k', '{not json', ?)`, time.Now()); err != nil {
		t.Fatalf("seed corrupt row: %v", err)
	}
	db.Close()

	s, err = Open(path, "k", 20)
	if err != nil {
		t.Fatalf("Open with corrupt data: %v", err)
	}
	defer s.Close()
	if s.Len() != 0 {
		t.Fatalf("corrupt data not discarded")
	}
	if _, err := s.Add(result(1)); err != nil {
		t.Fatalf("Add after corrupt load: %v", err)
	}
}

func TestClearAndClose(t *testing.T) {
	s, err := Open(":memory:", "k", 20)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Add(result(1)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("Len after clear = %d", s.Len())
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Add(result(2)); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Add after Close = %v", err)
	}
	if _, err := s.List(); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("List after Close = %v", err)
	}
	if err := s.Close(); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("double Close = %v", err)
	}
}

func TestOpenRejectsZeroCap(t *testing.T) {
	if _, err := Open(":memory:", "k", 0); err == nil {
		t.Fatalf("expected error")
	}
}
