package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"perceptor/internal/alert"
	"perceptor/internal/database"
	"perceptor/internal/framestore"
	dbconfig "perceptor/pkg/database"
	"perceptor/pkg/interfaces"
	"perceptor/pkg/types"
)

// End under a canceled request context followed by a disconnect must leave
// neither the record nor its folder behind
func TestEndThenClose_SQLiteLeavesNoResidue(t *testing.T) {
	dir := t.TempDir()
	cfg := dbconfig.DefaultConfig()
	cfg.Path = filepath.Join(dir, "perceptor.db")

	frames, err := framestore.New(filepath.Join(dir, "alerts"))
	if err != nil {
		t.Fatalf("Failed to create frame store: %v", err)
	}
	ctx := context.Background()
	store, err := database.NewStore(ctx, cfg, frames, nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	alerts, err := alert.NewManager(store, frames.Root(), nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	r, err := NewRegistry(alerts, time.Second, nil)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	s, _ := r.Open(ctx, "s1", types.KindPavement, nil)
	s.Process(func(s *Session) error {
		if err := alerts.EnsureOpen(ctx, s.Alert); err != nil {
			return err
		}
		return alerts.RecordFrame(ctx, s.Alert, nil)
	})
	recordID, location := s.Alert.RecordID, s.Alert.Location
	if recordID == "" {
		t.Fatal("Alert record was not opened")
	}
	if _, err := os.Stat(location); err != nil {
		t.Fatalf("Alert folder not created: %v", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	r.End(canceled, "s1")
	r.Close(ctx, "s1")

	if _, err := store.GetAlertSession(ctx, recordID); !errors.Is(err, interfaces.ErrAlertSessionNotFound) {
		t.Errorf("Expected the empty record deleted, got %v", err)
	}
	if _, err := os.Stat(location); !os.IsNotExist(err) {
		t.Errorf("Expected the alert folder removed, stat err=%v", err)
	}
	_, total, err := store.ListAlertSessions(ctx, types.AlertQuery{Page: 1, PerPage: 20})
	if err != nil {
		t.Fatalf("ListAlertSessions failed: %v", err)
	}
	if total != 0 {
		t.Errorf("Expected no alert sessions, found %d", total)
	}
}
