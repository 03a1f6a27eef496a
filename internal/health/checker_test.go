package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tutu-network/gridpool/internal/infra/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type brokenStore struct{}

func (brokenStore) Ping() error { return errors.New("database is locked") }

// ─── Checker Tests ──────────────────────────────────────────────────────────

func TestNewChecker(t *testing.T) {
	c := NewChecker(newTestDB(t), t.TempDir(), 0)
	if len(c.checks) != 2 {
		t.Errorf("checks = %d, want 2", len(c.checks))
	}

	noStore := NewChecker(nil, t.TempDir(), 0)
	if len(noStore.checks) != 1 {
		t.Errorf("checks without store = %d, want 1", len(noStore.checks))
	}
}

func TestChecker_RunOnceHealthy(t *testing.T) {
	c := NewChecker(newTestDB(t), t.TempDir(), 0)
	c.RunOnce(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("Statuses() = %d, want 2", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %q should be healthy, got error: %s", s.Name, s.Error)
		}
	}
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true when all checks pass")
	}
}

func TestChecker_IsHealthy_BeforeRun(t *testing.T) {
	c := NewChecker(nil, t.TempDir(), 0)
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true before first run (no statuses)")
	}
}

func TestChecker_StoreFailure(t *testing.T) {
	c := NewChecker(brokenStore{}, t.TempDir(), 0)
	c.RunOnce(context.Background())

	if c.IsHealthy() {
		t.Error("IsHealthy() should be false with a failing store")
	}
	s := c.Statuses()[0]
	if s.Name != "run_store" || s.Healthy || s.Error == "" {
		t.Errorf("status = %+v, want unhealthy run_store with error", s)
	}
}

func TestChecker_RecoversMissingDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not", "yet")
	c := NewChecker(nil, dir, 0)
	c.RunOnce(context.Background())

	if !c.IsHealthy() {
		t.Errorf("IsHealthy() = false, statuses = %+v", c.Statuses())
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("data dir not created: %v", err)
	}
}

func TestChecker_DataDirIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}
	c := NewChecker(nil, path, 0)
	c.RunOnce(context.Background())
	if c.IsHealthy() {
		t.Error("IsHealthy() should be false when data dir is a file")
	}
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	c := NewChecker(nil, t.TempDir(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
}
