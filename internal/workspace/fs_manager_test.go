package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFSManagerEnsureAndOpen(t *testing.T) {
	dataDir := t.TempDir()
	mgr, err := NewFSManager(dataDir)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	ws, err := mgr.Ensure(context.Background(), "chat-a")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	wantPath := filepath.Join(dataDir, "uploads", "chat-a")
	if ws.Dir != wantPath {
		t.Fatalf("Ensure() dir = %q, want %q", ws.Dir, wantPath)
	}
	if ws.EngineDir != wantPath {
		t.Fatalf("Ensure() engine dir = %q, want %q", ws.EngineDir, wantPath)
	}

	info, err := os.Stat(ws.Dir)
	if err != nil {
		t.Fatalf("Stat(workspace) error = %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("workspace path is not a directory")
	}

	again, err := mgr.Ensure(context.Background(), "chat-a")
	if err != nil {
		t.Fatalf("second Ensure() error = %v", err)
	}
	if again != ws {
		t.Fatalf("second Ensure() = %+v, want %+v", again, ws)
	}

	opened, err := mgr.Open(context.Background(), "chat-a")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if opened != ws {
		t.Fatalf("Open() workspace = %+v, want %+v", opened, ws)
	}
}

func TestFSManagerEnsureConcurrent(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := mgr.Ensure(context.Background(), "chat-race"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Ensure() error = %v", err)
	}
}

func TestFSManagerEngineDataDir(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir(), WithEngineDataDir("/srv/data"))
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	got, err := mgr.EnginePath("chat-a")
	if err != nil {
		t.Fatalf("EnginePath() error = %v", err)
	}
	if want := filepath.Join("/srv/data", "uploads", "chat-a"); got != want {
		t.Fatalf("EnginePath() = %q, want %q", got, want)
	}
}

func TestFSManagerRejectsUnknownLinkMode(t *testing.T) {
	if _, err := NewFSManager(t.TempDir(), WithLinkMode("hardlink")); err == nil {
		t.Fatalf("NewFSManager() expected error for unknown link mode")
	}
	if _, err := NewFSManager("  "); err == nil {
		t.Fatalf("NewFSManager() expected error for empty data dir")
	}
}

func TestFSManagerRejectsInvalidSessionIDs(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	invalid := []string{"", " ", "..", ".", "a/b", `a\b`, " chat", "chat/../x"}
	for _, id := range invalid {
		if _, err := mgr.Ensure(context.Background(), id); !errors.Is(err, ErrInvalidSessionID) {
			t.Fatalf("Ensure(%q) error = %v, want ErrInvalidSessionID", id, err)
		}
	}
}

func TestFSManagerListAndRemove(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	entries, err := mgr.List(context.Background(), "chat-missing")
	if err != nil {
		t.Fatalf("List(missing) error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("List(missing) = %v, want empty", entries)
	}

	ws, err := mgr.Ensure(context.Background(), "chat-a")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if err := os.MkdirAll(filepath.Join(ws.Dir, "reports"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws.Dir, "reports", "q1.csv"), []byte("a,b\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws.Dir, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	entries, err = mgr.List(context.Background(), "chat-a")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List() len = %d, want 2", len(entries))
	}
	if entries[0].Path != "notes.txt" || entries[1].Path != "reports/q1.csv" {
		t.Fatalf("List() paths = %q, %q", entries[0].Path, entries[1].Path)
	}
	if entries[1].Size != 4 {
		t.Fatalf("List() size = %d, want 4", entries[1].Size)
	}

	if err := mgr.Remove(context.Background(), "chat-a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Fatalf("workspace still exists after Remove(), err = %v", err)
	}
	if err := mgr.Remove(context.Background(), "chat-a"); err != nil {
		t.Fatalf("second Remove() error = %v", err)
	}
}

func TestFSManagerCleanup(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	oldWS, err := mgr.Ensure(context.Background(), "chat-old")
	if err != nil {
		t.Fatalf("Ensure(old) error = %v", err)
	}
	newWS, err := mgr.Ensure(context.Background(), "chat-new")
	if err != nil {
		t.Fatalf("Ensure(new) error = %v", err)
	}

	oldTime := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldWS.Dir, oldTime, oldTime); err != nil {
		t.Fatalf("Chtimes(old) error = %v", err)
	}

	report, err := mgr.Cleanup(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if report.DeletedDirs != 1 {
		t.Fatalf("Cleanup() deleted = %d, want 1", report.DeletedDirs)
	}

	if _, err := os.Stat(oldWS.Dir); !os.IsNotExist(err) {
		t.Fatalf("old workspace still exists, err = %v", err)
	}
	if _, err := os.Stat(newWS.Dir); err != nil {
		t.Fatalf("new workspace missing after cleanup: %v", err)
	}

	if _, err := mgr.Cleanup(context.Background(), 0); err == nil {
		t.Fatalf("Cleanup(0) expected error")
	}
}

func TestFSManagerCleanupMissingBase(t *testing.T) {
	mgr, err := NewFSManager(filepath.Join(t.TempDir(), "never-created"))
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	report, err := mgr.Cleanup(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if report.DeletedDirs != 0 {
		t.Fatalf("Cleanup() deleted = %d, want 0", report.DeletedDirs)
	}
}
