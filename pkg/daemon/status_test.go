package daemon_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jamesainslie/modcache/pkg/daemon"
)

func TestWriteStatus(t *testing.T) {
	statusPath := filepath.Join(t.TempDir(), "data", "modcache.status")

	in := &daemon.StatusFile{
		Status:   daemon.StatusReady,
		PID:      os.Getpid(),
		Source:   "/game/mods",
		Cache:    "/game/cache",
		Entities: 12,
		Watching: []string{"/game/mods"},
	}
	if err := daemon.WriteStatus(statusPath, in); err != nil {
		t.Fatalf("WriteStatus failed: %v", err)
	}
	if in.Updated.IsZero() {
		t.Error("WriteStatus should stamp Updated")
	}

	data, err := os.ReadFile(statusPath)
	if err != nil {
		t.Fatalf("Failed to read status file: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Failed to parse status JSON: %v", err)
	}
	if raw["status"] != "ready" {
		t.Errorf("Expected status 'ready', got %v", raw["status"])
	}
	for _, key := range []string{"error", "last_scan", "last_evict"} {
		if _, exists := raw[key]; exists {
			t.Errorf("%s should be omitted when empty", key)
		}
	}

	if _, err := os.Stat(statusPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file should not remain")
	}
}

func TestWriteStatusError(t *testing.T) {
	statusPath := filepath.Join(t.TempDir(), "modcache.status")

	if err := daemon.WriteStatusError(statusPath, errors.New("index unreadable")); err != nil {
		t.Fatalf("WriteStatusError failed: %v", err)
	}

	status, err := daemon.ReadStatus(statusPath)
	if err != nil {
		t.Fatalf("ReadStatus failed: %v", err)
	}
	if status.Status != daemon.StatusError {
		t.Errorf("Expected status 'error', got %q", status.Status)
	}
	if status.Error != "index unreadable" {
		t.Errorf("Unexpected error message %q", status.Error)
	}
}

func TestReadStatusRoundTrip(t *testing.T) {
	statusPath := filepath.Join(t.TempDir(), "modcache.status")
	scanned := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := daemon.WriteStatus(statusPath, &daemon.StatusFile{Status: daemon.StatusReady, LastScan: scanned, Halted: []string{"combat"}}); err != nil {
		t.Fatal(err)
	}
	status, err := daemon.ReadStatus(statusPath)
	if err != nil {
		t.Fatal(err)
	}
	if !status.LastScan.Equal(scanned) {
		t.Errorf("Expected last scan %v, got %v", scanned, status.LastScan)
	}
	if len(status.Halted) != 1 || status.Halted[0] != "combat" {
		t.Errorf("Unexpected halted tags %v", status.Halted)
	}
}

func TestReadStatusMissingAndInvalid(t *testing.T) {
	dir := t.TempDir()
	if _, err := daemon.ReadStatus(filepath.Join(dir, "missing")); !os.IsNotExist(err) {
		t.Errorf("Expected not-exist error, got %v", err)
	}

	bad := filepath.Join(dir, "bad.status")
	if err := os.WriteFile(bad, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := daemon.ReadStatus(bad); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestRemoveStatus(t *testing.T) {
	statusPath := filepath.Join(t.TempDir(), "modcache.status")
	if err := daemon.WriteStatus(statusPath, &daemon.StatusFile{Status: daemon.StatusStopped}); err != nil {
		t.Fatal(err)
	}
	if err := daemon.RemoveStatus(statusPath); err != nil {
		t.Fatalf("RemoveStatus failed: %v", err)
	}
	if _, err := os.Stat(statusPath); !os.IsNotExist(err) {
		t.Error("status file should be gone")
	}
}

func TestStatusPath(t *testing.T) {
	if got := daemon.StatusPath("/data"); got != filepath.Join("/data", "modcache.status") {
		t.Errorf("unexpected status path %q", got)
	}
}
