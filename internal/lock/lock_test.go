package lock_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"isomine/internal/lock"
	"isomine/internal/services"
)

func writePayload(t *testing.T, path string, p lock.Payload) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock", "active.lock")
	l, err := lock.Acquire(context.Background(), path, "run-1", lock.Options{}, nil)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	got, _, err := lock.ReadPayload(path)
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if got.PID != os.Getpid() || got.RunID != "run-1" || got.Token == "" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected lock removed, got %v", err)
	}
}

func TestLiveHolderBlocksAcquisition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active.lock")
	host, _ := os.Hostname()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	writePayload(t, path, lock.Payload{PID: 4242, Host: host, User: "ops", RunID: "other", AcquiredAtUTC: now.Add(-time.Minute).Format(time.RFC3339)})

	opts := lock.Options{Now: func() time.Time { return now }, Alive: func(int) bool { return true }}
	_, err := lock.Acquire(context.Background(), path, "run-2", opts, nil)
	if !errors.Is(err, services.ErrLockContention) {
		t.Fatalf("expected lock contention, got %v", err)
	}
	for _, want := range []string{"pid=4242", "user=ops", "active lock at"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("contention error %q missing %q", err, want)
		}
	}
}

func TestDeadHolderIsReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active.lock")
	host, _ := os.Hostname()
	now := time.Now().UTC()
	writePayload(t, path, lock.Payload{PID: 4242, Host: host, RunID: "old", AcquiredAtUTC: now.Format(time.RFC3339)})

	opts := lock.Options{Alive: func(int) bool { return false }}
	l, err := lock.Acquire(context.Background(), path, "run-3", opts, nil)
	if err != nil {
		t.Fatalf("expected reclaim, got %v", err)
	}
	if l.Payload().RunID != "run-3" {
		t.Fatalf("unexpected holder %+v", l.Payload())
	}
}

func TestStaleLiveHolderIsReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active.lock")
	host, _ := os.Hostname()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	writePayload(t, path, lock.Payload{PID: 4242, Host: host, RunID: "old", AcquiredAtUTC: now.Add(-3 * time.Hour).Format(time.RFC3339)})

	opts := lock.Options{Now: func() time.Time { return now }, Alive: func(int) bool { return true }}
	if _, err := lock.Acquire(context.Background(), path, "run-4", opts, nil); err != nil {
		t.Fatalf("expected stale lock reclaimed, got %v", err)
	}
}

func TestReleaseLeavesForeignLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active.lock")
	l, err := lock.Acquire(context.Background(), path, "mine", lock.Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	writePayload(t, path, lock.Payload{PID: 1, RunID: "theirs", Token: "other-token", AcquiredAtUTC: time.Now().UTC().Format(time.RFC3339)})
	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("foreign lock should remain: %v", err)
	}
}

func TestProcessAlive(t *testing.T) {
	if !lock.ProcessAlive(os.Getpid()) {
		t.Fatal("current process should be alive")
	}
	if lock.ProcessAlive(0) {
		t.Fatal("pid 0 is never a holder")
	}
}

func TestAcquireWaitsUntilTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active.lock")
	host, _ := os.Hostname()
	writePayload(t, path, lock.Payload{PID: 4242, Host: host, RunID: "busy", AcquiredAtUTC: time.Now().UTC().Format(time.RFC3339)})
	opts := lock.Options{Timeout: 30 * time.Millisecond, PollInterval: 10 * time.Millisecond, Alive: func(int) bool { return true }}
	start := time.Now()
	_, err := lock.Acquire(context.Background(), path, "run-5", opts, nil)
	if !errors.Is(err, services.ErrLockContention) {
		t.Fatalf("expected contention after timeout, got %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatal("expected acquire to poll until timeout")
	}
}
