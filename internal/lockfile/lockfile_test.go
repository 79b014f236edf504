package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireLock_WritesOwner(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()

	owner := readOwner(filepath.Join(dir, LockFileName))
	if owner.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", owner.PID, os.Getpid())
	}
	if !owner.Running {
		t.Error("own process should be reported running")
	}
	if time.Since(owner.Started) > time.Minute {
		t.Errorf("Started = %v", owner.Started)
	}
}

func TestAcquireLock_Conflict(t *testing.T) {
	dir := t.TempDir()
	first, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("first AcquireLock: %v", err)
	}
	defer first.Release()

	second, err := AcquireLock(dir)
	if err == nil {
		second.Release()
		t.Fatal("second AcquireLock should fail")
	}
	if !errors.Is(err, ErrLocked) {
		t.Errorf("error should wrap ErrLocked: %v", err)
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	if lockErr.Owner.PID != os.Getpid() {
		t.Errorf("conflict should report the holder, got %+v", lockErr.Owner)
	}
	if !strings.Contains(err.Error(), dir) {
		t.Errorf("error should name the lock path: %s", err)
	}
}

func TestRelease(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Release: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Error("lock file should be removed")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}

	again, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again.Release()
}

func TestAcquireLock_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory not created: %v", err)
	}
}

func TestParseOwner(t *testing.T) {
	tests := []struct {
		name    string
		content string
		pid     int
		started int64
	}{
		{"full record", "pid=12345\nstarted=1700000000\n", 12345, 1700000000},
		{"pid only", "pid=67890", 67890, 0},
		{"garbage", "pid=abc\nfoo", 0, 0},
		{"empty", "", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := parseOwner(tt.content)
			if o.PID != tt.pid {
				t.Errorf("PID = %d, want %d", o.PID, tt.pid)
			}
			if tt.started != 0 && o.Started.Unix() != tt.started {
				t.Errorf("Started = %v", o.Started)
			}
			if tt.started == 0 && !o.Started.IsZero() {
				t.Errorf("Started should be zero, got %v", o.Started)
			}
		})
	}
}

func TestOwnerString(t *testing.T) {
	if got := (Owner{}).String(); got != "unknown process" {
		t.Errorf("zero owner = %q", got)
	}
	if got := (Owner{PID: 42}).String(); !strings.Contains(got, "stale") {
		t.Errorf("dead owner = %q", got)
	}
}
