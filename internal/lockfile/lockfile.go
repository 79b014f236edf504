// Package lockfile guards a BloodLink state directory with an flock so two
// processes never share one SQLite database or whatsmeow device store. The
// kernel drops the lock when the process dies, so a leftover file is
// harmless.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is created inside the state directory.
const LockFileName = "bloodlink.lock"

// ErrLocked is wrapped by *LockError when another process holds the lock.
var ErrLocked = errors.New("state directory is locked")

// Lock is a held state-directory lock.
type Lock struct {
	file *os.File
	path string
}

// Owner describes the process recorded in a lock file.
type Owner struct {
	PID     int
	Started time.Time
	Running bool
}

func (o Owner) String() string {
	if o.PID == 0 {
		return "unknown process"
	}
	state := "not running, stale"
	if o.Running {
		state = "running"
	}
	if o.Started.IsZero() {
		return fmt.Sprintf("PID %d (%s)", o.PID, state)
	}
	return fmt.Sprintf("PID %d since %s (%s)", o.PID, o.Started.Format(time.RFC3339), state)
}

// LockError reports who holds the lock.
type LockError struct {
	Path  string
	Owner Owner
}

func (e *LockError) Error() string {
	return fmt.Sprintf("another BloodLink instance is using this state directory (lock file %s, held by %s); "+
		"remove the file only if that process is gone", e.Path, e.Owner)
}

func (e *LockError) Unwrap() error { return ErrLocked }

// AcquireLock takes an exclusive, non-blocking lock on stateDir, creating
// the directory if needed.
func AcquireLock(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)

	// O_TRUNC would wipe the holder's record before we know we own the lock.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		owner := readOwner(path)
		slog.Error("lockfile.AcquireLock: state directory busy", "path", path, "owner", owner.String())
		return nil, &LockError{Path: path, Owner: owner}
	}

	if err := writeOwner(file); err != nil {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock file %s: %w", path, err)
	}
	slog.Info("lockfile.AcquireLock: acquired", "path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path}, nil
}

// Release unlocks and removes the lock file. Calling it twice is fine.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("lockfile.Release: could not remove lock file", "path", l.path, "error", err)
	}
	l.file = nil
	slog.Info("lockfile.Release: released", "path", l.path)
	return errors.Join(errs...)
}

func writeOwner(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	record := fmt.Sprintf("pid=%d\nstarted=%d\n", os.Getpid(), time.Now().Unix())
	if _, err := f.WriteString(record); err != nil {
		return err
	}
	return f.Sync()
}

func readOwner(path string) Owner {
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}
	}
	o := parseOwner(string(data))
	if o.PID > 0 {
		o.Running = processAlive(o.PID)
	}
	return o
}

// parseOwner reads the key=value lines written by writeOwner.
func parseOwner(content string) Owner {
	var o Owner
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		switch key {
		case "pid":
			o.PID = int(n)
		case "started":
			o.Started = time.Unix(n, 0).UTC()
		}
	}
	return o
}

// processAlive sends signal 0, which only checks that pid exists.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
