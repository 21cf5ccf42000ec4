package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrLocked is returned by Acquire when another live run holds the lock.
var ErrLocked = errors.New("another run is active")

// LockInfo is written into the lock file by its holder.
type LockInfo struct {
	PID        int       `json:"pid"`
	RunID      string    `json:"run_id"`
	Task       string    `json:"task"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// RunLock guards the target application against concurrent campaigns. The
// lock is a file created exclusively; a lock left by a dead process is
// treated as stale and replaced.
type RunLock struct {
	path   string
	held   bool
	signal func(pid int) error
}

// NewRunLock creates a lock backed by the file at path.
func NewRunLock(path string) *RunLock {
	return &RunLock{path: path, signal: signalPID}
}

// Acquire takes the lock for runID. It fails with ErrLocked if a live
// process holds it.
func (l *RunLock) Acquire(task, runID string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	info := LockInfo{PID: os.Getpid(), RunID: runID, Task: task, AcquiredAt: time.Now()}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal lock: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := f.Write(data)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(l.path)
				return fmt.Errorf("failed to write lock: %w", errors.Join(werr, cerr))
			}
			l.held = true
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock: %w", err)
		}

		active, err := l.IsActive()
		if err != nil {
			return err
		}
		if active {
			holder, _ := l.Holder()
			if holder != nil {
				return fmt.Errorf("%w: %s (pid %d, run %s)", ErrLocked, holder.Task, holder.PID, holder.RunID)
			}
			return ErrLocked
		}
		// Stale; remove and retry once.
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}
	return ErrLocked
}

// Release drops the lock if this RunLock holds it.
func (l *RunLock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Holder returns the lock file contents, or nil if unlocked.
func (l *RunLock) Holder() (*LockInfo, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read lock: %w", err)
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		// A half-written lock still counts as held.
		return &LockInfo{}, nil
	}
	return &info, nil
}

// IsActive reports whether a live process holds the lock.
func (l *RunLock) IsActive() (bool, error) {
	info, err := l.Holder()
	if err != nil || info == nil {
		return false, err
	}
	if info.PID == 0 {
		return true, nil
	}
	return l.processAlive(info.PID), nil
}

func (l *RunLock) processAlive(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	return aliveAfterSignal(l.signal(pid))
}

// signalPID sends signal 0, which checks for existence without delivering
// anything.
func signalPID(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("%w: %v", os.ErrProcessDone, err)
	}
	return p.Signal(syscall.Signal(0))
}

// aliveAfterSignal interprets the result of signalling a pid. ErrProcessDone
// is only reported where pidfd is available; elsewhere a dead pid yields
// ESRCH. EPERM means the process exists under another user.
func aliveAfterSignal(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		return false
	default:
		return true
	}
}
