// Package lock gives one process at a time write ownership of a session's
// durable message cache.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Suffix is appended to the guarded path to name its lock file.
const Suffix = ".lock"

// HeldError is returned when another process owns the cache.
type HeldError struct {
	PID     int
	Program string
	Path    string
}

func (e *HeldError) Error() string {
	if e.Program != "" {
		return fmt.Sprintf("message cache in use by %s (PID %d, %s)", e.Program, e.PID, e.Path)
	}
	return fmt.Sprintf("message cache in use by PID %d (%s)", e.PID, e.Path)
}

// IsHeld reports whether err is a HeldError.
func IsHeld(err error) bool {
	var h *HeldError
	return errors.As(err, &h)
}

// Lock is an acquired cache lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive, non-blocking flock next to guarded. program
// is recorded in the lock file for diagnostics.
func Acquire(guarded, program string) (*Lock, error) {
	lockPath := guarded + Suffix

	if err := os.MkdirAll(filepath.Dir(lockPath), 0700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(lockPath)
		_ = f.Close()
		held := &HeldError{Path: lockPath}
		held.PID, held.Program = parse(string(data))
		return nil, held
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	content := fmt.Sprintf("pid=%d\nprogram=%s\ntime=%s\n",
		os.Getpid(), program, time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: lockPath}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Release drops the lock. Safe on a nil receiver and idempotent.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before closing so no other process sees a stale owner.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func parse(content string) (pid int, program string) {
	for _, line := range strings.Split(content, "\n") {
		if after, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ = strconv.Atoi(after)
		}
		if after, ok := strings.CutPrefix(line, "program="); ok {
			program = after
		}
	}
	return pid, program
}
