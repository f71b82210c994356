// Package lock provides a PID-file lock so only one sieve service of a given
// name runs against a vault at a time.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sieve/internal/logging"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// writeGrace is how long an empty or unreadable PID file is assumed to
// belong to a process that created it and has not yet written its PID.
const writeGrace = 2 * time.Second

var (
	// ErrHeld is returned by Acquire when a live process owns the lock
	ErrHeld = errors.New("lock is held by another process")
	// ErrNotRunning is returned by Signal when no live process owns the lock
	ErrNotRunning = errors.New("no running process holds the lock")
)

// Lock is a named PID file under a directory
type Lock struct {
	name     string
	path     string
	acquired bool
	logger   *logging.Logger
}

// New creates the lock name under dir; nothing touches the disk until Acquire
func New(name, dir string, logger *logging.Logger) *Lock {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Lock{
		name:   name,
		path:   filepath.Join(dir, name+".pid"),
		logger: logger.WithContext("lock", name),
	}
}

// Path returns the PID file path
func (l *Lock) Path() string {
	return l.path
}

// Acquire writes the current PID to the lock file. A file left by a dead
// process is removed first; a live holder returns ErrHeld.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create pid directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(l.path)
				return fmt.Errorf("failed to write pid file: %w", errors.Join(werr, cerr))
			}
			l.acquired = true
			l.logger.Debug("acquired lock (PID %d)", os.Getpid())
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to create pid file: %w", err)
		}

		pid, ok := l.PID()
		if ok && alive(pid) {
			l.logger.Warn("lock already held by PID %d", pid)
			return fmt.Errorf("%w (PID %d)", ErrHeld, pid)
		}
		if !ok && l.recentlyCreated() {
			l.logger.Warn("lock file is still being written")
			return ErrHeld
		}
		l.logger.Info("cleaning up stale lock (PID %d)", pid)
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale pid file: %w", err)
		}
	}
	return ErrHeld
}

func (l *Lock) recentlyCreated() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < writeGrace
}

// Release removes the PID file if this Lock acquired it
func (l *Lock) Release() {
	if !l.acquired {
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		l.logger.WithContext("error", err.Error()).Warn("failed to remove pid file")
	}
	l.acquired = false
	l.logger.Debug("released lock")
}

// PID reads the recorded process id
func (l *Lock) PID() (int, bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// IsHeld reports whether a live process holds the lock
func (l *Lock) IsHeld() bool {
	pid, ok := l.PID()
	return ok && alive(pid)
}

// Signal sends SIGTERM to the holder. A stale PID file is removed and
// ErrNotRunning returned.
func (l *Lock) Signal() (int, error) {
	pid, ok := l.PID()
	if !ok {
		return 0, ErrNotRunning
	}
	if !alive(pid) {
		l.logger.Info("process %d not running, cleaning up lock", pid)
		os.Remove(l.path)
		return pid, ErrNotRunning
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return pid, fmt.Errorf("failed to signal PID %d: %w", pid, err)
	}
	l.logger.Info("sent SIGTERM to PID %d", pid)
	return pid, nil
}

// alive checks pid with signal 0. EPERM means the process exists but
// belongs to someone else.
func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Status describes one service found in the PID directory
type Status struct {
	Name    string
	Running bool
	PID     int
}

// Services reports every *.pid file in dir, sorted by name
func Services(dir string) ([]Status, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.pid"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	out := make([]Status, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), ".pid")
		l := New(name, dir, nil)
		st := Status{Name: name}
		if pid, ok := l.PID(); ok && alive(pid) {
			st.Running = true
			st.PID = pid
		}
		out = append(out, st)
	}
	return out, nil
}
