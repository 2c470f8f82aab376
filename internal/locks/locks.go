// Package locks provides advisory flock-based locks that keep two ariaflow
// sessions from downloading into the same directory at once.
package locks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ErrLocked means another live session holds the lock.
var ErrLocked = errors.New("lock held by another session")

// Holder describes the owner recorded in a lock file.
type Holder struct {
	Owner    string
	PID      int
	Acquired time.Time
}

// Manager handles advisory file locking via flock.
type Manager struct {
	lockDir string
	held    map[string]*os.File // key -> open file handle
	mu      sync.Mutex
}

// NewManager creates a lock Manager keeping its lock files in lockDir.
func NewManager(lockDir string) *Manager {
	return &Manager{
		lockDir: lockDir,
		held:    make(map[string]*os.File),
	}
}

// lockFilePath converts a key such as an absolute directory path into a lock
// file name. Path separators become double underscores.
func (m *Manager) lockFilePath(key string) string {
	normalized := strings.ReplaceAll(filepath.Clean(key), string(filepath.Separator), "__")
	return filepath.Join(m.lockDir, normalized+".lock")
}

// Acquire takes an exclusive, non-blocking lock on key for owner. A second
// Acquire of a key this manager already holds is a no-op.
func (m *Manager) Acquire(key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[key]; ok {
		return nil
	}
	if err := os.MkdirAll(m.lockDir, 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	lockPath := m.lockFilePath(key)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return fmt.Errorf("%w: %q", ErrLocked, key)
		}
		return fmt.Errorf("lock %q: %w", key, err)
	}

	f.Truncate(0)
	f.Seek(0, 0)
	fmt.Fprintf(f, "%s %d %s\n", owner, os.Getpid(), time.Now().Format(time.RFC3339))

	m.held[key] = f
	return nil
}

// Release drops the lock on key if this manager holds it.
func (m *Manager) Release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release(key)
}

// ReleaseAll drops every lock held by this manager.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.held {
		m.release(key)
	}
}

func (m *Manager) release(key string) {
	f, ok := m.held[key]
	if !ok {
		return
	}
	// Remove before unlocking so a waiter never locks a file about to vanish.
	os.Remove(m.lockFilePath(key))
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	f.Close()
	delete(m.held, key)
}

// IsHeld returns true if this manager holds key.
func (m *Manager) IsHeld(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}

// Holder reads the owner recorded in the lock file for key.
func (m *Manager) Holder(key string) (Holder, error) {
	data, err := os.ReadFile(m.lockFilePath(key))
	if err != nil {
		return Holder{}, fmt.Errorf("read lock file: %w", err)
	}
	return parseHolder(string(data))
}

func parseHolder(s string) (Holder, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return Holder{}, fmt.Errorf("malformed lock file %q", strings.TrimSpace(s))
	}
	pid, err := strconv.Atoi(fields[1])
	if err != nil {
		return Holder{}, fmt.Errorf("malformed lock pid %q", fields[1])
	}
	at, err := time.Parse(time.RFC3339, fields[2])
	if err != nil {
		return Holder{}, fmt.Errorf("malformed lock time %q", fields[2])
	}
	return Holder{Owner: fields[0], PID: pid, Acquired: at}, nil
}

// CleanStale removes lock files nobody holds, returning how many were removed.
func (m *Manager) CleanStale() (int, error) {
	entries, err := os.ReadDir(m.lockDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read lock dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		lockPath := filepath.Join(m.lockDir, entry.Name())

		f, err := os.OpenFile(lockPath, os.O_RDWR, 0o644)
		if err != nil {
			continue
		}
		// If we can take it, nobody holds it.
		if syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB) == nil {
			os.Remove(lockPath)
			syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
			removed++
		}
		f.Close()
	}
	return removed, nil
}
