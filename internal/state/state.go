// Package state persists the identity of the running aria2c so a later
// invocation can find and stop it if this one crashes.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileName is the session file inside the state directory.
const FileName = "session.json"

// SessionState describes the aria2c process owned by a session.
type SessionState struct {
	SessionID string    `json:"session_id"`
	PID       int       `json:"pid"`
	PGID      int       `json:"pgid"`
	Port      int       `json:"port"`
	Directory string    `json:"directory"`
	StartTime time.Time `json:"start_time"`
	LastSave  time.Time `json:"last_save"`
}

// Manager reads and writes the session file.
type Manager struct {
	path string
}

// NewManager creates a Manager storing its file in stateDir.
func NewManager(stateDir string) *Manager {
	return &Manager{path: filepath.Join(stateDir, FileName)}
}

// Path returns the session file location.
func (m *Manager) Path() string {
	return m.path
}

// Save writes s atomically.
func (m *Manager) Save(s *SessionState) error {
	s.LastSave = time.Now()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "session-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Load reads the session file.
func (m *Manager) Load() (*SessionState, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("read session state: %w", err)
	}
	var s SessionState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session state: %w", err)
	}
	return &s, nil
}

// Exists reports whether a session file is present.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Remove deletes the session file. A missing file is not an error.
func (m *Manager) Remove() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session state: %w", err)
	}
	return nil
}
