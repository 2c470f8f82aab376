package tasks

import (
	"fmt"
	"path"
	"strings"
)

// Status constants for the remote queue a task was last observed in.
const (
	StatusWaiting = "waiting"
	StatusActive  = "active"
	StatusStopped = "stopped"
)

// Terminal statuses aria2 reports for stopped tasks. Only StatusComplete
// counts as success.
const (
	StatusComplete = "complete"
	StatusError    = "error"
	StatusRemoved  = "removed"
)

// DownloadTask is the local view of one remote transfer, keyed by GID.
type DownloadTask struct {
	GID             string
	URL             string
	Status          string
	TotalLength     int64
	CompletedLength int64
	Name            string
}

// Observe records a waiting/active sighting of the task. Stopped tasks are
// immutable and reject further observations.
func (t *DownloadTask) Observe(status string, total, completed int64, name string) error {
	if t.Status == StatusStopped {
		return fmt.Errorf("cannot update task %s: already stopped", t.GID)
	}
	if status != StatusWaiting && status != StatusActive {
		return fmt.Errorf("cannot update task %s: status is %q, want %q or %q",
			t.GID, status, StatusWaiting, StatusActive)
	}
	t.Status = status
	if total > 0 {
		t.TotalLength = total
	}
	t.CompletedLength = completed
	if name != "" {
		t.Name = name
	}
	return nil
}

// Stop moves the task into its absorbing terminal state.
func (t *DownloadTask) Stop(total, completed int64, name string) error {
	if t.Status == StatusStopped {
		return fmt.Errorf("cannot stop task %s: already stopped", t.GID)
	}
	t.Status = StatusStopped
	t.TotalLength = total
	t.CompletedLength = completed
	if name != "" {
		t.Name = name
	}
	return nil
}

// CompletionRecord is the terminal outcome of one task. Byte counts are the
// values reported when the task was first seen stopped.
type CompletionRecord struct {
	GID             string `json:"gid"`
	URL             string `json:"url,omitempty"`
	Path            string `json:"path"`
	Status          string `json:"status"`
	TotalLength     int64  `json:"total_length"`
	CompletedLength int64  `json:"completed_length"`
	ErrorCode       string `json:"error_code,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

// Succeeded reports whether the remote side finished the transfer.
func (r CompletionRecord) Succeeded() bool {
	return r.Status == StatusComplete
}

// DisplayName returns the file name of the record, or its GID when no path
// was reported.
func (r CompletionRecord) DisplayName() string {
	if r.Path == "" {
		return DisplayName(nil, r.GID)
	}
	return DisplayName([]string{r.Path}, r.GID)
}

// FailureMessage returns the remote error message, falling back to the code.
func (r CompletionRecord) FailureMessage() string {
	if r.ErrorMessage != "" {
		return r.ErrorMessage
	}
	if r.ErrorCode != "" {
		return "Error code " + r.ErrorCode
	}
	return ""
}

// DisplayName derives a label from the first non-empty reported file path,
// falling back to the GID.
func DisplayName(paths []string, gid string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		// aria2 reports forward slashes on every platform, but accept
		// backslashes from Windows builds as well.
		p = strings.ReplaceAll(p, "\\", "/")
		name := path.Base(strings.TrimRight(p, "/"))
		if name != "" && name != "." && name != "/" {
			return name
		}
	}
	if gid == "" {
		return "unknown"
	}
	return gid
}
