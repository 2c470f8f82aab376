package orchestrator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kylegalloway/ariaflow/internal/locks"
	"github.com/kylegalloway/ariaflow/internal/logging"
	"github.com/kylegalloway/ariaflow/internal/state"
	"github.com/kylegalloway/ariaflow/internal/supervisor"
)

// CleanupResult reports what was cleaned up during startup.
type CleanupResult struct {
	OrphanKilled      bool
	OrphanPID         int
	// PIDReused is set when the recorded pid is alive but is no longer the
	// aria2c that session launched; it is left running.
	PIDReused         bool
	StaleLocksCleaned int
	StaleSession      *state.SessionState
}

// CleanupStaleState stops an aria2c recorded by a session that did not shut
// down cleanly, removes its session file, and clears unheld lock files.
// A recorded pid is only signalled while its command line still shows the
// launch flags for the recorded port. Either manager may be nil.
func CleanupStaleState(stateMgr *state.Manager, lockMgr *locks.Manager, grace time.Duration, logger *slog.Logger) (*CleanupResult, error) {
	logger = logging.OrDiscard(logger)
	result := &CleanupResult{}

	if stateMgr != nil && stateMgr.Exists() {
		stale, err := stateMgr.Load()
		if err != nil {
			logger.Warn("could not load stale session state", "error", err)
		} else {
			result.StaleSession = stale
			switch {
			case !supervisor.ProcessAlive(stale.PID):
			case !supervisor.IsLaunchedAria2c(stale.PID, stale.Port):
				result.PIDReused = true
				logger.Warn("recorded pid is no longer aria2c, leaving it running", "pid", stale.PID,
					"port", stale.Port, "session", stale.SessionID)
			default:
				supervisor.TerminatePID(stale.PID, stale.PGID, grace)
				result.OrphanKilled = true
				result.OrphanPID = stale.PID
				logger.Warn("stopped orphaned aria2c", "pid", stale.PID, "port", stale.Port,
					"session", stale.SessionID)
			}
		}
		if err := stateMgr.Remove(); err != nil {
			return result, err
		}
	}

	if lockMgr != nil {
		n, err := lockMgr.CleanStale()
		if err != nil {
			logger.Warn("stale lock cleanup failed", "error", err)
		}
		result.StaleLocksCleaned = n
	}

	return result, nil
}

// FormatCleanupResult returns a human-readable summary of cleanup actions.
func FormatCleanupResult(r *CleanupResult) string {
	if r == nil {
		return "No cleanup needed"
	}

	msg := ""
	if r.OrphanKilled {
		msg += fmt.Sprintf("Stopped orphaned aria2c (PID %d). ", r.OrphanPID)
	} else if r.PIDReused && r.StaleSession != nil {
		msg += fmt.Sprintf("Removed stale session %s (PID %d now belongs to another process, left running). ",
			r.StaleSession.SessionID, r.StaleSession.PID)
	} else if r.StaleSession != nil {
		msg += fmt.Sprintf("Removed stale session %s. ", r.StaleSession.SessionID)
	}
	if r.StaleLocksCleaned > 0 {
		msg += fmt.Sprintf("Removed %d stale lock(s). ", r.StaleLocksCleaned)
	}
	if msg == "" {
		return "Clean startup, no stale state found."
	}
	return msg[:len(msg)-1]
}
