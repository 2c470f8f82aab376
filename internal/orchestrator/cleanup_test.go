package orchestrator

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/kylegalloway/ariaflow/internal/locks"
	"github.com/kylegalloway/ariaflow/internal/state"
	"github.com/kylegalloway/ariaflow/internal/supervisor"
)

func TestCleanupStaleStateNoState(t *testing.T) {
	dir := t.TempDir()
	lockMgr := locks.NewManager(filepath.Join(dir, "locks"))
	stateMgr := state.NewManager(dir)

	result, err := CleanupStaleState(stateMgr, lockMgr, time.Second, nil)
	if err != nil {
		t.Fatalf("CleanupStaleState: %v", err)
	}
	if result.OrphanKilled {
		t.Error("OrphanKilled = true with no state")
	}
	if result.StaleSession != nil {
		t.Error("expected no stale session")
	}
	if got := FormatCleanupResult(result); got != "Clean startup, no stale state found." {
		t.Errorf("FormatCleanupResult = %q", got)
	}
}

func TestCleanupDeadOrphan(t *testing.T) {
	dir := t.TempDir()
	stateMgr := state.NewManager(dir)
	stateMgr.Save(&state.SessionState{
		SessionID: "ses-dead",
		PID:       999999999, // non-existent PID
		PGID:      999999999,
		Port:      41000,
	})

	result, err := CleanupStaleState(stateMgr, nil, time.Second, nil)
	if err != nil {
		t.Fatalf("CleanupStaleState: %v", err)
	}
	if result.OrphanKilled {
		t.Error("OrphanKilled = true for dead PID")
	}
	if result.StaleSession == nil || result.StaleSession.SessionID != "ses-dead" {
		t.Errorf("StaleSession = %+v", result.StaleSession)
	}
	if stateMgr.Exists() {
		t.Error("session state should be removed")
	}
	if got := FormatCleanupResult(result); !strings.Contains(got, "ses-dead") {
		t.Errorf("FormatCleanupResult = %q", got)
	}
}

// startFakeAria2c starts a shell that stays alive with aria2c's RPC flags for
// port in its argument vector.
func startFakeAria2c(t *testing.T, port int) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sh", "-c", "sleep 30 & wait", "aria2c",
		"--enable-rpc=true", "--rpc-listen-port="+strconv.Itoa(port))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start fake aria2c: %v", err)
	}
	return cmd
}

func TestCleanupLiveOrphan(t *testing.T) {
	cmd := startFakeAria2c(t, 41000)
	defer cmd.Process.Kill()

	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()

	dir := t.TempDir()
	stateMgr := state.NewManager(dir)
	stateMgr.Save(&state.SessionState{
		SessionID: "ses-orphan",
		PID:       cmd.Process.Pid,
		PGID:      cmd.Process.Pid,
		Port:      41000,
	})

	result, err := CleanupStaleState(stateMgr, nil, time.Second, nil)
	if err != nil {
		t.Fatalf("CleanupStaleState: %v", err)
	}
	if !result.OrphanKilled || result.OrphanPID != cmd.Process.Pid {
		t.Errorf("result = %+v", result)
	}

	select {
	case <-exited:
	case <-time.After(3 * time.Second):
		t.Fatal("orphan still running after cleanup")
	}
	if !strings.Contains(FormatCleanupResult(result), "Stopped orphaned aria2c") {
		t.Errorf("FormatCleanupResult = %q", FormatCleanupResult(result))
	}
}

func TestCleanupLeavesReusedPIDAlone(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()

	dir := t.TempDir()
	stateMgr := state.NewManager(dir)
	stateMgr.Save(&state.SessionState{
		SessionID: "ses-reused",
		PID:       cmd.Process.Pid,
		PGID:      cmd.Process.Pid,
		Port:      41000,
	})

	result, err := CleanupStaleState(stateMgr, nil, 200*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("CleanupStaleState: %v", err)
	}
	if result.OrphanKilled {
		t.Error("OrphanKilled = true for a process that is not aria2c")
	}
	if !result.PIDReused {
		t.Error("PIDReused = false")
	}
	if !supervisor.ProcessAlive(cmd.Process.Pid) {
		t.Fatal("unrelated process was signalled")
	}
	if stateMgr.Exists() {
		t.Error("session state should be removed")
	}
	if got := FormatCleanupResult(result); !strings.Contains(got, "ses-reused") || !strings.Contains(got, "left running") {
		t.Errorf("FormatCleanupResult = %q", got)
	}
}

func TestCleanupCorruptStateIsRemoved(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, state.FileName), []byte("{"), 0o644)
	stateMgr := state.NewManager(dir)

	result, err := CleanupStaleState(stateMgr, nil, time.Second, nil)
	if err != nil {
		t.Fatalf("CleanupStaleState: %v", err)
	}
	if result.StaleSession != nil {
		t.Error("corrupt state parsed")
	}
	if stateMgr.Exists() {
		t.Error("corrupt state should be removed")
	}
}

func TestCleanupStaleLocks(t *testing.T) {
	dir := t.TempDir()
	lockDir := filepath.Join(dir, "locks")
	os.MkdirAll(lockDir, 0o755)
	os.WriteFile(filepath.Join(lockDir, "__srv.lock"), []byte("x 1 2024-01-01T00:00:00Z\n"), 0o644)

	result, err := CleanupStaleState(nil, locks.NewManager(lockDir), time.Second, nil)
	if err != nil {
		t.Fatalf("CleanupStaleState: %v", err)
	}
	if result.StaleLocksCleaned != 1 {
		t.Errorf("StaleLocksCleaned = %d, want 1", result.StaleLocksCleaned)
	}
	if !strings.Contains(FormatCleanupResult(result), "1 stale lock") {
		t.Errorf("FormatCleanupResult = %q", FormatCleanupResult(result))
	}
}

func TestFormatCleanupResultNil(t *testing.T) {
	if got := FormatCleanupResult(nil); got != "No cleanup needed" {
		t.Errorf("FormatCleanupResult(nil) = %q", got)
	}
}
