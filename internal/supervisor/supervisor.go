//go:build unix

// Package supervisor launches and terminates the aria2c subprocess.
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kylegalloway/ariaflow/internal/logging"
	"github.com/kylegalloway/ariaflow/internal/sanitize"
)

// DefaultBinary is the executable looked up on PATH when none is configured.
const DefaultBinary = "aria2c"

const (
	defaultExitCheckDelay = 100 * time.Millisecond
	defaultStopGrace      = 1500 * time.Millisecond
	reapTimeout           = 2 * time.Second
	stderrTailBytes       = 8 << 10
)

var (
	// ErrProcessExitEarly is matched by *ExitEarlyError.
	ErrProcessExitEarly = errors.New("aria2c exited during startup")
	// ErrBinaryNotFound means the aria2c executable could not be located.
	ErrBinaryNotFound = errors.New("aria2c binary not found")
)

// ExitEarlyError reports an aria2c process that died before the exit check.
type ExitEarlyError struct {
	Port     int
	ExitCode int
	Stderr   string
}

func (e *ExitEarlyError) Error() string {
	msg := fmt.Sprintf("aria2c exited early on port %d with code %d", e.Port, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExitEarlyError) Unwrap() error { return ErrProcessExitEarly }

// BuildArgs returns the aria2c command line for a private control channel on
// port. extra is appended verbatim.
func BuildArgs(port int, secret string, extra []string) []string {
	args := []string{
		"--enable-rpc=true",
		"--rpc-listen-port=" + strconv.Itoa(port),
		"--rpc-listen-all=false",
		"--disable-ipv6=false",
		"--check-integrity=true",
		"--continue=true",
	}
	if secret != "" {
		args = append(args, "--rpc-secret="+secret)
	}
	return append(args, extra...)
}

// ConcurrencyArgs returns the extra argument capping simultaneous downloads.
// Values below 1 are raised to 1.
func ConcurrencyArgs(n int) []string {
	if n < 1 {
		n = 1
	}
	return []string{"--max-concurrent-downloads=" + strconv.Itoa(n)}
}

// Handle is a launched aria2c process.
type Handle struct {
	PID     int
	PGID    int
	Port    int
	Secret  string
	Started time.Time

	cmd      *exec.Cmd
	stderr   *tailBuffer
	done     chan struct{}
	exitCode int
	stopOnce sync.Once
}

// Exited reports whether the process has been reaped.
func (h *Handle) Exited() bool {
	if h == nil || h.done == nil {
		return false
	}
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitCode is the process exit code, or -1 while running or when killed by a
// signal.
func (h *Handle) ExitCode() int {
	if !h.Exited() {
		return -1
	}
	return h.exitCode
}

// Stderr returns the captured tail of the process's standard error.
func (h *Handle) Stderr() string {
	if h == nil || h.stderr == nil {
		return ""
	}
	return strings.TrimSpace(h.stderr.String())
}

// Supervisor starts aria2c processes in their own process group.
type Supervisor struct {
	Binary         string
	ExitCheckDelay time.Duration
	StopGrace      time.Duration
	Logger         *slog.Logger
}

// New creates a supervisor for binary (DefaultBinary when empty).
func New(binary string, logger *slog.Logger) *Supervisor {
	return &Supervisor{Binary: binary, Logger: logger}
}

func (s *Supervisor) binary() string {
	if s.Binary == "" {
		return DefaultBinary
	}
	return s.Binary
}

func (s *Supervisor) logger() *slog.Logger {
	return logging.OrDiscard(s.Logger)
}

// Launch starts aria2c listening on port. If the process exits before the
// exit check delay elapses, Launch returns an *ExitEarlyError carrying its
// stderr.
func (s *Supervisor) Launch(port int, secret string, extra []string) (*Handle, error) {
	path, err := exec.LookPath(s.binary())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBinaryNotFound, s.binary())
	}

	args := BuildArgs(port, secret, extra)
	cmd := exec.Command(path, args...)
	tail := newTailBuffer(stderrTailBytes)
	cmd.Stdout = nil
	cmd.Stderr = tail
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		pgid = pid
	}

	h := &Handle{
		PID:     pid,
		PGID:    pgid,
		Port:    port,
		Secret:  secret,
		Started: time.Now(),
		cmd:     cmd,
		stderr:  tail,
		done:    make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		h.exitCode = cmd.ProcessState.ExitCode()
		close(h.done)
	}()

	s.logger().Debug("launched aria2c", "pid", pid, "port", port,
		"args", strings.Join(sanitize.Args(args), " "))

	delay := s.ExitCheckDelay
	if delay <= 0 {
		delay = defaultExitCheckDelay
	}
	select {
	case <-h.done:
		exitErr := &ExitEarlyError{Port: port, ExitCode: h.exitCode, Stderr: h.Stderr()}
		s.logger().Debug("aria2c exited early", "port", port, "exit_code", h.exitCode)
		return nil, exitErr
	case <-time.After(delay):
	}
	return h, nil
}

// Terminate stops the process: SIGTERM to its group and pid, then SIGKILL
// once the grace period runs out. It is safe on nil and repeated calls.
func (s *Supervisor) Terminate(h *Handle) {
	if h == nil || h.cmd == nil {
		return
	}
	h.stopOnce.Do(func() {
		if h.Exited() {
			return
		}
		grace := s.StopGrace
		if grace <= 0 {
			grace = defaultStopGrace
		}

		s.logger().Debug("terminating aria2c", "pid", h.PID, "pgid", h.PGID)
		signalGroup(h.PID, h.PGID, syscall.SIGTERM)

		select {
		case <-h.done:
			return
		case <-time.After(grace):
		}

		signalGroup(h.PID, h.PGID, syscall.SIGKILL)
		s.logger().Warn("aria2c ignored SIGTERM, sent SIGKILL", "pid", h.PID)

		select {
		case <-h.done:
		case <-time.After(reapTimeout):
			s.logger().Error("aria2c not reaped after SIGKILL", "pid", h.PID)
		}
	})
}

// TerminatePID stops a process that is not a child of this one, such as an
// aria2c left behind by a crashed session. Liveness is polled with signal 0.
func TerminatePID(pid, pgid int, grace time.Duration) {
	if pid <= 0 || !ProcessAlive(pid) {
		return
	}
	signalGroup(pid, pgid, syscall.SIGTERM)

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !ProcessAlive(pid) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	signalGroup(pid, pgid, syscall.SIGKILL)
}

// ProcessAlive checks if a given PID is still running.
func ProcessAlive(pid int) bool {
	return pid > 0 && syscall.Kill(pid, 0) == nil
}

func signalGroup(pid, pgid int, sig syscall.Signal) {
	// Never signal our own group.
	if pgid > 0 && pgid != syscall.Getpgrp() {
		_ = syscall.Kill(-pgid, sig)
	}
	_ = syscall.Kill(pid, sig)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
