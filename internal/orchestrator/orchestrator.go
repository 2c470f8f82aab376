// Package orchestrator drives one aria2c download session: start the
// subprocess, submit URLs, poll the remote queues until they drain, and
// collect exactly one completion record per finished transfer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kylegalloway/ariaflow/internal/logging"
	"github.com/kylegalloway/ariaflow/internal/readiness"
	"github.com/kylegalloway/ariaflow/internal/retry"
	"github.com/kylegalloway/ariaflow/internal/rpc"
	"github.com/kylegalloway/ariaflow/internal/state"
	"github.com/kylegalloway/ariaflow/internal/supervisor"
	"github.com/kylegalloway/ariaflow/internal/tasks"
)

var (
	ErrAlreadyStarted = errors.New("orchestrator already started")
	ErrNotStarted     = errors.New("orchestrator not started")
)

// Launcher starts and stops the aria2c process.
type Launcher interface {
	Launch(port int, secret string, extra []string) (*supervisor.Handle, error)
	Terminate(h *supervisor.Handle)
}

// ProgressSink receives task events as polling observes them.
type ProgressSink interface {
	TaskAdded(t tasks.DownloadTask)
	TaskUpdated(t tasks.DownloadTask)
	TaskFinished(r tasks.CompletionRecord)
}

// Options configure a session.
type Options struct {
	Directory     string
	MaxConcurrent int
	Secret        string
	Verbose       bool

	Host      string // control channel host, default 127.0.0.1
	Transport string // rpc.TransportHTTP or rpc.TransportWebSocket

	StartPolicy retry.Policy
	TCPPolicy   retry.Policy
	RPCPolicy   retry.Policy

	PollInterval    time.Duration
	StoppedPageSize int
	WaitingPageSize int
	CallTimeout     time.Duration
}

// DefaultStartPolicy retries the whole start sequence when the process dies
// early or its control channel never comes up.
func DefaultStartPolicy() retry.Policy {
	return retry.Policy{
		Name:        "start",
		InitialWait: 100 * time.Millisecond,
		MaxWait:     2 * time.Second,
		Multiplier:  2,
		Attempts:    5,
		RetryIf: retry.On(
			supervisor.ErrProcessExitEarly,
			readiness.ErrTCPNotReady,
			readiness.ErrRPCNotReady,
		),
	}
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxConcurrent:   5,
		Host:            "127.0.0.1",
		Transport:       rpc.TransportHTTP,
		StartPolicy:     DefaultStartPolicy(),
		TCPPolicy:       readiness.DefaultTCPPolicy(),
		RPCPolicy:       readiness.DefaultRPCPolicy(),
		PollInterval:    500 * time.Millisecond,
		StoppedPageSize: 1000,
		WaitingPageSize: 1000,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.Directory == "" {
		o.Directory = "."
	}
	if o.MaxConcurrent < 1 {
		o.MaxConcurrent = 1
	}
	if o.Host == "" {
		o.Host = d.Host
	}
	if o.Transport == "" {
		o.Transport = d.Transport
	}
	if o.StartPolicy.Attempts == 0 && o.StartPolicy.Timeout == 0 {
		o.StartPolicy = d.StartPolicy
	}
	if o.TCPPolicy.Timeout == 0 && o.TCPPolicy.Attempts == 0 {
		o.TCPPolicy = d.TCPPolicy
	}
	if o.RPCPolicy.Timeout == 0 && o.RPCPolicy.Attempts == 0 {
		o.RPCPolicy = d.RPCPolicy
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.StoppedPageSize <= 0 {
		o.StoppedPageSize = d.StoppedPageSize
	}
	if o.WaitingPageSize <= 0 {
		o.WaitingPageSize = d.WaitingPageSize
	}
}

// Orchestrator owns one aria2c session. It is not safe for concurrent use;
// cancel the context passed to WaitForCompletion to interrupt it.
type Orchestrator struct {
	opts     Options
	launcher Launcher
	logger   *slog.Logger
	progress ProgressSink
	stateMgr *state.Manager
	ports    func() int

	sessionID string
	handle    *supervisor.Handle
	client    *rpc.Client
	version   string

	tasks     map[string]*tasks.DownloadTask
	urls      map[string]string
	processed map[string]bool
	completed []tasks.CompletionRecord
	failed    []tasks.CompletionRecord
}

// New creates an orchestrator. Zero-valued options take their defaults.
func New(opts Options, launcher Launcher, logger *slog.Logger) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		opts:      opts,
		launcher:  launcher,
		logger:    logging.OrDiscard(logger),
		ports:     supervisor.RandomPort,
		sessionID: uuid.NewString(),
		tasks:     make(map[string]*tasks.DownloadTask),
		urls:      make(map[string]string),
		processed: make(map[string]bool),
	}
}

// SetProgress attaches a progress sink.
func (o *Orchestrator) SetProgress(p ProgressSink) {
	o.progress = p
}

// SetStateManager enables persisting the running process for orphan cleanup.
func (o *Orchestrator) SetStateManager(m *state.Manager) {
	o.stateMgr = m
}

// SetPortAllocator replaces the random ephemeral port source.
func (o *Orchestrator) SetPortAllocator(next func() int) {
	o.ports = next
}

// SessionID identifies this session in state files and manifests.
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// Started reports whether the session holds a live process and client.
func (o *Orchestrator) Started() bool {
	return o.client != nil
}

// Port is the control-channel port of the running process, or 0.
func (o *Orchestrator) Port() int {
	if o.handle == nil {
		return 0
	}
	return o.handle.Port
}

// Version is the aria2 version reported by the handshake.
func (o *Orchestrator) Version() string {
	return o.version
}

// Start launches aria2c and waits until its control channel answers. On
// failure no process is left running.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.client != nil {
		return ErrAlreadyStarted
	}
	if err := os.MkdirAll(o.opts.Directory, 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}

	extra := supervisor.ConcurrencyArgs(o.opts.MaxConcurrent)
	attempt := 0
	err := retry.Do(ctx, o.opts.StartPolicy, func(ctx context.Context) error {
		attempt++
		err := o.startOnce(ctx, extra)
		if err != nil {
			o.logger.Warn("aria2c start attempt failed", "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("start aria2c: %w", err)
	}

	o.logger.Info("aria2c ready", "version", o.version, "port", o.handle.Port,
		"pid", o.handle.PID, "transport", o.opts.Transport)
	o.persistState()
	return nil
}

func (o *Orchestrator) startOnce(ctx context.Context, extra []string) error {
	port := o.ports()
	h, err := o.launcher.Launch(port, o.opts.Secret, extra)
	if err != nil {
		return err
	}

	if err := readiness.AwaitTCP(ctx, o.opts.Host, h.Port, o.opts.TCPPolicy); err != nil {
		o.launcher.Terminate(h)
		return err
	}

	client, err := rpc.Dial(rpc.Config{
		Host:      o.opts.Host,
		Port:      h.Port,
		Secret:    o.opts.Secret,
		Transport: o.opts.Transport,
		Timeout:   o.opts.CallTimeout,
	}, o.logger)
	if err != nil {
		o.launcher.Terminate(h)
		return err
	}

	addr := net.JoinHostPort(o.opts.Host, strconv.Itoa(h.Port))
	info, err := readiness.AwaitRPC(ctx, client, addr, o.opts.RPCPolicy)
	if err != nil {
		client.Close()
		o.launcher.Terminate(h)
		return err
	}

	o.handle = h
	o.client = client
	o.version = info.Version
	return nil
}

// AddURLs submits each valid URL as its own download and returns the GIDs in
// submission order. Invalid URLs are logged and skipped. The first RPC
// failure aborts the batch; GIDs assigned before it are still returned.
func (o *Orchestrator) AddURLs(ctx context.Context, urls []string) ([]string, error) {
	if o.client == nil {
		return nil, ErrNotStarted
	}

	gids := make([]string, 0, len(urls))
	for _, u := range urls {
		if err := tasks.ValidateURL(u); err != nil {
			o.logger.Warn("skipping invalid url", "url", u, "error", err)
			continue
		}

		gid, err := o.client.AddURI(ctx, []string{u}, rpc.AddOptions{
			Dir:            o.opts.Directory,
			Continue:       true,
			CheckIntegrity: true,
		})
		if err != nil {
			return gids, err
		}
		o.urls[gid] = u
		gids = append(gids, gid)
		level := slog.LevelDebug
		if o.opts.Verbose {
			level = slog.LevelInfo
		}
		o.logger.Log(ctx, level, "queued download", "gid", gid, "url", u)
	}
	return gids, nil
}

// PollOnce reads the waiting, active and stopped queues once and records any
// newly stopped tasks. It reports whether work remains.
func (o *Orchestrator) PollOnce(ctx context.Context) (bool, error) {
	if o.client == nil {
		return false, ErrNotStarted
	}

	waiting, err := o.client.TellWaiting(ctx, 0, o.opts.WaitingPageSize)
	if err != nil {
		return false, err
	}
	active, err := o.client.TellActive(ctx)
	if err != nil {
		return false, err
	}
	stopped, err := o.client.TellStopped(ctx, 0, o.opts.StoppedPageSize)
	if err != nil {
		return false, err
	}

	for _, e := range waiting {
		o.observe(e, tasks.StatusWaiting)
	}
	for _, e := range active {
		o.observe(e, tasks.StatusActive)
	}
	for _, e := range stopped {
		o.finish(e)
	}

	return len(waiting)+len(active) > 0, nil
}

func (o *Orchestrator) observe(e rpc.Entry, status string) {
	if o.processed[e.GID] {
		return
	}
	t, added := o.ensureTask(e.GID)
	name := tasks.DisplayName(e.Paths(), "")
	if name == "unknown" {
		name = ""
	}
	if err := t.Observe(status, e.TotalLength, e.CompletedLength, name); err != nil {
		o.logger.Debug("ignoring task update", "gid", e.GID, "error", err)
		return
	}
	if o.progress == nil {
		return
	}
	if added {
		o.progress.TaskAdded(*t)
	}
	o.progress.TaskUpdated(*t)
}

func (o *Orchestrator) finish(e rpc.Entry) {
	if o.processed[e.GID] {
		return
	}
	o.processed[e.GID] = true

	path := ""
	for _, p := range e.Paths() {
		if p != "" {
			path = p
			break
		}
	}
	rec := tasks.CompletionRecord{
		GID:             e.GID,
		URL:             o.urls[e.GID],
		Path:            path,
		Status:          e.Status,
		TotalLength:     e.TotalLength,
		CompletedLength: e.CompletedLength,
		ErrorCode:       e.ErrorCode,
		ErrorMessage:    e.ErrorMessage,
	}

	t, added := o.ensureTask(e.GID)
	_ = t.Stop(e.TotalLength, e.CompletedLength, rec.DisplayName())

	if rec.Succeeded() {
		o.completed = append(o.completed, rec)
		o.logger.Info("download complete", "gid", rec.GID, "file", rec.DisplayName(),
			"bytes", rec.CompletedLength)
	} else {
		o.failed = append(o.failed, rec)
		o.logger.Error("download failed", "gid", rec.GID, "file", rec.DisplayName(),
			"status", rec.Status, "error_code", rec.ErrorCode, "message", rec.ErrorMessage)
	}

	if o.progress != nil {
		if added {
			o.progress.TaskAdded(*t)
		}
		o.progress.TaskFinished(rec)
	}
}

func (o *Orchestrator) ensureTask(gid string) (*tasks.DownloadTask, bool) {
	if t, ok := o.tasks[gid]; ok {
		return t, false
	}
	t := &tasks.DownloadTask{GID: gid, URL: o.urls[gid], Status: tasks.StatusWaiting}
	o.tasks[gid] = t
	return t, true
}

// WaitForCompletion polls until both the waiting and active queues are empty,
// then polls once more to collect the last stopped tasks. If ctx is cancelled
// it returns ctx.Err() along with the results gathered so far.
func (o *Orchestrator) WaitForCompletion(ctx context.Context) (completed, failed []tasks.CompletionRecord, err error) {
	if o.client == nil {
		return nil, nil, ErrNotStarted
	}

	for {
		if err := ctx.Err(); err != nil {
			completed, failed = o.Results()
			return completed, failed, err
		}

		pending, err := o.PollOnce(ctx)
		if err != nil {
			completed, failed = o.Results()
			if ctx.Err() != nil {
				return completed, failed, ctx.Err()
			}
			return completed, failed, err
		}
		if !pending {
			break
		}

		timer := time.NewTimer(o.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			completed, failed = o.Results()
			return completed, failed, ctx.Err()
		case <-timer.C:
		}
	}

	if _, err := o.PollOnce(ctx); err != nil {
		completed, failed = o.Results()
		return completed, failed, err
	}
	completed, failed = o.Results()
	return completed, failed, nil
}

// Results returns copies of the records collected so far, ordered by GID.
// It does not poll.
func (o *Orchestrator) Results() (completed, failed []tasks.CompletionRecord) {
	completed = sortedCopy(o.completed)
	failed = sortedCopy(o.failed)
	return completed, failed
}

func sortedCopy(recs []tasks.CompletionRecord) []tasks.CompletionRecord {
	out := make([]tasks.CompletionRecord, len(recs))
	copy(out, recs)
	sort.Slice(out, func(i, j int) bool { return out[i].GID < out[j].GID })
	return out
}

// Tasks returns a snapshot of every task seen so far, ordered by GID.
func (o *Orchestrator) Tasks() []tasks.DownloadTask {
	out := make([]tasks.DownloadTask, 0, len(o.tasks))
	for _, t := range o.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GID < out[j].GID })
	return out
}

// Stop terminates aria2c and drops the client. It is a no-op when nothing is
// running and may be called any number of times.
func (o *Orchestrator) Stop() {
	if o.client == nil && o.handle == nil {
		return
	}
	if o.client != nil {
		o.client.Close()
		o.client = nil
	}
	if o.handle != nil {
		o.logger.Debug("stopping aria2c", "pid", o.handle.PID, "port", o.handle.Port)
		o.launcher.Terminate(o.handle)
		o.handle = nil
	}
	if o.stateMgr != nil {
		if err := o.stateMgr.Remove(); err != nil {
			o.logger.Warn("could not remove session state", "error", err)
		}
	}
}

func (o *Orchestrator) persistState() {
	if o.stateMgr == nil || o.handle == nil {
		return
	}
	err := o.stateMgr.Save(&state.SessionState{
		SessionID: o.sessionID,
		PID:       o.handle.PID,
		PGID:      o.handle.PGID,
		Port:      o.handle.Port,
		Directory: o.opts.Directory,
		StartTime: o.handle.Started,
	})
	if err != nil {
		o.logger.Warn("could not persist session state", "error", err)
	}
}
