package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/kylegalloway/ariaflow/internal/tasks"
)

// ProgressState holds the current state for progress display.
type ProgressState struct {
	Waiting    int
	Active     int
	Completed  int
	Failed     int
	Total      int
	BytesDone  int64
	BytesTotal int64
	StartTime  time.Time
}

// FormatProgress returns a single-line progress string.
func FormatProgress(ps ProgressState) string {
	elapsed := time.Since(ps.StartTime).Truncate(time.Second)
	return fmt.Sprintf("[ariaflow] %d active | %d waiting | %d/%d done | %d failed | %s / %s | %s elapsed",
		ps.Active, ps.Waiting, ps.Completed, ps.Total, ps.Failed,
		FormatBytes(ps.BytesDone), FormatBytes(ps.BytesTotal), formatDuration(elapsed))
}

// Options configures the progress reporter.
type Options struct {
	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often the progress line is printed.
	// Default: 2s
	UpdateInterval time.Duration

	// Total is the number of downloads submitted, for display.
	Total int
}

// Reporter prints task events and a periodic progress line. It receives
// events from the orchestrator and is safe to use from its own ticker
// goroutine at the same time.
type Reporter struct {
	opts Options

	mu        sync.Mutex
	tasks     map[string]tasks.DownloadTask
	completed int
	failed    int
	bytesDone int64 // bytes of finished tasks
	startTime time.Time
	stopCh    chan struct{}
	done      chan struct{}
	started   bool
	stopped   bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 2 * time.Second
	}
	return &Reporter{
		opts:      opts,
		tasks:     make(map[string]tasks.DownloadTask),
		startTime: time.Now(),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins printing the periodic progress line.
func (r *Reporter) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.mu.Unlock()

	go r.updateLoop()
}

// Stop ends the progress line loop and waits for it to exit.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.done
	}
}

func (r *Reporter) TaskAdded(t tasks.DownloadTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.GID] = t
	fmt.Fprintf(r.opts.Output, "[ariaflow] Queued: %s\n", taskLabel(t))
}

func (r *Reporter) TaskUpdated(t tasks.DownloadTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.GID] = t
}

func (r *Reporter) TaskFinished(rec tasks.CompletionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, rec.GID)
	r.bytesDone += rec.CompletedLength
	if rec.Succeeded() {
		r.completed++
		fmt.Fprintf(r.opts.Output, "[ariaflow] Complete: %s (%s)\n", rec.DisplayName(), FormatBytes(rec.CompletedLength))
		return
	}
	r.failed++
	fmt.Fprintf(r.opts.Output, "[ariaflow] Failed: %s: %s\n", rec.DisplayName(), rec.FailureMessage())
}

// Snapshot returns the aggregate state.
func (r *Reporter) Snapshot() ProgressState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *Reporter) snapshot() ProgressState {
	ps := ProgressState{
		Completed: r.completed,
		Failed:    r.failed,
		Total:     r.opts.Total,
		BytesDone: r.bytesDone,
		StartTime: r.startTime,
	}
	ps.BytesTotal = r.bytesDone
	for _, t := range r.tasks {
		switch t.Status {
		case tasks.StatusActive:
			ps.Active++
		case tasks.StatusWaiting:
			ps.Waiting++
		}
		ps.BytesDone += t.CompletedLength
		ps.BytesTotal += t.TotalLength
	}
	if ps.Total < ps.Completed+ps.Failed+len(r.tasks) {
		ps.Total = ps.Completed + ps.Failed + len(r.tasks)
	}
	return ps
}

func (r *Reporter) updateLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.mu.Lock()
			if len(r.tasks) > 0 {
				fmt.Fprintln(r.opts.Output, FormatProgress(r.snapshot()))
			}
			r.mu.Unlock()
		}
	}
}

func taskLabel(t tasks.DownloadTask) string {
	if t.Name != "" {
		return t.Name
	}
	if t.URL != "" {
		return t.URL
	}
	return t.GID
}

// FormatBytes formats bytes as a human-readable string. Zero and negative
// sizes render as "-".
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b <= 0:
		return "-"
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm %ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
