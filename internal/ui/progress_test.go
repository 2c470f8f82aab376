package ui

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kylegalloway/ariaflow/internal/tasks"
)

// syncBuffer guards a bytes.Buffer shared with the reporter's ticker goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFormatProgress(t *testing.T) {
	ps := ProgressState{
		Waiting:    2,
		Active:     3,
		Completed:  4,
		Failed:     1,
		Total:      10,
		BytesDone:  1536,
		BytesTotal: 3 * 1024 * 1024,
		StartTime:  time.Now().Add(-5 * time.Minute),
	}

	got := FormatProgress(ps)
	for _, want := range []string{"3 active", "2 waiting", "4/10 done", "1 failed", "1.50 KB", "3.00 MB", "5m 0s elapsed"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q: %s", want, got)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{-1, "-"},
		{0, "-"},
		{512, "512 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
		{3 * 1024 * 1024 * 1024, "3.00 GB"},
		{2 * 1024 * 1024 * 1024 * 1024, "2.00 TB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{3*time.Minute + 7*time.Second, "3m 7s"},
		{2*time.Hour + 5*time.Minute + 1*time.Second, "2h 5m 1s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReporterEvents(t *testing.T) {
	var out syncBuffer
	r := NewReporter(Options{Output: &out, Total: 3})

	r.TaskAdded(tasks.DownloadTask{GID: "g1", URL: "http://example.com/a.iso", Status: tasks.StatusWaiting})
	r.TaskAdded(tasks.DownloadTask{GID: "g2", URL: "http://example.com/b.iso", Status: tasks.StatusWaiting})
	r.TaskAdded(tasks.DownloadTask{GID: "g3", URL: "http://example.com/c.iso", Status: tasks.StatusWaiting})
	r.TaskUpdated(tasks.DownloadTask{GID: "g2", Status: tasks.StatusActive, TotalLength: 2000, CompletedLength: 500})

	snap := r.Snapshot()
	if snap.Active != 1 || snap.Waiting != 2 {
		t.Errorf("active/waiting = %d/%d, want 1/2", snap.Active, snap.Waiting)
	}

	r.TaskFinished(tasks.CompletionRecord{GID: "g1", Path: "/dl/a.iso", Status: tasks.StatusComplete, TotalLength: 1000, CompletedLength: 1000})
	r.TaskFinished(tasks.CompletionRecord{GID: "g3", Status: tasks.StatusError, ErrorCode: "3", ErrorMessage: "Resource not found"})

	snap = r.Snapshot()
	if snap.Completed != 1 || snap.Failed != 1 || snap.Total != 3 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.BytesDone != 1500 || snap.BytesTotal != 3000 {
		t.Errorf("bytes = %d/%d, want 1500/3000", snap.BytesDone, snap.BytesTotal)
	}

	got := out.String()
	for _, want := range []string{
		"Queued: http://example.com/a.iso",
		"Complete: a.iso",
		"Failed: g3: Resource not found",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestReporterTicker(t *testing.T) {
	var out syncBuffer
	r := NewReporter(Options{Output: &out, UpdateInterval: 10 * time.Millisecond})
	r.TaskAdded(tasks.DownloadTask{GID: "g1", Status: tasks.StatusActive})
	r.Start()
	r.Start()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !strings.Contains(out.String(), "1 active") {
		time.Sleep(10 * time.Millisecond)
	}
	r.Stop()
	r.Stop()

	if !strings.Contains(out.String(), "1 active") {
		t.Errorf("no progress line printed:\n%s", out.String())
	}
}

func TestReporterStopWithoutStart(t *testing.T) {
	r := NewReporter(Options{Output: &syncBuffer{}})
	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without Start")
	}
}

func TestFormatSummary(t *testing.T) {
	completed := []tasks.CompletionRecord{
		{GID: "g1", Path: "/dl/ubuntu.iso", Status: tasks.StatusComplete, CompletedLength: 2 * 1024 * 1024},
	}
	failed := []tasks.CompletionRecord{
		{GID: "g2", Status: tasks.StatusError, ErrorCode: "1", ErrorMessage: "timeout"},
		{GID: "g3", Path: "/dl/x.bin", Status: tasks.StatusError, ErrorCode: "22"},
	}

	got := FormatSummary(completed, failed)
	for _, want := range []string{
		"STATUS", "FILE", "SIZE", "MESSAGE",
		"ubuntu.iso", "2.00 MB",
		"timeout",
		"x.bin", "Error code 22",
		"Completed: 1  Failed: 2",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}

	lines := strings.Split(got, "\n")
	var rows int
	for _, l := range lines {
		if strings.HasPrefix(l, "Complete ") || strings.HasPrefix(l, "Failed ") {
			rows++
		}
	}
	if rows != 3 {
		t.Errorf("rows = %d, want 3:\n%s", rows, got)
	}
}

func TestFormatSummaryEmpty(t *testing.T) {
	got := FormatSummary(nil, nil)
	if strings.Contains(got, "STATUS") {
		t.Errorf("empty summary has a header:\n%s", got)
	}
	if !strings.Contains(got, "Completed: 0  Failed: 0") {
		t.Errorf("missing totals:\n%s", got)
	}
}
