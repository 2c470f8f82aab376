package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kylegalloway/ariaflow/internal/retry"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("../../testdata/configs", name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse(readFixture(t, "valid_full.yaml"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.SchemaVersion != 1 {
		t.Errorf("schema_version = %d, want 1", cfg.SchemaVersion)
	}
	if cfg.Download.Directory != "/srv/downloads" {
		t.Errorf("download.directory = %q", cfg.Download.Directory)
	}
	if cfg.Download.MaxConcurrent != 8 {
		t.Errorf("download.max_concurrent = %d, want 8", cfg.Download.MaxConcurrent)
	}
	if cfg.Download.Secret != "s3cr3t" {
		t.Errorf("download.secret = %q", cfg.Download.Secret)
	}
	if cfg.RPC.Transport != TransportWebSocket {
		t.Errorf("rpc.transport = %q, want websocket", cfg.RPC.Transport)
	}
	if cfg.RPC.PollInterval != 250*time.Millisecond {
		t.Errorf("rpc.poll_interval = %v, want 250ms", cfg.RPC.PollInterval)
	}
	if cfg.RPC.StoppedPageSize != 500 || cfg.RPC.WaitingPageSize != 200 {
		t.Errorf("page sizes = %d/%d", cfg.RPC.StoppedPageSize, cfg.RPC.WaitingPageSize)
	}
	if cfg.Process.StopGrace != 3*time.Second {
		t.Errorf("process.stop_grace = %v, want 3s", cfg.Process.StopGrace)
	}
	if cfg.Retry.Start.Attempts != 3 {
		t.Errorf("retry.start.attempts = %d, want 3", cfg.Retry.Start.Attempts)
	}
	if !cfg.Retry.RPC.Jitter {
		t.Error("retry.rpc.jitter = false, want true")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q", cfg.Log.Level)
	}
	if cfg.Results.BucketURL != "file:///var/lib/ariaflow" {
		t.Errorf("results.bucket_url = %q", cfg.Results.BucketURL)
	}
	if cfg.Preflight.MinDiskMB != 2048 {
		t.Errorf("preflight.min_disk_mb = %d", cfg.Preflight.MinDiskMB)
	}
}

func TestParseMinimalAppliesDefaults(t *testing.T) {
	cfg, err := Parse(readFixture(t, "valid_minimal.yaml"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.Download.Directory != "downloads" {
		t.Errorf("download.directory = %q", cfg.Download.Directory)
	}
	if cfg.Download.MaxConcurrent != 5 {
		t.Errorf("download.max_concurrent = %d, want 5", cfg.Download.MaxConcurrent)
	}
	if cfg.Download.Aria2cPath != "aria2c" {
		t.Errorf("download.aria2c_path = %q", cfg.Download.Aria2cPath)
	}
	if cfg.RPC.Host != "127.0.0.1" || cfg.RPC.Transport != TransportHTTP {
		t.Errorf("rpc = %+v", cfg.RPC)
	}
	if cfg.RPC.PollInterval != 500*time.Millisecond {
		t.Errorf("rpc.poll_interval = %v", cfg.RPC.PollInterval)
	}
	if cfg.RPC.StoppedPageSize != 1000 || cfg.RPC.WaitingPageSize != 1000 {
		t.Errorf("page sizes = %d/%d", cfg.RPC.StoppedPageSize, cfg.RPC.WaitingPageSize)
	}
	if cfg.Process.ExitCheckDelay != 100*time.Millisecond {
		t.Errorf("process.exit_check_delay = %v", cfg.Process.ExitCheckDelay)
	}
	if cfg.Process.StopGrace != 1500*time.Millisecond {
		t.Errorf("process.stop_grace = %v", cfg.Process.StopGrace)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log.level = %q", cfg.Log.Level)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}
	if cfg.Download.Directory != "." {
		t.Errorf("download.directory = %q, want .", cfg.Download.Directory)
	}
}

func TestParseInvalidFixtures(t *testing.T) {
	tests := []struct {
		fixture string
		want    string
	}{
		{"invalid_concurrency.yaml", "max_concurrent"},
		{"invalid_transport.yaml", "rpc.transport"},
	}
	for _, tt := range tests {
		t.Run(tt.fixture, func(t *testing.T) {
			_, err := Parse(readFixture(t, tt.fixture))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero concurrency", func(c *Config) { c.Download.MaxConcurrent = 0 }, "max_concurrent"},
		{"negative poll", func(c *Config) { c.RPC.PollInterval = -time.Second }, "rpc.poll_interval"},
		{"zero grace", func(c *Config) { c.Process.StopGrace = 0 }, "process.stop_grace"},
		{"page size", func(c *Config) { c.RPC.StoppedPageSize = -1 }, "stopped_page_size"},
		{"bad multiplier", func(c *Config) { c.Retry.TCP.Multiplier = 0.5 }, "retry.tcp.multiplier"},
		{"negative attempts", func(c *Config) { c.Retry.Start.Attempts = -1 }, "retry.start.attempts"},
		{"wait order", func(c *Config) {
			c.Retry.RPC.InitialWait = 2 * time.Second
			c.Retry.RPC.MaxWait = time.Second
		}, "retry.rpc.initial_wait"},
		{"bucket scheme", func(c *Config) { c.Results.BucketURL = "s3://bucket" }, "unsupported scheme"},
		{"disk", func(c *Config) { c.Preflight.MinDiskMB = -5 }, "min_disk_mb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateHighConcurrency(t *testing.T) {
	for _, n := range []int{1, 20, 32, 100} {
		cfg := Default()
		cfg.Download.MaxConcurrent = n
		if err := Validate(cfg); err != nil {
			t.Errorf("Validate(max_concurrent=%d): %v", n, err)
		}
	}
}

func TestValidateBucketSchemes(t *testing.T) {
	for _, u := range []string{"file:///tmp/manifests", "mem://"} {
		cfg := Default()
		cfg.Results.BucketURL = u
		if err := Validate(cfg); err != nil {
			t.Errorf("Validate(%q): %v", u, err)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARIAFLOW_DIR", "/env/dir")
	t.Setenv("ARIAFLOW_MAX_CONCURRENT", "3")
	t.Setenv("ARIAFLOW_TRANSPORT", "websocket")
	t.Setenv("ARIAFLOW_POLL_INTERVAL", "2s")
	t.Setenv("ARIAFLOW_SECRET", "from-env")
	t.Setenv("ARIAFLOW_LOG_LEVEL", "warn")

	cfg, err := Parse(readFixture(t, "valid_minimal.yaml"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Download.Directory != "/env/dir" {
		t.Errorf("download.directory = %q, want env value", cfg.Download.Directory)
	}
	if cfg.Download.MaxConcurrent != 3 {
		t.Errorf("download.max_concurrent = %d, want 3", cfg.Download.MaxConcurrent)
	}
	if cfg.RPC.Transport != TransportWebSocket {
		t.Errorf("rpc.transport = %q", cfg.RPC.Transport)
	}
	if cfg.RPC.PollInterval != 2*time.Second {
		t.Errorf("rpc.poll_interval = %v", cfg.RPC.PollInterval)
	}
	if cfg.Download.Secret != "from-env" || cfg.Log.Level != "warn" {
		t.Errorf("secret/level = %q/%q", cfg.Download.Secret, cfg.Log.Level)
	}
}

func TestEnvOverrideBadValue(t *testing.T) {
	t.Setenv("ARIAFLOW_MAX_CONCURRENT", "many")
	if _, err := Parse(nil); err == nil || !strings.Contains(err.Error(), "ARIAFLOW_MAX_CONCURRENT") {
		t.Errorf("error = %v, want parse error naming the variable", err)
	}
}

func TestLoadOptionalMissing(t *testing.T) {
	cfg, err := LoadOptional(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if cfg.Download.MaxConcurrent != 5 {
		t.Errorf("download.max_concurrent = %d, want default 5", cfg.Download.MaxConcurrent)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("download:\n  max_concurrent: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Download.MaxConcurrent != 2 {
		t.Errorf("download.max_concurrent = %d, want 2", cfg.Download.MaxConcurrent)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPolicyConfigApply(t *testing.T) {
	base := retry.Policy{
		Name:        "tcp-ready",
		InitialWait: 50 * time.Millisecond,
		MaxWait:     time.Second,
		Multiplier:  2,
		Timeout:     3 * time.Second,
	}

	got := PolicyConfig{}.Apply(base)
	if got.InitialWait != base.InitialWait || got.Timeout != base.Timeout || got.Name != base.Name {
		t.Errorf("empty override changed policy: %+v", got)
	}

	got = PolicyConfig{Timeout: 10 * time.Second, Attempts: 4, Jitter: true}.Apply(base)
	if got.Timeout != 10*time.Second || got.Attempts != 4 || !got.Jitter {
		t.Errorf("override not applied: %+v", got)
	}
	if got.MaxWait != time.Second || got.Name != "tcp-ready" {
		t.Errorf("unset fields changed: %+v", got)
	}
}
