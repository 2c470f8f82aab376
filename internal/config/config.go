package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/kylegalloway/ariaflow/internal/retry"
)

// FileName is the config file looked up in the working directory when no
// path is given.
const FileName = "ariaflow.yaml"

// Config represents the full ariaflow.yaml configuration.
type Config struct {
	SchemaVersion int             `yaml:"schema_version"`
	Download      DownloadConfig  `yaml:"download"`
	RPC           RPCConfig       `yaml:"rpc"`
	Process       ProcessConfig   `yaml:"process"`
	Retry         RetryConfig     `yaml:"retry"`
	Log           LogConfig       `yaml:"log"`
	Results       ResultsConfig   `yaml:"results"`
	Preflight     PreflightConfig `yaml:"preflight"`
}

type DownloadConfig struct {
	Directory     string `yaml:"directory"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	Secret        string `yaml:"secret"`
	Aria2cPath    string `yaml:"aria2c_path"`
}

type RPCConfig struct {
	Host            string        `yaml:"host"`
	Transport       string        `yaml:"transport"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	StoppedPageSize int           `yaml:"stopped_page_size"`
	WaitingPageSize int           `yaml:"waiting_page_size"`
}

type ProcessConfig struct {
	ExitCheckDelay time.Duration `yaml:"exit_check_delay"`
	StopGrace      time.Duration `yaml:"stop_grace"`
}

type RetryConfig struct {
	Start PolicyConfig `yaml:"start"`
	TCP   PolicyConfig `yaml:"tcp"`
	RPC   PolicyConfig `yaml:"rpc"`
}

// PolicyConfig overrides fields of a retry policy. Zero fields keep the
// built-in value.
type PolicyConfig struct {
	InitialWait time.Duration `yaml:"initial_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
	Multiplier  float64       `yaml:"multiplier"`
	Timeout     time.Duration `yaml:"timeout"`
	Attempts    int           `yaml:"attempts"`
	Jitter      bool          `yaml:"jitter"`
}

// Apply overlays the configured fields onto p. The policy name and the
// error kinds it retries are never changed.
func (pc PolicyConfig) Apply(p retry.Policy) retry.Policy {
	if pc.InitialWait > 0 {
		p.InitialWait = pc.InitialWait
	}
	if pc.MaxWait > 0 {
		p.MaxWait = pc.MaxWait
	}
	if pc.Multiplier > 0 {
		p.Multiplier = pc.Multiplier
	}
	if pc.Timeout > 0 {
		p.Timeout = pc.Timeout
	}
	if pc.Attempts > 0 {
		p.Attempts = pc.Attempts
	}
	if pc.Jitter {
		p.Jitter = true
	}
	return p
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type ResultsConfig struct {
	// BucketURL enables manifest publishing, e.g. file:///var/lib/ariaflow.
	BucketURL string `yaml:"bucket_url"`
}

type PreflightConfig struct {
	MinDiskMB int `yaml:"min_disk_mb"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses an ariaflow.yaml file, applying defaults, environment
// overrides and validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// LoadOptional is Load, except a missing file yields the defaults.
func LoadOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Parse(nil)
	}
	return Load(path)
}

// Parse parses raw YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	cfg, err := Migrate(data)
	if err != nil {
		return nil, err
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks a Config for logical errors.
func Validate(cfg *Config) error {
	if cfg.Download.MaxConcurrent < 1 {
		return fmt.Errorf("download.max_concurrent must be >= 1, got %d", cfg.Download.MaxConcurrent)
	}

	switch cfg.RPC.Transport {
	case TransportHTTP, TransportWebSocket:
	default:
		return fmt.Errorf("rpc.transport must be %q or %q, got %q", TransportHTTP, TransportWebSocket, cfg.RPC.Transport)
	}

	if cfg.RPC.StoppedPageSize < 1 {
		return fmt.Errorf("rpc.stopped_page_size must be >= 1, got %d", cfg.RPC.StoppedPageSize)
	}
	if cfg.RPC.WaitingPageSize < 1 {
		return fmt.Errorf("rpc.waiting_page_size must be >= 1, got %d", cfg.RPC.WaitingPageSize)
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"rpc.poll_interval", cfg.RPC.PollInterval},
		{"rpc.call_timeout", cfg.RPC.CallTimeout},
		{"process.exit_check_delay", cfg.Process.ExitCheckDelay},
		{"process.stop_grace", cfg.Process.StopGrace},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.d)
		}
	}

	policies := []struct {
		name string
		p    PolicyConfig
	}{
		{"retry.start", cfg.Retry.Start},
		{"retry.tcp", cfg.Retry.TCP},
		{"retry.rpc", cfg.Retry.RPC},
	}
	for _, p := range policies {
		if err := validatePolicy(p.name, p.p); err != nil {
			return err
		}
	}

	if cfg.Preflight.MinDiskMB < 0 {
		return fmt.Errorf("preflight.min_disk_mb must be >= 0, got %d", cfg.Preflight.MinDiskMB)
	}

	if cfg.Results.BucketURL != "" {
		if err := validateBucketURL(cfg.Results.BucketURL); err != nil {
			return err
		}
	}

	return nil
}

func validatePolicy(name string, p PolicyConfig) error {
	if p.InitialWait < 0 || p.MaxWait < 0 || p.Timeout < 0 {
		return fmt.Errorf("%s: durations must not be negative", name)
	}
	if p.Attempts < 0 {
		return fmt.Errorf("%s.attempts must be >= 0, got %d", name, p.Attempts)
	}
	if p.Multiplier != 0 && p.Multiplier < 1 {
		return fmt.Errorf("%s.multiplier must be >= 1, got %g", name, p.Multiplier)
	}
	if p.MaxWait > 0 && p.InitialWait > p.MaxWait {
		return fmt.Errorf("%s.initial_wait %s exceeds max_wait %s", name, p.InitialWait, p.MaxWait)
	}
	return nil
}

// Bucket schemes with a driver linked into the binary.
var bucketSchemes = map[string]bool{
	"file": true,
	"mem":  true,
}

func validateBucketURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("results.bucket_url %q: %w", raw, err)
	}
	if !bucketSchemes[u.Scheme] {
		return fmt.Errorf("results.bucket_url %q: unsupported scheme %q (want file:// or mem://)", raw, u.Scheme)
	}
	return nil
}
