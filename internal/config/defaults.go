package config

import "time"

// Transport names accepted by rpc.transport.
const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
)

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = 1
	}

	// Download defaults
	if cfg.Download.Directory == "" {
		cfg.Download.Directory = "."
	}
	if cfg.Download.MaxConcurrent == 0 {
		cfg.Download.MaxConcurrent = 5
	}
	if cfg.Download.Aria2cPath == "" {
		cfg.Download.Aria2cPath = "aria2c"
	}

	// RPC defaults
	if cfg.RPC.Host == "" {
		cfg.RPC.Host = "127.0.0.1"
	}
	if cfg.RPC.Transport == "" {
		cfg.RPC.Transport = TransportHTTP
	}
	if cfg.RPC.PollInterval == 0 {
		cfg.RPC.PollInterval = 500 * time.Millisecond
	}
	if cfg.RPC.CallTimeout == 0 {
		cfg.RPC.CallTimeout = 10 * time.Second
	}
	if cfg.RPC.StoppedPageSize == 0 {
		cfg.RPC.StoppedPageSize = 1000
	}
	if cfg.RPC.WaitingPageSize == 0 {
		cfg.RPC.WaitingPageSize = 1000
	}

	// Process defaults
	if cfg.Process.ExitCheckDelay == 0 {
		cfg.Process.ExitCheckDelay = 100 * time.Millisecond
	}
	if cfg.Process.StopGrace == 0 {
		cfg.Process.StopGrace = 1500 * time.Millisecond
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Preflight.MinDiskMB == 0 {
		cfg.Preflight.MinDiskMB = 100
	}
}
