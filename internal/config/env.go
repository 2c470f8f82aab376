package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ARIAFLOW_"

// LoadFromEnv overrides fields from ARIAFLOW_* environment variables.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv(EnvPrefix + "DIR"); v != "" {
		c.Download.Directory = v
	}
	if v := os.Getenv(EnvPrefix + "MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %sMAX_CONCURRENT: %w", EnvPrefix, err)
		}
		c.Download.MaxConcurrent = n
	}
	if v := os.Getenv(EnvPrefix + "SECRET"); v != "" {
		c.Download.Secret = v
	}
	if v := os.Getenv(EnvPrefix + "ARIA2C"); v != "" {
		c.Download.Aria2cPath = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSPORT"); v != "" {
		c.RPC.Transport = v
	}
	if v := os.Getenv(EnvPrefix + "POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %sPOLL_INTERVAL: %w", EnvPrefix, err)
		}
		c.RPC.PollInterval = d
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvPrefix + "BUCKET_URL"); v != "" {
		c.Results.BucketURL = v
	}
	return nil
}
