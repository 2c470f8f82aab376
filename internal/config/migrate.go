package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

const maxSupportedSchemaVersion = 1

// Migrate parses raw YAML bytes, handling schema version migration. A file
// without schema_version is treated as version 1.
func Migrate(raw []byte) (*Config, error) {
	var base struct {
		SchemaVersion int `yaml:"schema_version"`
	}
	if err := yaml.Unmarshal(raw, &base); err != nil {
		return nil, fmt.Errorf("parse schema_version: %w", err)
	}

	switch base.SchemaVersion {
	case 0, 1:
		return parseV1(raw)
	default:
		return nil, fmt.Errorf("unsupported schema_version %d (max supported: %d)",
			base.SchemaVersion, maxSupportedSchemaVersion)
	}
}

func parseV1(raw []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.SchemaVersion = 1
	return &cfg, nil
}
