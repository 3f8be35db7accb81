// Package config loads the engine's YAML-driven configuration: cascade
// bounds, DSL sources, and the connection strings for the graph and event
// backends.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the engine's full bootstrap configuration.
type Config struct {
	// CascadeDepth bounds how many cascade levels one top-level event may
	// produce before further firings are dropped (spec §5, default 10).
	CascadeDepth int `yaml:"cascade_depth"`
	// MaxQueueSize bounds the per-firing cascade queue; 0 means unbounded.
	MaxQueueSize int `yaml:"max_queue_size"`

	// RuleFiles and ActionFiles are explicit `.dsl` paths loaded at
	// startup, in order.
	RuleFiles   []string `yaml:"rule_files"`
	ActionFiles []string `yaml:"action_files"`
	// DSLGlob, if set, is additionally expanded and loaded after the
	// explicit file lists (both registries attempt every matched file).
	DSLGlob string `yaml:"dsl_glob"`

	Postgres PostgresConfig `yaml:"postgres"`
	NATS     NATSConfig     `yaml:"nats"`
}

// PostgresConfig configures the Apache AGE driver.
type PostgresConfig struct {
	URL       string `yaml:"url"`
	GraphName string `yaml:"graph_name"`
}

// NATSConfig configures the optional JetStream event bridge.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Stream  string `yaml:"stream"`
}

// Default returns the engine's default safety limits (cascade depth 10,
// queue size 1000) with everything else empty.
func Default() Config {
	return Config{CascadeDepth: 10, MaxQueueSize: 1000}
}

// Load reads and parses a YAML config file, filling unset cascade fields
// with the engine's defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parsing config %s", path)
	}
	if cfg.CascadeDepth <= 0 {
		cfg.CascadeDepth = 10
	}
	return cfg, nil
}
