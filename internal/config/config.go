// Package config loads manul's declarative configuration file, letting
// any CLI flag be set ahead of time in YAML; CLI flags always override
// values loaded from a config file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors the CLI surface in spec.md §6, structured the way the
// teacher's own config package groups related flags into sections.
type Config struct {
	Target  TargetConfig  `yaml:"target"`
	Fuzzing FuzzingConfig `yaml:"fuzzing"`
	Output  OutputConfig  `yaml:"output"`
	Status  StatusConfig  `yaml:"status"`
}

// TargetConfig describes the program under test and how input reaches it.
type TargetConfig struct {
	Command     []string `yaml:"command"` // argv, @@ marks the input placeholder
	CmdFuzzing  bool     `yaml:"cmd_fuzzing"`
	NetworkAddr string   `yaml:"network_addr"`
	NetworkHTTP bool     `yaml:"network_http"`
}

// FuzzingConfig controls the worker pool and mutation behavior.
type FuzzingConfig struct {
	InputDir          string        `yaml:"input_dir"`
	OutputDir         string        `yaml:"output_dir"`
	Workers           int           `yaml:"workers"`
	Dumb              bool          `yaml:"dumb"`
	Restore           bool          `yaml:"restore"`
	Timeout           time.Duration `yaml:"timeout"`
	DictFile          string        `yaml:"dict"`
	MutatorWeights    string        `yaml:"mutator_weights"`
	MutatorRate       float64       `yaml:"mutator_rate"`
	DeterministicSeed bool          `yaml:"deterministic_seed"`
	SyncFreq          int           `yaml:"sync_freq"`
	ExternalMutator   string        `yaml:"external_mutator"`   // binary invoked as "external" in mutator_weights
	UserDefinedMutator string       `yaml:"userdefined_mutator"` // binary invoked as "userdefined" in mutator_weights
}

// OutputConfig controls reporting verbosity.
type OutputConfig struct {
	Verbose bool `yaml:"verbose"`
}

// StatusConfig controls the optional read-only status server.
type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the baseline configuration applied before a config file
// or CLI flags are layered on top.
func Default() *Config {
	return &Config{
		Fuzzing: FuzzingConfig{
			Workers:  1,
			Timeout:  10 * time.Second,
			SyncFreq: 1,
		},
	}
}

// Load reads a YAML config file and merges it on top of Default(). CLI
// flags are applied by the caller after Load returns, so they always win
// over a config file's values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
