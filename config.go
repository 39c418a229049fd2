// Package pagestore provides the process-wide configuration for the
// storage engine's CLI and tests (spec.md §5 "process-wide singletons").
package pagestore

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arnegrid/pagestore/internal/storage/pager"
)

// Config is the engine's ambient configuration, loadable from a YAML file
// the same way the teacher's internal/testhelper decodes structured
// fixtures. Defaults match spec.md §4.3.
type Config struct {
	PoolSize int    `yaml:"pool_size"`
	Policy   string `yaml:"policy"`
	MaxOpen  int    `yaml:"max_open_files"`

	// Verbose, when true, tells the CLI to install a page-trace sink on the
	// pool's BufferPool via SetTrace after NewStore returns. NewStore itself
	// leaves this unconsumed: the storage package never imports a logging
	// package, so wiring the sink is the caller's job (see cmd/pagestore).
	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns the spec's documented defaults: POOL_SIZE=20,
// replacement policy LRU, unlimited open files.
func DefaultConfig() Config {
	return Config{PoolSize: 20, Policy: "LRU", MaxOpen: 0}
}

// LoadConfig reads and decodes a YAML config file, filling in any field
// left at its zero value from DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultConfig().PoolSize
	}
	if cfg.Policy == "" {
		cfg.Policy = DefaultConfig().Policy
	}
	return cfg, nil
}

// ParsePolicy converts the config's string policy name into a pager.Policy.
func (c Config) ParsePolicy() (pager.Policy, error) {
	switch c.Policy {
	case "LRU", "lru", "":
		return pager.LRU, nil
	case "MRU", "mru":
		return pager.MRU, nil
	default:
		return 0, fmt.Errorf("unknown replacement policy %q (want LRU or MRU)", c.Policy)
	}
}

// NewStore builds a PagedFileStore from this configuration.
func (c Config) NewStore() (*pager.PagedFileStore, error) {
	policy, err := c.ParsePolicy()
	if err != nil {
		return nil, err
	}
	return pager.NewPagedFileStore(c.PoolSize, policy, c.MaxOpen), nil
}
