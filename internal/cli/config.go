package cli

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RunConfig is the optional YAML file accepted by run. Flags override it.
//
//	frames: 120
//	delta: 16ms
//	entity: 1
//	entities: {door: 7}
//	variables: {score: 0}
//	store: {sqlite: ./saves.db, key: hero}
type RunConfig struct {
	Frames      int               `yaml:"frames"`
	Delta       time.Duration     `yaml:"delta"`
	StartFrame  int64             `yaml:"start_frame"`
	Entity      uint64            `yaml:"entity"`
	Entities    map[string]uint64 `yaml:"entities"`
	Variables   map[string]any    `yaml:"variables"`
	Persist     bool              `yaml:"persist"`
	Restartable bool              `yaml:"restartable"`
	MaxSteps    int               `yaml:"max_steps"`
	Store       StoreConfig       `yaml:"store"`
}

// StoreConfig selects where runs are saved. At most one backend may be set.
type StoreConfig struct {
	SQLite      string        `yaml:"sqlite"`
	Redis       string        `yaml:"redis"`
	RedisPrefix string        `yaml:"redis_prefix"`
	TTL         time.Duration `yaml:"ttl"`
	Key         string        `yaml:"key"`
}

func defaultRunConfig() RunConfig {
	return RunConfig{
		Frames: 60,
		Delta:  16 * time.Millisecond,
		Entity: 1,
	}
}

// loadRunConfig reads path on top of the defaults. Unknown keys are errors.
func loadRunConfig(path string) (RunConfig, error) {
	cfg := defaultRunConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read run config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse run config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c RunConfig) validate() error {
	if c.Frames < 0 {
		return fmt.Errorf("frames must not be negative, got %d", c.Frames)
	}
	if c.Delta < 0 {
		return fmt.Errorf("delta must not be negative, got %s", c.Delta)
	}
	if c.Store.SQLite != "" && c.Store.Redis != "" {
		return fmt.Errorf("store: sqlite and redis are mutually exclusive")
	}
	if c.Store.Key == "" && (c.Store.SQLite != "" || c.Store.Redis != "") {
		return fmt.Errorf("store: key is required when a store is configured")
	}
	return nil
}
