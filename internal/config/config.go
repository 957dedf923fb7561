// Package config loads replicamap's TOML configuration file, following the
// BurntSushi/toml decode-and-validate idiom used by tooling across the
// franz-go ecosystem (e.g. twmb/kcl's own config file).
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is the top-level replicamap-worker configuration file shape.
type Config struct {
	ClientID uint64   `toml:"client_id"`
	Brokers  []string `toml:"brokers"`

	Topics Topics `toml:"topics"`

	Partitions []int32 `toml:"partitions"`

	FlushPeriodOps int64 `toml:"flush_period_ops"`

	PollBootstrapTimeoutMS int64 `toml:"poll_bootstrap_timeout_ms"`
	PollSteadyTimeoutMS    int64 `toml:"poll_steady_timeout_ms"`

	FlushQueueCapacity int `toml:"flush_queue_capacity"`
	CleanQueueCapacity int `toml:"clean_queue_capacity"`

	MetricsAddr string `toml:"metrics_addr"`
}

// Topics names the three aligned topics every partition index spans.
type Topics struct {
	Data  string `toml:"data"`
	Ops   string `toml:"ops"`
	Flush string `toml:"flush"`
}

// Default returns a Config with every field set to its documented default,
// suitable as a base for Load to decode over.
func Default() Config {
	return Config{
		FlushPeriodOps:         1000,
		PollBootstrapTimeoutMS: 250,
		PollSteadyTimeoutMS:    2000,
		FlushQueueCapacity:     1024,
		CleanQueueCapacity:     256,
		MetricsAddr:            ":9090",
		Topics: Topics{
			Data:  "replicamap.data",
			Ops:   "replicamap.ops",
			Flush: "replicamap.flush",
		},
	}
}

// Load decodes the TOML file at path over Default() and validates the
// result.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config: %s: unrecognized keys: %v", path, undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first structural problem found, if any.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers must be non-empty")
	}
	if len(c.Partitions) == 0 {
		return fmt.Errorf("partitions must be non-empty")
	}
	if c.FlushPeriodOps <= 0 {
		return fmt.Errorf("flush_period_ops must be positive, got %d", c.FlushPeriodOps)
	}
	if c.Topics.Data == "" || c.Topics.Ops == "" || c.Topics.Flush == "" {
		return fmt.Errorf("topics.data, topics.ops, and topics.flush must all be set")
	}
	return nil
}
