// Package config loads daemon configuration from the environment and an
// optional YAML topology file. Environment variables win for runtime knobs;
// the topology file carries genesis-fixed parameters (shard count, initial
// account balances) that every node must agree on.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Env is the runtime configuration, parsed from KOTARE_* variables.
type Env struct {
	ListenAddr      string        `env:"KOTARE_LISTEN_ADDR" envDefault:":8080"`
	TopologyFile    string        `env:"KOTARE_TOPOLOGY"`
	Shards          int           `env:"KOTARE_SHARDS" envDefault:"4"`
	Workers         int           `env:"KOTARE_WORKERS" envDefault:"4"`
	MaxBatch        int           `env:"KOTARE_MAX_BATCH" envDefault:"1024"`
	TransferTimeout time.Duration `env:"KOTARE_TRANSFER_TIMEOUT" envDefault:"5s"`
	CrossShardFee   uint64        `env:"KOTARE_CROSS_SHARD_FEE" envDefault:"0"`
	StoreDir        string        `env:"KOTARE_STORE_DIR"`

	// OTELEndpoint enables metric export when set; empty means no-op
	// instruments.
	OTELEndpoint string `env:"KOTARE_OTEL_ENDPOINT"`
}

// Topology is the genesis-fixed part of the configuration. Shard count
// here overrides the environment; changing it after genesis would remap
// every account.
type Topology struct {
	Shards  int              `yaml:"shards"`
	Genesis []GenesisAccount `yaml:"genesis"`
}

// GenesisAccount seeds one account at startup.
type GenesisAccount struct {
	ID      string `yaml:"id"`
	Balance uint64 `yaml:"balance"`
}

// Config is the merged view the daemon runs with.
type Config struct {
	Env
	Genesis []GenesisAccount
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment and, when KOTARE_TOPOLOGY names a file,
// merges the topology on top.
func Load() (Config, error) {
	var e Env
	if err := ParseEnv(&e); err != nil {
		return Config{}, err
	}

	cfg := Config{Env: e}
	if e.TopologyFile != "" {
		topo, err := LoadTopology(e.TopologyFile)
		if err != nil {
			return Config{}, err
		}
		if topo.Shards > 0 {
			cfg.Shards = topo.Shards
		}
		cfg.Genesis = topo.Genesis
	}

	if cfg.Shards <= 0 {
		return Config{}, fmt.Errorf("invalid shard count %d", cfg.Shards)
	}
	if cfg.Workers <= 0 {
		return Config{}, fmt.Errorf("invalid worker count %d", cfg.Workers)
	}
	return cfg, nil
}

// LoadTopology reads and validates a YAML topology file.
func LoadTopology(path string) (Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, fmt.Errorf("read topology: %w", err)
	}

	var topo Topology
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return Topology{}, fmt.Errorf("parse topology: %w", err)
	}

	seen := make(map[string]bool, len(topo.Genesis))
	for _, g := range topo.Genesis {
		if g.ID == "" {
			return Topology{}, errors.New("topology: genesis account with empty id")
		}
		if seen[g.ID] {
			return Topology{}, fmt.Errorf("topology: duplicate genesis account %q", g.ID)
		}
		seen[g.ID] = true
	}
	return topo, nil
}
