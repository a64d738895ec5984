// Package config loads the worker process's TOML configuration file
// (spec §10's ambient config layer), generalized from
// specmcp/internal/config's file-then-env-override pattern down to the
// handful of settings an engine process actually needs: its identity,
// its Postgres DSN, its Redis bus address, and default stack timeout.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// Config holds everything a convergenced process needs to start.
// Precedence: environment variables > config file > defaults.
type Config struct {
	Engine EngineConfig `toml:"engine"`
	DB     DBConfig     `toml:"db"`
	Bus    BusConfig    `toml:"bus"`
	Log    LogConfig    `toml:"log"`
}

// EngineConfig identifies this process and bounds how much concurrent
// work it takes on.
type EngineConfig struct {
	// ID is this engine's identity, the value stored in engine_id (spec
	// §5). Generated once and left empty in the config file, a fresh
	// uuid is assigned for the life of the process.
	ID string `toml:"id"`
	// Workers is the dispatch pool size; 0 defaults to GOMAXPROCS.
	Workers int `toml:"workers"`
	// DefaultTimeoutMinutes seeds stack.TimeoutMins for stacks that don't
	// specify their own (spec §3).
	DefaultTimeoutMinutes int `toml:"default_timeout_minutes"`
}

// DBConfig is the Postgres connection the resource/stack/sync_point
// tables live in (spec §6).
type DBConfig struct {
	DSN string `toml:"dsn"`
}

// BusConfig is the Redis connection backing the anycast cast bus (spec
// §4.4).
type BusConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	// Prefix namespaces list keys so multiple deployments can share one
	// Redis instance.
	Prefix string `toml:"prefix"`
}

// LogConfig controls the glog-backed convlog verbosity.
type LogConfig struct {
	Verbosity int `toml:"verbosity"`
}

// Load reads configPath (if non-empty) and layers environment variable
// overrides on top, the same file-then-env precedence as the teacher's
// config loader.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Engine: EngineConfig{
			Workers:               0,
			DefaultTimeoutMinutes: 60,
		},
		DB: DBConfig{
			DSN: "postgres://localhost:5432/convergence?sslmode=disable",
		},
		Bus: BusConfig{
			Addr:   "localhost:6379",
			Prefix: "convergence",
		},
	}

	if configPath != "" {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	}

	cfg.applyEnv()

	if cfg.Engine.ID == "" {
		cfg.Engine.ID = uuid.NewString()
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	envOverride("CONVERGENCE_ENGINE_ID", &c.Engine.ID)
	envOverride("CONVERGENCE_DB_DSN", &c.DB.DSN)
	envOverride("CONVERGENCE_BUS_ADDR", &c.Bus.Addr)
	envOverride("CONVERGENCE_BUS_PASSWORD", &c.Bus.Password)
	envOverride("CONVERGENCE_BUS_PREFIX", &c.Bus.Prefix)
}

func envOverride(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
