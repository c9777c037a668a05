// Package config enables config file parsing.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"

	"github.com/oasisprotocol/fairdraw/commitment"
	"github.com/oasisprotocol/fairdraw/log"
)

// EnvPrefix prefixes environment variables that override the config file.
// `__` separates levels, e.g. FAIRDRAW_ENGINE__SWEEP_INTERVAL=5s.
const EnvPrefix = "FAIRDRAW_"

// Config contains the CLI configuration.
type Config struct {
	Engine  *EngineConfig  `koanf:"engine"`
	Log     *LogConfig     `koanf:"log"`
	Metrics *MetricsConfig `koanf:"metrics"`
}

// Validate performs config validation.
func (cfg *Config) Validate() error {
	if cfg.Engine != nil {
		if err := cfg.Engine.Validate(); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
	}
	if cfg.Log != nil {
		if err := cfg.Log.Validate(); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}
	if cfg.Metrics != nil {
		if err := cfg.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}

// EngineConfig is the configuration for the session engine.
type EngineConfig struct {
	Storage *StorageConfig `koanf:"storage"`

	// SweepInterval is how often active sessions are checked for passed
	// deadlines. Zero selects the default.
	SweepInterval time.Duration `koanf:"sweep_interval"`
	// SweepParallelism bounds how many sessions a sweep advances at once.
	SweepParallelism int `koanf:"sweep_parallelism"`

	// MaxSaveAttempts bounds retries after store version conflicts.
	MaxSaveAttempts int           `koanf:"max_save_attempts"`
	RetryInitial    time.Duration `koanf:"retry_initial"`
	RetryMaximum    time.Duration `koanf:"retry_maximum"`

	// CommitmentAlgorithm is the default algorithm for new sessions.
	CommitmentAlgorithm string `koanf:"commitment_algorithm"`
}

// Validate validates the engine configuration.
func (cfg *EngineConfig) Validate() error {
	if cfg.Storage == nil {
		return fmt.Errorf("storage not configured")
	}
	if err := cfg.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if cfg.SweepInterval < 0 {
		return fmt.Errorf("negative sweep_interval %s", cfg.SweepInterval)
	}
	if cfg.SweepParallelism < 0 {
		return fmt.Errorf("negative sweep_parallelism %d", cfg.SweepParallelism)
	}
	if cfg.MaxSaveAttempts < 0 {
		return fmt.Errorf("negative max_save_attempts %d", cfg.MaxSaveAttempts)
	}
	if cfg.RetryInitial < 0 || cfg.RetryMaximum < 0 {
		return fmt.Errorf("negative retry backoff")
	}
	if cfg.RetryInitial > 0 && cfg.RetryMaximum > 0 && cfg.RetryMaximum < cfg.RetryInitial {
		return fmt.Errorf("retry_maximum %s less than retry_initial %s", cfg.RetryMaximum, cfg.RetryInitial)
	}
	if _, err := commitment.ParseAlgorithm(cfg.CommitmentAlgorithm); err != nil {
		return err
	}
	return nil
}

// StorageBackend is a storage backend.
type StorageBackend uint

const (
	// BackendMemory keeps sessions in process memory.
	BackendMemory StorageBackend = iota
	// BackendPostgres is the PostgreSQL storage backend.
	BackendPostgres
	// BackendPogreb is the embedded pogreb key-value backend.
	BackendPogreb
	// BackendRedis is the Redis storage backend.
	BackendRedis
)

// String returns the string representation of a StorageBackend.
func (sb *StorageBackend) String() string {
	switch *sb {
	case BackendMemory:
		return "memory"
	case BackendPostgres:
		return "postgres"
	case BackendPogreb:
		return "pogreb"
	case BackendRedis:
		return "redis"
	default:
		panic("config: unsupported storage backend")
	}
}

// Set sets the StorageBackend to the value specified by the provided string.
func (sb *StorageBackend) Set(s string) error {
	switch strings.ToLower(s) {
	case "memory":
		*sb = BackendMemory
	case "postgres":
		*sb = BackendPostgres
	case "pogreb":
		*sb = BackendPogreb
	case "redis":
		*sb = BackendRedis
	default:
		return fmt.Errorf("config: invalid storage backend: '%s'", s)
	}

	return nil
}

// Type returns the list of supported StorageBackends.
func (sb *StorageBackend) Type() string {
	return "[memory,postgres,pogreb,redis]"
}

// StorageConfig contains the storage layer configuration.
type StorageConfig struct {
	// Backend is the storage backend to select.
	Backend string `koanf:"backend"`

	// Endpoint is the connection string (postgres, redis) or database
	// directory (pogreb). Unused by the memory backend.
	Endpoint string `koanf:"endpoint"`

	// Migrations is the schema migrations source, e.g.
	// file://storage/postgres/migrations. Empty uses the migrations built
	// into the binary. Postgres only.
	Migrations string `koanf:"migrations"`

	// If true, all stored sessions are deleted on startup.
	WipeStorage bool `koanf:"DANGER__WIPE_STORAGE_ON_STARTUP"`
}

// Validate validates the storage configuration.
func (cfg *StorageConfig) Validate() error {
	var sb StorageBackend
	if err := sb.Set(cfg.Backend); err != nil {
		return err
	}
	if sb != BackendMemory && cfg.Endpoint == "" {
		return fmt.Errorf("malformed storage endpoint '%s'", cfg.Endpoint)
	}
	if cfg.Migrations != "" && sb != BackendPostgres {
		return fmt.Errorf("migrations are only supported by the postgres backend")
	}
	return nil
}

// Persistent reports whether sessions outlive the process. The memory
// backend starts empty every time, so other processes cannot read it.
func (cfg *StorageConfig) Persistent() bool {
	var sb StorageBackend
	if err := sb.Set(cfg.Backend); err != nil {
		return false
	}
	return sb != BackendMemory
}

// LogConfig contains the logging configuration.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
	File   string `koanf:"file"`
}

// Validate validates the logging configuration.
func (cfg *LogConfig) Validate() error {
	var format log.Format
	if err := format.Set(cfg.Format); err != nil {
		return err
	}
	var level log.Level
	return level.Set(cfg.Level)
}

// MetricsConfig contains the metrics configuration.
type MetricsConfig struct {
	PullEndpoint string `koanf:"pull_endpoint"`

	// PprofEndpoint optionally serves runtime profiles.
	PprofEndpoint string `koanf:"pprof_endpoint"`
}

// Validate validates the metrics configuration.
func (cfg *MetricsConfig) Validate() error {
	if cfg.PullEndpoint == "" {
		return fmt.Errorf("malformed Prometheus pull endpoint '%s'", cfg.PullEndpoint)
	}
	return nil
}

// InitConfig initializes configuration from file.
func InitConfig(f string) (*Config, error) {
	return initConfig(file.Provider(f))
}

func initConfig(p koanf.Provider) (*Config, error) {
	var config Config
	k := koanf.New(".")

	// Load configuration from the yaml config.
	if err := k.Load(p, yaml.Parser()); err != nil {
		return nil, err
	}

	// Load environment variables and merge into the loaded config.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		// `__` is used as a hierarchy delimiter.
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	// Unmarshal into config.
	if err := k.Unmarshal("", &config); err != nil {
		return nil, err
	}

	// Validate config.
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
