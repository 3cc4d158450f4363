package querycache

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	// DefaultRefetchAfter is the default staleness window.
	DefaultRefetchAfter = 30 * time.Second

	// DefaultEvictAfter is the default registry lifetime for entities with
	// no subscribers.
	DefaultEvictAfter = 5 * time.Minute

	// DefaultSweepInterval is the default eviction sweep cadence.
	DefaultSweepInterval = time.Minute

	// DefaultStoreTTL is the default lifetime of persisted snapshots.
	DefaultStoreTTL = 24 * time.Hour

	// DefaultNamespace is the default persistent store key prefix.
	DefaultNamespace = "querycache"
)

// Environment variables overriding configuration values.
const (
	// EnvRefetchAfter overrides Config.RefetchAfter.
	EnvRefetchAfter = "QUERYCACHE_REFETCH_AFTER"

	// EnvEvictAfter overrides Config.EvictAfter.
	EnvEvictAfter = "QUERYCACHE_EVICT_AFTER"

	// EnvSweepInterval overrides Config.SweepInterval.
	EnvSweepInterval = "QUERYCACHE_SWEEP_INTERVAL"

	// EnvStoreTTL overrides Config.StoreTTL.
	EnvStoreTTL = "QUERYCACHE_STORE_TTL"

	// EnvRethrow overrides Config.Rethrow.
	EnvRethrow = "QUERYCACHE_RETHROW"

	// EnvNamespace overrides Config.Namespace.
	EnvNamespace = "QUERYCACHE_NAMESPACE"
)

// Config carries the resolved cache-wide settings. Per-query options
// override the durations for individual entities.
type Config struct {
	// RefetchAfter is how long a fetched value stays fresh. A resolve past
	// this window triggers a refetch.
	RefetchAfter time.Duration

	// EvictAfter is how long an entity with no subscribers stays
	// registered before the sweeper may remove it.
	EvictAfter time.Duration

	// SweepInterval is how often the eviction sweep runs. Zero disables
	// the background sweeper; Client.Sweep stays available.
	SweepInterval time.Duration

	// StoreTTL bounds the lifetime of persisted snapshots. Zero keeps them
	// until overwritten or deleted.
	StoreTTL time.Duration

	// Rethrow propagates fetch errors out of Resolve instead of only
	// recording them in the snapshot.
	Rethrow bool

	// Namespace prefixes every persistent store key.
	Namespace string
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		RefetchAfter:  DefaultRefetchAfter,
		EvictAfter:    DefaultEvictAfter,
		SweepInterval: DefaultSweepInterval,
		StoreTTL:      DefaultStoreTTL,
		Rethrow:       false,
		Namespace:     DefaultNamespace,
	}
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	if c.RefetchAfter < 0 {
		return errors.New("refetch_after cannot be negative")
	}
	if c.EvictAfter < 0 {
		return errors.New("evict_after cannot be negative")
	}
	if c.SweepInterval < 0 {
		return errors.New("sweep_interval cannot be negative")
	}
	if c.StoreTTL < 0 {
		return errors.New("store_ttl cannot be negative")
	}
	if c.Namespace == "" {
		return errors.New("namespace cannot be empty")
	}
	return nil
}

// fileConfig is the YAML shape of a configuration file. Duration fields
// accept the formats understood by ParseDuration.
type fileConfig struct {
	RefetchAfter  string `yaml:"refetch_after"`
	EvictAfter    string `yaml:"evict_after"`
	SweepInterval string `yaml:"sweep_interval"`
	StoreTTL      string `yaml:"store_ttl"`
	Rethrow       *bool  `yaml:"rethrow"`
	Namespace     string `yaml:"namespace"`
}

// LoadConfig resolves configuration in layers: defaults, then the YAML file
// at path, then QUERYCACHE_* environment variables. An empty path or a
// missing file skips the file layer.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Missing files fall through to defaults and env overrides.
		case err != nil:
			return Config{}, fmt.Errorf("reading config file: %w", err)
		default:
			var fc fileConfig
			if unmarshalErr := yaml.Unmarshal(data, &fc); unmarshalErr != nil {
				return Config{}, fmt.Errorf("parsing config file: %w", unmarshalErr)
			}
			if applyErr := fc.apply(&cfg); applyErr != nil {
				return Config{}, fmt.Errorf("config file %s: %w", path, applyErr)
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// apply copies the file's set fields onto cfg.
func (fc fileConfig) apply(cfg *Config) error {
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"refetch_after", fc.RefetchAfter, &cfg.RefetchAfter},
		{"evict_after", fc.EvictAfter, &cfg.EvictAfter},
		{"sweep_interval", fc.SweepInterval, &cfg.SweepInterval},
		{"store_ttl", fc.StoreTTL, &cfg.StoreTTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if fc.Rethrow != nil {
		cfg.Rethrow = *fc.Rethrow
	}
	if fc.Namespace != "" {
		cfg.Namespace = fc.Namespace
	}
	return nil
}

// applyEnv copies set environment variables onto cfg.
func applyEnv(cfg *Config) error {
	durations := []struct {
		env string
		dst *time.Duration
	}{
		{EnvRefetchAfter, &cfg.RefetchAfter},
		{EnvEvictAfter, &cfg.EvictAfter},
		{EnvSweepInterval, &cfg.SweepInterval},
		{EnvStoreTTL, &cfg.StoreTTL},
	}
	for _, d := range durations {
		raw := os.Getenv(d.env)
		if raw == "" {
			continue
		}
		parsed, err := ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
		*d.dst = parsed
	}

	if raw := os.Getenv(EnvRethrow); raw != "" {
		rethrow, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRethrow, err)
		}
		cfg.Rethrow = rethrow
	}
	if raw := os.Getenv(EnvNamespace); raw != "" {
		cfg.Namespace = raw
	}
	return nil
}

// ParseDuration parses a duration in either format:
//   - Integer seconds: "3600".
//   - Duration string: "1h", "30m", "1h30m".
func ParseDuration(s string) (time.Duration, error) {
	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	duration, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration format: %w", err)
	}
	return duration, nil
}
