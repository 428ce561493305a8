// Package config loads praxis settings from defaults, an optional YAML file
// and PRAXIS_ environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"praxis/internal/blob"
	"praxis/internal/telemetry"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "PRAXIS_"

// Config is the complete runtime configuration.
type Config struct {
	Store    blob.Config             `koanf:"store"`
	Assets   AssetsConfig            `koanf:"assets"`
	Snapshot SnapshotConfig          `koanf:"snapshot"`
	Logging  telemetry.LoggingConfig `koanf:"logging"`
	Metrics  telemetry.MetricsConfig `koanf:"metrics"`
	Serve    ServeConfig             `koanf:"serve"`
}

// AssetsConfig locates the prebuilt image and schema script. Base is an
// http(s) URL or a local directory.
type AssetsConfig struct {
	Base string `koanf:"base" validate:"required"`
}

// SnapshotConfig controls durable snapshots and exported backups.
type SnapshotConfig struct {
	Key       string `koanf:"key" validate:"required"`
	ExportDir string `koanf:"export_dir"`
}

// ServeConfig controls the HTTP surface of `praxisdb serve`.
type ServeConfig struct {
	Addr   string `koanf:"addr" validate:"required"`
	Expvar bool   `koanf:"expvar"`
}

// Default returns the built-in configuration.
func Default() Config {
	k := koanf.New(".")
	var c Config
	if err := k.Load(mapProvider(defaults()), nil); err != nil {
		panic(err)
	}
	if err := k.Unmarshal("", &c); err != nil {
		panic(err)
	}
	return c
}

func defaults() map[string]any {
	return map[string]any{
		"store": map[string]any{
			"driver":       string(blob.DriverFilesystem),
			"fs_root":      "./data/blobs",
			"sqlite_path":  "./data/praxis-store.db",
			"postgres_dsn": "",
			"s3": map[string]any{
				"region":            "us-east-1",
				"bucket":            "",
				"prefix":            "",
				"endpoint":          "",
				"access_key_id":     "",
				"secret_access_key": "",
				"session_token":     "",
				"path_style":        false,
			},
			"badger": map[string]any{
				"dir":         "./data/badger",
				"in_memory":   false,
				"sync_writes": true,
				"gc_interval": "10m",
			},
		},
		"assets": map[string]any{
			"base": "./assets",
		},
		"snapshot": map[string]any{
			"key":        "praxis-db/snapshot",
			"export_dir": ".",
		},
		"logging": map[string]any{
			"level":  "info",
			"format": "console",
			"output": "stderr",
		},
		"metrics": map[string]any{
			"enabled":   true,
			"namespace": "praxis",
		},
		"serve": map[string]any{
			"addr":   "127.0.0.1:8089",
			"expvar": false,
		},
	}
}

// Option configures Load.
type Option func(*loader)

type loader struct {
	envPrefix string
}

// WithEnvPrefix overrides the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *loader) { l.envPrefix = prefix }
}

// Load merges defaults, the YAML file at path (skipped when empty) and
// environment variables, then validates the result.
//
// Environment names map onto keys by replacing dots with underscores, so
// PRAXIS_STORE_FS_ROOT sets store.fs_root and PRAXIS_ASSETS_BASE sets
// assets.base.
func Load(path string, opts ...Option) (Config, error) {
	l := &loader{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(l)
	}
	k := koanf.New(".")
	if err := k.Load(mapProvider(defaults()), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	known := make(map[string]string)
	for _, key := range k.Keys() {
		known[strings.ReplaceAll(key, ".", "_")] = key
	}
	transform := func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
		if key, ok := known[s]; ok {
			return key
		}
		return strings.ReplaceAll(s, "_", ".")
	}
	if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

var drivers = strings.Join([]string{
	string(blob.DriverFilesystem),
	string(blob.DriverS3),
	string(blob.DriverMemory),
	string(blob.DriverPostgres),
	string(blob.DriverBadger),
	string(blob.DriverSQLite),
}, " ")

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := v.Var(c.Store.Driver, "omitempty,oneof="+drivers); err != nil {
		return fmt.Errorf("invalid config: store.driver %q: %w", c.Store.Driver, err)
	}
	if err := v.Var(c.Logging.Format, "omitempty,oneof=console json"); err != nil {
		return fmt.Errorf("invalid config: logging.format %q: %w", c.Logging.Format, err)
	}
	switch blob.Driver(c.Store.Driver) {
	case blob.DriverS3:
		if c.Store.S3.Bucket == "" {
			return errors.New("invalid config: store.s3.bucket required for the s3 driver")
		}
	case blob.DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("invalid config: store.postgres_dsn required for the postgres driver")
		}
	}
	return nil
}

// mapProvider feeds a nested map to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: map provider has no byte form")
}

func (m mapProvider) Read() (map[string]any, error) { return m, nil }
