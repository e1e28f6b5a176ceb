// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

// Package config loads the daemon configuration: built-in defaults,
// overridden by a YAML file, overridden by command-line flags.
package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/resetd/resetd/internal/wire"
	"github.com/resetd/resetd/internal/xdg"
)

// Store engines.
const (
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgres"
)

// Config is the full daemon configuration.
type Config struct {
	// Listen is the client-facing TCP address.
	Listen string `koanf:"listen"`

	// MetricsListen is the metrics/health HTTP address, empty disables it.
	MetricsListen string `koanf:"metrics_listen"`

	LogFormat string `koanf:"log_format"` // json or text
	LogLevel  string `koanf:"log_level"`  // debug, info, warn, error

	// DryRun rolls every store mutation back instead of committing.
	DryRun bool `koanf:"dry_run"`

	Wire      WireConfig      `koanf:"wire"`
	Store     StoreConfig     `koanf:"store"`
	Directory DirectoryConfig `koanf:"directory"`
	Policy    PolicyConfig    `koanf:"policy"`
	Quality   QualityConfig   `koanf:"quality"`
}

// WireConfig tunes the framed transport.
type WireConfig struct {
	FrameSize int `koanf:"frame_size"`
	MaxFrames int `koanf:"max_frames"`
}

// StoreConfig selects and parameterizes the request store backend.
type StoreConfig struct {
	// Engine is EngineSQLite or EnginePostgres.
	Engine string `koanf:"engine"`

	// DSN is the postgres connection string, unused for sqlite.
	DSN string `koanf:"dsn"`

	// Path is the sqlite database file, unused for postgres.
	Path string `koanf:"path"`
}

// DirectoryConfig selects the account backend.
type DirectoryConfig struct {
	// Backend currently supports "memory".
	Backend string `koanf:"backend"`

	// Seed is an optional YAML file of accounts for the memory backend.
	Seed string `koanf:"seed"`
}

// PolicyConfig holds the business-rule knobs.
type PolicyConfig struct {
	MaxDurationHours       uint32        `koanf:"max_duration_hours"`
	MinScore               int           `koanf:"min_score"`
	InvalidCredentialDelay time.Duration `koanf:"invalid_credential_delay"`
	AttemptsPerMinute      uint64        `koanf:"attempts_per_minute"`
}

// QualityConfig tunes the password quality backend.
type QualityConfig struct {
	MinEntropy float64 `koanf:"min_entropy"`
	MaxRepeat  int     `koanf:"max_repeat"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:        "127.0.0.1:8448",
		MetricsListen: "127.0.0.1:9448",
		LogFormat:     "text",
		LogLevel:      "info",
		Wire: WireConfig{
			FrameSize: wire.DefaultFrameSize,
			MaxFrames: wire.DefaultMaxFrames,
		},
		Store: StoreConfig{
			Engine: EngineSQLite,
			Path:   filepath.Join(xdg.DataDir(), "resetd.db"),
		},
		Directory: DirectoryConfig{
			Backend: "memory",
		},
		Policy: PolicyConfig{
			MaxDurationHours:       7 * 24,
			MinScore:               10,
			InvalidCredentialDelay: 2 * time.Second,
			AttemptsPerMinute:      6,
		},
		Quality: QualityConfig{
			MinEntropy: 20,
			MaxRepeat:  3,
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigDir(), "resetd.yaml")
}

// flagKeys maps command-line flag names onto config keys. Flags not in
// the table (cobra's own, for instance) are ignored.
var flagKeys = map[string]string{
	"listen":                   "listen",
	"metrics-listen":           "metrics_listen",
	"log-format":               "log_format",
	"log-level":                "log_level",
	"dry-run":                  "dry_run",
	"frame-size":               "wire.frame_size",
	"max-frames":               "wire.max_frames",
	"store-engine":             "store.engine",
	"store-dsn":                "store.dsn",
	"store-path":               "store.path",
	"directory-backend":        "directory.backend",
	"directory-seed":           "directory.seed",
	"max-duration":             "policy.max_duration_hours",
	"min-score":                "policy.min_score",
	"invalid-credential-delay": "policy.invalid_credential_delay",
	"attempts-per-minute":      "policy.attempts_per_minute",
}

// RegisterFlags declares the config-overriding flags on a flag set.
func RegisterFlags(flags *pflag.FlagSet) {
	def := Default()
	flags.String("listen", def.Listen, "client TCP listen address")
	flags.String("metrics-listen", def.MetricsListen, "metrics HTTP listen address, empty disables")
	flags.String("log-format", def.LogFormat, "log format: json or text")
	flags.String("log-level", def.LogLevel, "log level: debug, info, warn, error")
	flags.Bool("dry-run", false, "roll back every store mutation instead of committing")
	flags.Int("frame-size", def.Wire.FrameSize, "transport frame size in bytes")
	flags.Int("max-frames", def.Wire.MaxFrames, "maximum frames per message")
	flags.String("store-engine", def.Store.Engine, "request store engine: sqlite or postgres")
	flags.String("store-dsn", "", "postgres connection string")
	flags.String("store-path", def.Store.Path, "sqlite database file")
	flags.String("directory-backend", def.Directory.Backend, "account directory backend")
	flags.String("directory-seed", "", "account seed file for the memory backend")
	flags.Uint32("max-duration", def.Policy.MaxDurationHours, "maximum request validity in hours")
	flags.Int("min-score", def.Policy.MinScore, "minimum password strength score")
	flags.Duration("invalid-credential-delay", def.Policy.InvalidCredentialDelay, "pause before invalid-credential answers")
	flags.Uint64("attempts-per-minute", def.Policy.AttemptsPerMinute, "invalid-credential budget per peer per minute")
}

// Load resolves the configuration: defaults, then the YAML file at path
// (missing files are only an error when the path was set explicitly),
// then any changed flags.
func Load(path string, explicit bool, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		err := k.Load(file.Provider(path), yaml.Parser())
		if err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
			}
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithValue(flags, ".", k, func(key, value string) (string, any) {
			return flagKeys[key], value
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_PARSE_FAILED").Wrap(err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Store.Engine != EngineSQLite && c.Store.Engine != EnginePostgres {
		return oops.Code("CONFIG_INVALID").Errorf("unknown store engine %q", c.Store.Engine)
	}
	if c.Store.Engine == EnginePostgres && c.Store.DSN == "" {
		return oops.Code("CONFIG_INVALID").Errorf("store engine %s requires a DSN", EnginePostgres)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("unknown log format %q", c.LogFormat)
	}
	if c.Wire.FrameSize <= wire.HeaderSize {
		return oops.Code("CONFIG_INVALID").Errorf("frame size %d does not fit the header", c.Wire.FrameSize)
	}
	if c.Wire.MaxFrames < 1 {
		return oops.Code("CONFIG_INVALID").Errorf("max frames must be at least 1")
	}
	return nil
}
