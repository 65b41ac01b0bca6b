package courier

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds configuration for the engine.
type Config struct {
	// EnvironmentID is stamped on messages for triggers that do not carry
	// their own environment.
	EnvironmentID string

	// Concurrency is the number of worker loops executing jobs.
	Concurrency int

	// PollInterval is how long an idle worker waits before polling again.
	PollInterval time.Duration

	// SweepInterval bounds how long the scheduler goes without checking the
	// store for delayed jobs that came due.
	SweepInterval time.Duration

	// SweepBatch is the maximum number of due jobs released per sweep.
	SweepBatch int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		EnvironmentID:   "default",
		Concurrency:     10,
		PollInterval:    500 * time.Millisecond,
		SweepInterval:   5 * time.Second,
		SweepBatch:      500,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Duration is a time.Duration read from text such as "1m30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// EngineSection is the [engine] table of a config file.
type EngineSection struct {
	EnvironmentID   string   `toml:"environment_id"`
	Concurrency     int      `toml:"concurrency"`
	PollInterval    Duration `toml:"poll_interval"`
	SweepInterval   Duration `toml:"sweep_interval"`
	SweepBatch      int      `toml:"sweep_batch"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// StoreSection is the [store] table of a config file.
type StoreSection struct {
	// Driver is one of memory, postgres, sqlite, redis, mongo.
	Driver   string `toml:"driver"`
	DSN      string `toml:"dsn"`
	Path     string `toml:"path"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

// LogSection is the [log] table of a config file.
type LogSection struct {
	// Format is auto, text or json.
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// ChannelSection is one [[channels]] entry limiting a delivery channel.
type ChannelSection struct {
	Name           string  `toml:"name"`
	MaxConcurrency int     `toml:"max_concurrency"`
	RateLimit      float64 `toml:"rate_limit"`
	RateBurst      int     `toml:"rate_burst"`
}

// FileConfig is the on-disk configuration of the courier daemon.
type FileConfig struct {
	Engine   EngineSection    `toml:"engine"`
	Store    StoreSection     `toml:"store"`
	Log      LogSection       `toml:"log"`
	Channels []ChannelSection `toml:"channels"`
}

// Store drivers understood by the daemon.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverMongo    = "mongo"
)

// DefaultFileConfig returns a FileConfig populated with defaults.
func DefaultFileConfig() FileConfig {
	def := DefaultConfig()
	return FileConfig{
		Engine: EngineSection{
			EnvironmentID:   def.EnvironmentID,
			Concurrency:     def.Concurrency,
			PollInterval:    Duration(def.PollInterval),
			SweepInterval:   Duration(def.SweepInterval),
			SweepBatch:      def.SweepBatch,
			ShutdownTimeout: Duration(def.ShutdownTimeout),
		},
		Store: StoreSection{Driver: DriverMemory, Database: "courier"},
		Log:   LogSection{Format: "auto", Level: "info"},
	}
}

// LoadConfig reads a TOML config file on top of the defaults. An empty path
// returns the defaults.
func LoadConfig(path string) (FileConfig, error) {
	cfg := DefaultFileConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("courier: read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes TOML config data on top of the defaults and validates
// the result.
func ParseConfig(data []byte) (FileConfig, error) {
	cfg := DefaultFileConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("courier: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the config for values the daemon cannot run with.
func (c FileConfig) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMemory, DriverPostgres, DriverSQLite, DriverRedis, DriverMongo:
	default:
		errs = append(errs, NewValidationError("store.driver", "unknown driver %q", c.Store.Driver))
	}
	if c.Engine.Concurrency <= 0 {
		errs = append(errs, NewValidationError("engine.concurrency", "must be positive, got %d", c.Engine.Concurrency))
	}
	if c.Engine.PollInterval <= 0 {
		errs = append(errs, NewValidationError("engine.poll_interval", "must be positive"))
	}
	if c.Engine.SweepInterval <= 0 {
		errs = append(errs, NewValidationError("engine.sweep_interval", "must be positive"))
	}
	for i, ch := range c.Channels {
		if ch.Name == "" {
			errs = append(errs, NewValidationError(fmt.Sprintf("channels[%d].name", i), "is required"))
		}
		if ch.RateLimit < 0 || ch.MaxConcurrency < 0 {
			errs = append(errs, NewValidationError(fmt.Sprintf("channels[%d]", i), "limits must not be negative"))
		}
	}
	return errors.Join(errs...)
}

// EngineConfig converts the [engine] table into a Config.
func (c FileConfig) EngineConfig() Config {
	return Config{
		EnvironmentID:   c.Engine.EnvironmentID,
		Concurrency:     c.Engine.Concurrency,
		PollInterval:    time.Duration(c.Engine.PollInterval),
		SweepInterval:   time.Duration(c.Engine.SweepInterval),
		SweepBatch:      c.Engine.SweepBatch,
		ShutdownTimeout: time.Duration(c.Engine.ShutdownTimeout),
	}
}
