// Package config holds the process configuration for a settle server: the
// store to open, the pooled holder, administrators, engine limits, logging
// and tracing.
//
// Values come from three layers, later ones winning: Default, a TOML file
// (see Read and Write), and SETTLE_* environment variables (FromEnv).
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/xraph/settle"
	"github.com/xraph/settle/access"
	"github.com/xraph/settle/types"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// DefaultPort matches the port the HTTP API has always listened on.
const DefaultPort = 3001

// Config is the full process configuration.
type Config struct {
	Port      int             `toml:"port" env:"PORT"`
	Store     StoreConfig     `toml:"store"`
	Engine    EngineConfig    `toml:"engine"`
	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`

	// CORSOrigins lists origins allowed to call the API from a browser.
	// "*" admits any origin; an empty list turns CORS off.
	CORSOrigins []string `toml:"cors_origins" env:"SETTLE_CORS_ORIGINS" envSeparator:","`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver  string `toml:"driver" env:"SETTLE_STORE"`
	DSN     string `toml:"dsn" env:"SETTLE_DSN"`
	Migrate bool   `toml:"migrate" env:"SETTLE_AUTO_MIGRATE"`
}

// EngineConfig configures the settlement engine and its in-process vault.
type EngineConfig struct {
	PoolAddress          string   `toml:"pool_address" env:"SETTLE_POOL_ADDRESS"`
	Administrators       []string `toml:"administrators" env:"SETTLE_ADMINISTRATORS" envSeparator:","`
	OpeningBalance       string   `toml:"opening_balance" env:"SETTLE_OPENING_BALANCE"`
	MaxBatchSize         int      `toml:"max_batch_size" env:"SETTLE_MAX_BATCH_SIZE"`
	RequireActiveSession bool     `toml:"require_active_session" env:"SETTLE_REQUIRE_ACTIVE_SESSION"`
	HookTimeout          Duration `toml:"hook_timeout" env:"SETTLE_HOOK_TIMEOUT"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `toml:"level" env:"SETTLE_LOG_LEVEL"`
	Format string `toml:"format" env:"SETTLE_LOG_FORMAT"`
}

// TelemetryConfig configures OTLP tracing. Tracing is off while Endpoint
// is empty.
type TelemetryConfig struct {
	Endpoint    string `toml:"endpoint" env:"SETTLE_OTEL_ENDPOINT"`
	ServiceName string `toml:"service_name" env:"SETTLE_OTEL_SERVICE_NAME"`
}

// Duration is a time.Duration that reads and writes as "5s".
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(data []byte) error {
	v, err := time.ParseDuration(string(data))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Port:        DefaultPort,
		CORSOrigins: []string{"*"},
		Store: StoreConfig{
			Driver:  DriverMemory,
			Migrate: true,
		},
		Engine: EngineConfig{
			PoolAddress:    "0x0000000000000000000000000000000000000001",
			OpeningBalance: "0",
			MaxBatchSize:   settle.DefaultMaxBatchSize,
			HookTimeout:    Duration(5 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "settle",
		},
	}
}

// FromEnv overlays SETTLE_* environment variables (and PORT) onto cfg.
// Unset variables leave cfg untouched.
func FromEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	return nil
}

// Read decodes TOML from r onto cfg.
func Read(r io.Reader, cfg *Config) error {
	if err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return fmt.Errorf("config: decode toml: %w", err)
	}
	return nil
}

// ReadFile decodes the TOML file at path onto cfg.
func ReadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return Read(f, cfg)
}

// Write encodes cfg as TOML.
func Write(w io.Writer, cfg Config) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config: encode toml: %w", err)
	}
	return nil
}

// Load builds a configuration from defaults, the optional TOML file at
// path and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := ReadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := FromEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs settle.MultiError

	if c.Port <= 0 || c.Port > 65535 {
		errs.Add(settle.ValidationError{Field: "port", Message: fmt.Sprintf("%d is out of range", c.Port)})
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres, DriverMongo:
		if c.Store.DSN == "" {
			errs.Add(settle.ValidationError{Field: "store.dsn", Message: "is required for " + c.Store.Driver})
		}
	default:
		errs.Add(settle.ValidationError{Field: "store.driver", Message: fmt.Sprintf("unknown driver %q", c.Store.Driver)})
	}

	if pool, err := types.ParseAddress(c.Engine.PoolAddress); err != nil {
		errs.Add(settle.ValidationError{Field: "engine.pool_address", Message: err.Error()})
	} else if pool.IsZero() {
		errs.Add(settle.ValidationError{Field: "engine.pool_address", Message: "must not be the zero address"})
	}
	for i, a := range c.Engine.Administrators {
		if !types.IsValidAddress(strings.TrimSpace(a)) {
			errs.Add(settle.ValidationError{
				Field:   fmt.Sprintf("engine.administrators[%d]", i),
				Message: fmt.Sprintf("%q is not an address", a),
			})
		}
	}
	if _, err := types.ParseAmount(c.Engine.OpeningBalance); err != nil {
		errs.Add(settle.ValidationError{Field: "engine.opening_balance", Message: err.Error()})
	}
	if c.Engine.MaxBatchSize < 0 {
		errs.Add(settle.ValidationError{Field: "engine.max_batch_size", Message: "must not be negative"})
	}
	if c.Engine.HookTimeout < 0 {
		errs.Add(settle.ValidationError{Field: "engine.hook_timeout", Message: "must not be negative"})
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		errs.Add(settle.ValidationError{Field: "log.level", Message: err.Error()})
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs.Add(settle.ValidationError{Field: "log.format", Message: fmt.Sprintf("unknown format %q", c.Log.Format)})
	}

	return errs.ErrOrNil()
}

// Pool returns the pooled holder address. Call Validate first.
func (c Config) Pool() types.Address {
	a, _ := types.ParseAddress(c.Engine.PoolAddress)
	return a
}

// Admins returns the administrator addresses. Call Validate first.
func (c Config) Admins() []types.Address {
	out := make([]types.Address, 0, len(c.Engine.Administrators))
	for _, s := range c.Engine.Administrators {
		if a, err := types.ParseAddress(strings.TrimSpace(s)); err == nil {
			out = append(out, a)
		}
	}
	return out
}

// Balance returns the opening balance of the pooled holder. Call Validate
// first.
func (c Config) Balance() types.Amount {
	a, _ := types.ParseAmount(c.Engine.OpeningBalance)
	return a
}

// EngineOptions translates the engine section into settle options.
func (c Config) EngineOptions() []settle.Option {
	opts := []settle.Option{
		settle.WithMaxBatchSize(c.Engine.MaxBatchSize),
		settle.WithRequireActiveSession(c.Engine.RequireActiveSession),
		settle.WithHookTimeout(c.Engine.HookTimeout.Std()),
		settle.WithAutoMigrate(c.Store.Migrate),
	}
	if admins := c.Admins(); len(admins) > 0 {
		opts = append(opts, settle.WithGate(access.NewSet(admins...)))
	}
	return opts
}

// Logger builds the slog logger described by the log section.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("unknown level %q", s)
	}
	return l, nil
}
