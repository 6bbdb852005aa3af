package extension

import (
	"time"

	"github.com/xraph/settle"
)

// Config holds the settle extension configuration. It is set through
// Option functions or read from the "extensions.settle" or "settle" keys of
// the application config.
type Config struct {
	// DisableRoutes skips mounting the HTTP API.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate skips store migration on Start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix the API is mounted under (default "/settle").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// MaxBatchSize caps FinalizeSessionBatch. Zero falls back to the
	// default; pass settle.WithMaxBatchSize(0) through WithEngineOption to
	// lift the cap.
	MaxBatchSize int `json:"max_batch_size" mapstructure:"max_batch_size" yaml:"max_batch_size"`

	RequireActiveSession bool `json:"require_active_session" mapstructure:"require_active_session" yaml:"require_active_session"`

	// HookTimeout bounds each plugin hook call (default 5s).
	HookTimeout time.Duration `json:"hook_timeout" mapstructure:"hook_timeout" yaml:"hook_timeout"`

	// GroveDatabase names a grove.DB registered in the container. The store
	// backend is picked from its driver. Empty with WithGroveDatabase means
	// the unnamed DB.
	GroveDatabase string `json:"grove_database" mapstructure:"grove_database" yaml:"grove_database"`

	// RequireConfig makes Register fail when no config key is present.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:     "/settle",
		MaxBatchSize: settle.DefaultMaxBatchSize,
		HookTimeout:  5 * time.Second,
	}
}
