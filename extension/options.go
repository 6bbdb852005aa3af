package extension

import (
	"time"

	"github.com/xraph/settle"
	"github.com/xraph/settle/asset"
	"github.com/xraph/settle/plugin"
	"github.com/xraph/settle/store"
)

// Option configures the extension.
type Option func(*Extension)

// WithStore sets the store directly, bypassing grove resolution.
func WithStore(s store.Store) Option {
	return func(e *Extension) { e.store = s }
}

// WithAssets sets the ledger settlements are paid out of. Without it the
// extension resolves an asset.Ledger from the container.
func WithAssets(l asset.Ledger) Option {
	return func(e *Extension) { e.assets = l }
}

// WithEngineOption passes opt through to settle.New.
func WithEngineOption(opt settle.Option) Option {
	return func(e *Extension) { e.engineOpts = append(e.engineOpts, opt) }
}

// WithPlugin registers an engine plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) { e.engineOpts = append(e.engineOpts, settle.WithPlugin(p)) }
}

// WithConfig replaces the extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix of the API.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithMaxBatchSize caps batch length.
func WithMaxBatchSize(n int) Option {
	return func(e *Extension) { e.config.MaxBatchSize = n }
}

// WithRequireActiveSession rejects finalize calls on sessions that were
// never started.
func WithRequireActiveSession() Option {
	return func(e *Extension) { e.config.RequireActiveSession = true }
}

// WithHookTimeout bounds each plugin hook call.
func WithHookTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.HookTimeout = d }
}

// WithRequireConfig makes Register fail when the application config has
// no settle section.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithGroveDatabase resolves the store from the named grove.DB in the
// container. Pass "" for the default DB.
func WithGroveDatabase(name string) Option {
	return func(e *Extension) {
		e.config.GroveDatabase = name
		e.useGrove = true
	}
}
