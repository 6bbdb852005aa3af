// Package extension mounts a settle engine inside a Forge application.
//
// Register resolves the store (a grove.DB from the container, an explicit
// store, or the in-memory store) and the asset ledger, provides the
// *settle.Engine to the container and mounts the HTTP API under BasePath.
//
// Configuration is read from "extensions.settle" or "settle" and merged with
// programmatic options.
package extension

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/settle"
	"github.com/xraph/settle/api"
	"github.com/xraph/settle/asset"
	"github.com/xraph/settle/store"
	"github.com/xraph/settle/store/backend"
	"github.com/xraph/settle/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "settle"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Session settlement engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

var _ forge.Extension = (*Extension)(nil)

// Extension adapts settle as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *settle.Engine
	store      store.Store
	assets     asset.Ledger
	engineOpts []settle.Option
	useGrove   bool
}

// New creates the extension.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the engine. It is nil until Register is called.
func (e *Extension) Engine() *settle.Engine { return e.engine }

// Register implements [forge.Extension].
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}
	if err := e.loadConfiguration(); err != nil {
		return err
	}

	eng, err := e.build(fapp.Container())
	if err != nil {
		return err
	}
	e.engine = eng

	if err := vessel.Provide(fapp.Container(), func() (*settle.Engine, error) {
		return e.engine, nil
	}); err != nil {
		return err
	}

	if e.config.DisableRoutes {
		return nil
	}
	base := strings.TrimSuffix(e.config.BasePath, "/")
	srv := api.New(eng, api.WithVersion(ExtensionVersion))
	return fapp.Router().Handle(base, http.StripPrefix(base, srv))
}

// build resolves the store and asset ledger and constructs the engine.
func (e *Extension) build(c vessel.Vessel) (*settle.Engine, error) {
	if err := e.resolveStore(c); err != nil {
		return nil, err
	}
	if err := e.resolveAssets(c); err != nil {
		return nil, err
	}
	return settle.New(e.store, e.assets, e.buildEngineOpts()...)
}

// resolveStore picks, in order: an explicit store, a grove.DB from the
// container, the in-memory store.
func (e *Extension) resolveStore(c vessel.Vessel) error {
	if e.store != nil {
		return nil
	}
	if !e.useGrove && e.config.GroveDatabase == "" {
		e.store = memory.New()
		return nil
	}

	var (
		db  *grove.DB
		err error
	)
	if e.config.GroveDatabase != "" {
		db, err = vessel.InjectNamed[*grove.DB](c, e.config.GroveDatabase)
	} else {
		db, err = vessel.Inject[*grove.DB](c)
	}
	if err != nil {
		return fmt.Errorf("settle: resolve grove database %q: %w", e.config.GroveDatabase, err)
	}

	s, err := backend.FromGrove(db)
	if err != nil {
		return err
	}
	e.store = s
	return nil
}

func (e *Extension) resolveAssets(c vessel.Vessel) error {
	if e.assets != nil {
		return nil
	}
	l, err := vessel.Inject[asset.Ledger](c)
	if err != nil {
		return fmt.Errorf("settle: no asset ledger configured or registered: %w", err)
	}
	e.assets = l
	return nil
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("settle: extension not initialized")
	}
	if err := e.engine.Start(ctx); err != nil {
		return err
	}
	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(ctx context.Context) error {
	defer e.MarkStopped()
	if e.engine == nil {
		return nil
	}
	return e.engine.Stop(ctx)
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("settle: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts translates the config; pass-through options come last
// and win.
func (e *Extension) buildEngineOpts() []settle.Option {
	opts := make([]settle.Option, 0, len(e.engineOpts)+4)
	opts = append(opts,
		settle.WithMaxBatchSize(e.config.MaxBatchSize),
		settle.WithRequireActiveSession(e.config.RequireActiveSession),
		settle.WithHookTimeout(e.config.HookTimeout),
		settle.WithAutoMigrate(!e.config.DisableMigrate),
	)
	return append(opts, e.engineOpts...)
}

// --- Config loading ---

func (e *Extension) loadConfiguration() error {
	programmatic := e.config

	fileConfig, loaded := e.tryLoadFromConfigFile()
	switch {
	case loaded:
		e.config = e.mergeConfigurations(fileConfig, programmatic)
	case programmatic.RequireConfig:
		return errors.New("settle: configuration is required but not found in config files; " +
			"ensure 'extensions.settle' or 'settle' key exists in your config")
	default:
		e.config = e.mergeWithDefaults(programmatic)
	}

	e.Logger().Debug("settle: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("max_batch_size", e.config.MaxBatchSize),
		forge.F("require_active_session", e.config.RequireActiveSession),
		forge.F("hook_timeout", e.config.HookTimeout),
		forge.F("grove_database", e.config.GroveDatabase),
	)
	return nil
}

func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	for _, key := range []string{"extensions.settle", "settle"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("settle: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("settle: loaded config from file", forge.F("key", key))
		return cfg, true
	}
	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = defaults.MaxBatchSize
	}
	if cfg.HookTimeout == 0 {
		cfg.HookTimeout = defaults.HookTimeout
	}
	return cfg
}

// mergeConfigurations lets file values win; programmatic flags that are
// set still switch features on, and programmatic values fill gaps.
func (e *Extension) mergeConfigurations(file, programmatic Config) Config {
	file.DisableRoutes = file.DisableRoutes || programmatic.DisableRoutes
	file.DisableMigrate = file.DisableMigrate || programmatic.DisableMigrate
	file.RequireActiveSession = file.RequireActiveSession || programmatic.RequireActiveSession

	if file.BasePath == "" {
		file.BasePath = programmatic.BasePath
	}
	if file.GroveDatabase == "" {
		file.GroveDatabase = programmatic.GroveDatabase
	}
	if file.MaxBatchSize == 0 {
		file.MaxBatchSize = programmatic.MaxBatchSize
	}
	if file.HookTimeout == 0 {
		file.HookTimeout = programmatic.HookTimeout
	}
	return e.mergeWithDefaults(file)
}
