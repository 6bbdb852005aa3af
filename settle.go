package settle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/settle/access"
	"github.com/xraph/settle/asset"
	"github.com/xraph/settle/plugin"
	"github.com/xraph/settle/session"
	"github.com/xraph/settle/settlement"
	"github.com/xraph/settle/store"
	"github.com/xraph/settle/types"
)

// DefaultMaxBatchSize caps the number of instructions in one batch.
const DefaultMaxBatchSize = 256

const tracerName = "github.com/xraph/settle"

// Engine is the settlement engine. It is safe for concurrent use; mutating
// operations are serialized and wait for each other until their context is
// done.
type Engine struct {
	store   store.Store
	assets  asset.Ledger
	gate    access.Gate
	plugins *plugin.Registry
	logger  *slog.Logger
	tracer  trace.Tracer
	clock   func() time.Time
	guard   guard

	maxBatchSize         int
	requireActiveSession bool
	autoMigrate          bool

	optErrs MultiError
}

// New creates an engine settling out of assets.Holder() and persisting
// into s. It fails with ErrInvalidConfiguration when a collaborator is
// missing or an option is invalid.
func New(s store.Store, assets asset.Ledger, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:        s,
		assets:       assets,
		gate:         access.GateFunc(func(context.Context, types.Address) bool { return false }),
		plugins:      plugin.NewRegistry(),
		logger:       slog.Default(),
		tracer:       otel.Tracer(tracerName),
		clock:        time.Now,
		guard: guard{
			sem:      make(chan struct{}, 1),
			settling: make(map[session.ID]settlement.Flag),
		},
		maxBatchSize: DefaultMaxBatchSize,
		autoMigrate:  true,
	}

	for _, opt := range opts {
		opt(e)
	}

	if s == nil {
		e.optErrs.Add(ValidationError{Field: "store", Message: "is required"})
	}
	if assets == nil {
		e.optErrs.Add(ValidationError{Field: "assets", Message: "is required"})
	} else if assets.Holder().IsZero() {
		e.optErrs.Add(ValidationError{Field: "assets.holder", Message: "must not be the zero address"})
	}
	if e.maxBatchSize < 0 {
		e.optErrs.Add(ValidationError{Field: "max_batch_size", Message: "must not be negative"})
	}
	if err := e.optErrs.ErrOrNil(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	return e, nil
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin. Duplicate names make New fail.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		if err := e.plugins.Register(p); err != nil {
			e.optErrs.Add(ValidationError{Field: "plugin", Message: err.Error()})
		}
	}
}

// WithHookTimeout bounds each plugin hook call.
func WithHookTimeout(d time.Duration) Option {
	return func(e *Engine) { e.plugins.WithTimeout(d) }
}

// WithGate sets the access-control gate consulted by EmergencyWithdraw.
// Without a gate every caller is refused.
func WithGate(g access.Gate) Option {
	return func(e *Engine) {
		if g == nil {
			e.optErrs.Add(ValidationError{Field: "gate", Message: "must not be nil"})
			return
		}
		e.gate = g
	}
}

// WithAdministrator is shorthand for WithGate(access.NewOwner(addr)).
func WithAdministrator(addr types.Address) Option {
	return func(e *Engine) {
		if addr.IsZero() {
			e.optErrs.Add(ValidationError{Field: "administrator", Message: "must not be the zero address"})
			return
		}
		e.gate = access.NewOwner(addr)
	}
}

// WithMaxBatchSize caps batch length. Zero disables the cap.
func WithMaxBatchSize(n int) Option {
	return func(e *Engine) { e.maxBatchSize = n }
}

// WithRequireActiveSession makes finalize calls fail with
// ErrInactiveSession unless the session was started and is still active.
// By default any unsettled session id may be finalized.
func WithRequireActiveSession(require bool) Option {
	return func(e *Engine) { e.requireActiveSession = require }
}

// WithAutoMigrate controls whether Start migrates the store. It is on by
// default.
func WithAutoMigrate(migrate bool) Option {
	return func(e *Engine) { e.autoMigrate = migrate }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start migrates the store, unless disabled with WithAutoMigrate, and
// initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if e.autoMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
		}
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("settle engine started",
		"holder", e.assets.Holder().Hex(),
		"max_batch_size", e.maxBatchSize,
		"require_active_session", e.requireActiveSession,
		"plugins", e.plugins.Count(),
	)
	return nil
}

// Stop notifies plugins and closes the store.
func (e *Engine) Stop(ctx context.Context) error {
	e.plugins.EmitShutdown(ctx)
	return e.store.Close()
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Assets returns the asset ledger.
func (e *Engine) Assets() asset.Ledger { return e.assets }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// GetSession returns the session for sessionID, or the zero value when it
// is unknown. Use Session.Exists to tell the two apart.
func (e *Engine) GetSession(ctx context.Context, sessionID session.ID) (session.Session, error) {
	s, err := e.reader(ctx).GetSession(ctx, sessionID)
	if err != nil {
		if IsNotFound(err) {
			return session.Session{}, nil
		}
		return session.Session{}, err
	}
	if f, ok := e.guard.inFlight(sessionID); ok && s.Active {
		s.Active = false
		s.UpdatedAt = f.SettledAt
	}
	return *s, nil
}

// ListSessions lists sessions, oldest first.
func (e *Engine) ListSessions(ctx context.Context, opts session.ListOpts) ([]*session.Session, error) {
	return e.reader(ctx).ListSessions(ctx, opts)
}

// IsSessionSettled reports whether sessionID has been settled. A session
// whose settlement is executing counts as settled.
func (e *Engine) IsSessionSettled(ctx context.Context, sessionID session.ID) (bool, error) {
	if _, ok := e.guard.inFlight(sessionID); ok {
		return true, nil
	}
	return e.reader(ctx).IsSettled(ctx, sessionID)
}

// GetSettlement returns the settled flag of sessionID, or
// ErrSettlementNotFound.
func (e *Engine) GetSettlement(ctx context.Context, sessionID session.ID) (*settlement.Flag, error) {
	if f, ok := e.guard.inFlight(sessionID); ok {
		return &f, nil
	}
	return e.reader(ctx).GetFlag(ctx, sessionID)
}

// ListRecords lists executed transfers in execution order.
func (e *Engine) ListRecords(ctx context.Context, opts settlement.ListOpts) ([]*settlement.Record, error) {
	return e.reader(ctx).ListRecords(ctx, opts)
}

// GetBalance returns the pooled balance.
func (e *Engine) GetBalance(ctx context.Context) (types.Amount, error) {
	return e.assets.BalanceOf(ctx, e.assets.Holder())
}

func (e *Engine) now() time.Time { return e.clock().UTC() }
