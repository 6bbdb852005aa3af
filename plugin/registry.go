package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/settle/event"
)

// DefaultHookTimeout bounds a single hook call.
const DefaultHookTimeout = 5 * time.Second

// Registry holds registered plugins and dispatches events to them. Hooks of
// one plugin are called one at a time, so a plugin observes events in
// emission order. Hook failures are logged and never reach the caller of the
// engine.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                []OnInit
	onShutdown            []OnShutdown
	onSessionStarted      []OnSessionStarted
	onPaymentAdded        []OnPaymentAdded
	onSessionSettled      []OnSessionSettled
	onBatchSettled        []OnBatchSettled
	onEmergencyWithdrawal []OnEmergencyWithdrawal
	onSettlementRejected  []OnSettlementRejected
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout bounds each hook call. Non-positive values keep the default.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds p and caches the hooks it implements.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}
	r.plugins = append(r.plugins, p)

	var hooks []string
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnSessionStarted); ok {
		r.onSessionStarted = append(r.onSessionStarted, v)
		hooks = append(hooks, "OnSessionStarted")
	}
	if v, ok := p.(OnPaymentAdded); ok {
		r.onPaymentAdded = append(r.onPaymentAdded, v)
		hooks = append(hooks, "OnPaymentAdded")
	}
	if v, ok := p.(OnSessionSettled); ok {
		r.onSessionSettled = append(r.onSessionSettled, v)
		hooks = append(hooks, "OnSessionSettled")
	}
	if v, ok := p.(OnBatchSettled); ok {
		r.onBatchSettled = append(r.onBatchSettled, v)
		hooks = append(hooks, "OnBatchSettled")
	}
	if v, ok := p.(OnEmergencyWithdrawal); ok {
		r.onEmergencyWithdrawal = append(r.onEmergencyWithdrawal, v)
		hooks = append(hooks, "OnEmergencyWithdrawal")
	}
	if v, ok := p.(OnSettlementRejected); ok {
		r.onSettlementRejected = append(r.onSettlementRejected, v)
		hooks = append(hooks, "OnSettlementRejected")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooks,
	)
	return nil
}

// Get returns a plugin by name, or nil.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission
// ──────────────────────────────────────────────────

// EmitInit calls OnInit on every plugin implementing it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	r.mu.RLock()
	hooks := r.onInit
	r.mu.RUnlock()

	for _, p := range hooks {
		r.call(ctx, p.Name(), "OnInit", func() error { return p.OnInit(ctx, engine) })
	}
}

// EmitShutdown calls OnShutdown on every plugin implementing it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	hooks := r.onShutdown
	r.mu.RUnlock()

	for _, p := range hooks {
		r.call(ctx, p.Name(), "OnShutdown", func() error { return p.OnShutdown(ctx) })
	}
}

// EmitSessionStarted dispatches a SessionStarted event.
func (r *Registry) EmitSessionStarted(ctx context.Context, e *event.SessionStarted) {
	r.mu.RLock()
	hooks := r.onSessionStarted
	r.mu.RUnlock()

	for _, p := range hooks {
		r.call(ctx, p.Name(), "OnSessionStarted", func() error { return p.OnSessionStarted(ctx, e) })
	}
}

// EmitPaymentAdded dispatches a PaymentAdded event.
func (r *Registry) EmitPaymentAdded(ctx context.Context, e *event.PaymentAdded) {
	r.mu.RLock()
	hooks := r.onPaymentAdded
	r.mu.RUnlock()

	for _, p := range hooks {
		r.call(ctx, p.Name(), "OnPaymentAdded", func() error { return p.OnPaymentAdded(ctx, e) })
	}
}

// EmitSessionSettled dispatches a SessionSettled event.
func (r *Registry) EmitSessionSettled(ctx context.Context, e *event.SessionSettled) {
	r.mu.RLock()
	hooks := r.onSessionSettled
	r.mu.RUnlock()

	for _, p := range hooks {
		r.call(ctx, p.Name(), "OnSessionSettled", func() error { return p.OnSessionSettled(ctx, e) })
	}
}

// EmitBatchSettled dispatches a BatchSettled event.
func (r *Registry) EmitBatchSettled(ctx context.Context, e *event.BatchSettled) {
	r.mu.RLock()
	hooks := r.onBatchSettled
	r.mu.RUnlock()

	for _, p := range hooks {
		r.call(ctx, p.Name(), "OnBatchSettled", func() error { return p.OnBatchSettled(ctx, e) })
	}
}

// EmitEmergencyWithdrawal dispatches an EmergencyWithdrawal event.
func (r *Registry) EmitEmergencyWithdrawal(ctx context.Context, e *event.EmergencyWithdrawal) {
	r.mu.RLock()
	hooks := r.onEmergencyWithdrawal
	r.mu.RUnlock()

	for _, p := range hooks {
		r.call(ctx, p.Name(), "OnEmergencyWithdrawal", func() error { return p.OnEmergencyWithdrawal(ctx, e) })
	}
}

// EmitSettlementRejected dispatches a SettlementRejected event.
func (r *Registry) EmitSettlementRejected(ctx context.Context, e *event.SettlementRejected) {
	r.mu.RLock()
	hooks := r.onSettlementRejected
	r.mu.RUnlock()

	for _, p := range hooks {
		r.call(ctx, p.Name(), "OnSettlementRejected", func() error { return p.OnSettlementRejected(ctx, e) })
	}
}

func (r *Registry) call(ctx context.Context, pluginName, hook string, fn func() error) {
	if err := r.callWithTimeout(ctx, pluginName, fn); err != nil {
		r.logger.Warn("plugin "+hook+" failed",
			"plugin", pluginName,
			"error", err,
		)
	}
}

// callWithTimeout runs fn but stops waiting after the registry timeout.
// Plugins must never stall settlement.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("plugin panic: %s: %v", pluginName, rec)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
