// Package plugin lets extensions observe the settlement engine. Plugins
// implement Plugin plus any of the hook interfaces below; the Registry
// discovers the hooks once at registration.
package plugin

import (
	"context"

	"github.com/xraph/settle/event"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. engine is the *settle.Engine.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnSessionStarted is called after a session is created.
type OnSessionStarted interface {
	Plugin
	OnSessionStarted(ctx context.Context, e *event.SessionStarted) error
}

// OnPaymentAdded is called after a payment is queued on a session.
type OnPaymentAdded interface {
	Plugin
	OnPaymentAdded(ctx context.Context, e *event.PaymentAdded) error
}

// OnSessionSettled is called once per executed transfer, in order.
type OnSessionSettled interface {
	Plugin
	OnSessionSettled(ctx context.Context, e *event.SessionSettled) error
}

// OnBatchSettled is called after the per-transfer events of a batch.
type OnBatchSettled interface {
	Plugin
	OnBatchSettled(ctx context.Context, e *event.BatchSettled) error
}

// OnEmergencyWithdrawal is called after an administrative withdrawal.
type OnEmergencyWithdrawal interface {
	Plugin
	OnEmergencyWithdrawal(ctx context.Context, e *event.EmergencyWithdrawal) error
}

// OnSettlementRejected is called when a mutating operation fails.
type OnSettlementRejected interface {
	Plugin
	OnSettlementRejected(ctx context.Context, e *event.SettlementRejected) error
}
