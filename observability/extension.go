// Package observability provides a metrics extension for the settlement
// engine that records event counts and transfer volumes via a MetricFactory.
package observability

import (
	"context"
	"sync"

	"github.com/xraph/settle/event"
	"github.com/xraph/settle/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnInit                = (*MetricsExtension)(nil)
	_ plugin.OnSessionStarted      = (*MetricsExtension)(nil)
	_ plugin.OnPaymentAdded        = (*MetricsExtension)(nil)
	_ plugin.OnSessionSettled      = (*MetricsExtension)(nil)
	_ plugin.OnBatchSettled        = (*MetricsExtension)(nil)
	_ plugin.OnEmergencyWithdrawal = (*MetricsExtension)(nil)
	_ plugin.OnSettlementRejected  = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records settlement metrics.
// Register it as an engine plugin to track sessions and transfers.
type MetricsExtension struct {
	// Session metrics
	SessionsStarted Counter
	SessionsSettled Counter

	// Queued payment metrics
	PaymentsAdded Counter
	PaymentAmount Histogram

	// Transfer metrics
	Transfers      Counter
	TransferAmount Histogram

	// Batch metrics
	BatchesSettled Counter
	BatchSize      Histogram
	BatchTotal     Histogram

	// Admin metrics
	Withdrawals      Counter
	WithdrawalAmount Histogram

	// Rejections are counted per operation.
	Rejections map[string]Counter

	factory MetricFactory
	mu      sync.Mutex
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		SessionsStarted: factory.Counter("settle.session.started"),
		SessionsSettled: factory.Counter("settle.session.settled"),

		PaymentsAdded: factory.Counter("settle.payment.added"),
		PaymentAmount: factory.Histogram("settle.payment.amount"),

		Transfers:      factory.Counter("settle.transfer.executed"),
		TransferAmount: factory.Histogram("settle.transfer.amount"),

		BatchesSettled: factory.Counter("settle.batch.settled"),
		BatchSize:      factory.Histogram("settle.batch.size"),
		BatchTotal:     factory.Histogram("settle.batch.total_amount"),

		Withdrawals:      factory.Counter("settle.emergency.withdrawals"),
		WithdrawalAmount: factory.Histogram("settle.emergency.amount"),

		Rejections: map[string]Counter{
			"start_session":          factory.Counter("settle.rejected.start_session"),
			"finalize_session":       factory.Counter("settle.rejected.finalize_session"),
			"finalize_session_batch": factory.Counter("settle.rejected.finalize_session_batch"),
			"add_payment":            factory.Counter("settle.rejected.add_payment"),
			"finalize_payments":      factory.Counter("settle.rejected.finalize_payments"),
			"emergency_withdraw":     factory.Counter("settle.rejected.emergency_withdraw"),
		},
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// OnSessionStarted implements plugin.OnSessionStarted.
func (m *MetricsExtension) OnSessionStarted(_ context.Context, _ *event.SessionStarted) error {
	m.SessionsStarted.Inc()
	return nil
}

// OnPaymentAdded implements plugin.OnPaymentAdded.
func (m *MetricsExtension) OnPaymentAdded(_ context.Context, e *event.PaymentAdded) error {
	m.PaymentsAdded.Inc()
	m.PaymentAmount.Observe(float64(e.Amount.Uint64()))
	return nil
}

// OnSessionSettled implements plugin.OnSessionSettled. Each executed
// transfer counts once; the first transfer of a session also counts the
// session.
func (m *MetricsExtension) OnSessionSettled(_ context.Context, e *event.SessionSettled) error {
	if e.Seq == 0 {
		m.SessionsSettled.Inc()
	}
	m.Transfers.Inc()
	m.TransferAmount.Observe(float64(e.Amount.Uint64()))
	return nil
}

// OnBatchSettled implements plugin.OnBatchSettled.
func (m *MetricsExtension) OnBatchSettled(_ context.Context, e *event.BatchSettled) error {
	m.BatchesSettled.Inc()
	m.BatchSize.Observe(float64(e.Count))
	m.BatchTotal.Observe(float64(e.Total.Uint64()))
	return nil
}

// OnEmergencyWithdrawal implements plugin.OnEmergencyWithdrawal.
func (m *MetricsExtension) OnEmergencyWithdrawal(_ context.Context, e *event.EmergencyWithdrawal) error {
	m.Withdrawals.Inc()
	m.WithdrawalAmount.Observe(float64(e.Amount.Uint64()))
	return nil
}

// OnSettlementRejected implements plugin.OnSettlementRejected.
func (m *MetricsExtension) OnSettlementRejected(_ context.Context, e *event.SettlementRejected) error {
	m.mu.Lock()
	c, ok := m.Rejections[e.Op]
	if !ok {
		c = m.factory.Counter("settle.rejected." + e.Op)
		m.Rejections[e.Op] = c
	}
	m.mu.Unlock()
	c.Inc()
	return nil
}
