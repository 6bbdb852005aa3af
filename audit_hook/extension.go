// Package audithook bridges settlement events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import any
// audit backend directly. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/settle/event"
	"github.com/xraph/settle/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnSessionStarted      = (*Extension)(nil)
	_ plugin.OnPaymentAdded        = (*Extension)(nil)
	_ plugin.OnSessionSettled      = (*Extension)(nil)
	_ plugin.OnBatchSettled        = (*Extension)(nil)
	_ plugin.OnEmergencyWithdrawal = (*Extension)(nil)
	_ plugin.OnSettlementRejected  = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a backend-neutral audit entry.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges settlement events to an audit trail backend.
type Extension struct {
	recorder          Recorder
	enabled           map[string]bool // nil = all enabled
	rejectionSeverity string
	logger            *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder:          r,
		rejectionSeverity: SeverityWarning,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// OnSessionStarted implements plugin.OnSessionStarted.
func (e *Extension) OnSessionStarted(ctx context.Context, ev *event.SessionStarted) error {
	return e.record(ctx, &AuditEvent{
		Action:     ActionSessionStarted,
		Resource:   ResourceSession,
		Category:   CategorySession,
		ResourceID: ev.SessionID.Hex(),
		Actor:      ev.User.Hex(),
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
	}, nil,
		"label", ev.SessionID.Label(),
	)
}

// OnPaymentAdded implements plugin.OnPaymentAdded.
func (e *Extension) OnPaymentAdded(ctx context.Context, ev *event.PaymentAdded) error {
	return e.record(ctx, &AuditEvent{
		Action:     ActionPaymentAdded,
		Resource:   ResourcePayment,
		Category:   CategorySession,
		ResourceID: ev.PaymentID.String(),
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
	}, nil,
		"session_id", ev.SessionID.Hex(),
		"seq", ev.Seq,
		"recipient", ev.Recipient.Hex(),
		"amount", ev.Amount.String(),
		"queued_total", ev.Total.String(),
	)
}

// OnSessionSettled implements plugin.OnSessionSettled.
func (e *Extension) OnSessionSettled(ctx context.Context, ev *event.SessionSettled) error {
	return e.record(ctx, &AuditEvent{
		Action:     ActionTransferExecuted,
		Resource:   ResourceTransfer,
		Category:   CategorySettlement,
		ResourceID: ev.RecordID.String(),
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
	}, nil,
		"session_id", ev.SessionID.Hex(),
		"batch_id", ev.BatchID.String(),
		"seq", ev.Seq,
		"recipient", ev.Recipient.Hex(),
		"amount", ev.Amount.String(),
	)
}

// OnBatchSettled implements plugin.OnBatchSettled.
func (e *Extension) OnBatchSettled(ctx context.Context, ev *event.BatchSettled) error {
	return e.record(ctx, &AuditEvent{
		Action:     ActionBatchSettled,
		Resource:   ResourceBatch,
		Category:   CategorySettlement,
		ResourceID: ev.BatchID.String(),
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
	}, nil,
		"session_id", ev.SessionID.Hex(),
		"total", ev.Total.String(),
		"count", ev.Count,
	)
}

// OnEmergencyWithdrawal implements plugin.OnEmergencyWithdrawal. Withdrawals
// bypass session accounting, so they are always recorded as critical.
func (e *Extension) OnEmergencyWithdrawal(ctx context.Context, ev *event.EmergencyWithdrawal) error {
	return e.record(ctx, &AuditEvent{
		Action:     ActionEmergencyWithdrawal,
		Resource:   ResourceWithdrawal,
		Category:   CategoryAdmin,
		ResourceID: ev.WithdrawalID.String(),
		Actor:      ev.Caller.Hex(),
		Outcome:    OutcomeSuccess,
		Severity:   SeverityCritical,
	}, nil,
		"to", ev.To.Hex(),
		"amount", ev.Amount.String(),
	)
}

// OnSettlementRejected implements plugin.OnSettlementRejected.
func (e *Extension) OnSettlementRejected(ctx context.Context, ev *event.SettlementRejected) error {
	ae := &AuditEvent{
		Action:   ActionSettleRejected,
		Resource: ResourceSession,
		Category: CategorySettlement,
		Outcome:  OutcomeFailure,
		Severity: e.rejectionSeverity,
	}
	if !ev.SessionID.IsZero() {
		ae.ResourceID = ev.SessionID.Hex()
	}
	if !ev.Caller.IsZero() {
		ae.Actor = ev.Caller.Hex()
		ae.Category = CategoryAdmin
		ae.Resource = ResourceWithdrawal
	}
	err := ev.Err
	if err == nil && ev.Reason != "" {
		err = errors.New(ev.Reason)
	}
	return e.record(ctx, ae, err, "op", ev.Op)
}

// record fills metadata and sends evt if its action is enabled. Recorder
// failures are logged and never returned.
func (e *Extension) record(ctx context.Context, evt *AuditEvent, err error, kvPairs ...any) error {
	if e.enabled != nil && !e.enabled[evt.Action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}
	if err != nil {
		evt.Reason = err.Error()
		meta["error"] = err.Error()
	}
	evt.Metadata = meta

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", evt.Action,
			"resource_id", evt.ResourceID,
			"error", recErr,
		)
	}
	return nil
}
