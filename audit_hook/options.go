package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger for the extension.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) {
		e.logger = logger
	}
}

// WithEnabledActions restricts auditing to the given actions.
// If not called, all actions are audited.
func WithEnabledActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(actions))
		for _, action := range actions {
			e.enabled[action] = true
		}
	}
}

// WithDisabledActions audits everything except the given actions.
func WithDisabledActions(actions ...string) Option {
	return func(e *Extension) {
		if e.enabled == nil {
			e.enabled = make(map[string]bool)
			for _, action := range allActions() {
				e.enabled[action] = true
			}
		}
		for _, action := range actions {
			delete(e.enabled, action)
		}
	}
}

// WithRejectionSeverity sets the severity of settlement.rejected entries.
// Defaults to SeverityWarning.
func WithRejectionSeverity(severity string) Option {
	return func(e *Extension) {
		e.rejectionSeverity = severity
	}
}

// allActions returns all known audit actions.
func allActions() []string {
	return []string{
		ActionSessionStarted,
		ActionPaymentAdded,
		ActionTransferExecuted,
		ActionBatchSettled,
		ActionSettleRejected,
		ActionEmergencyWithdrawal,
	}
}
