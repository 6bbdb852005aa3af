package audithook

// Action constants for audit events.
const (
	// Session actions
	ActionSessionStarted = "session.started"
	ActionPaymentAdded   = "payment.added"

	// Settlement actions
	ActionTransferExecuted = "transfer.executed"
	ActionBatchSettled     = "batch.settled"
	ActionSettleRejected   = "settlement.rejected"

	// Admin actions
	ActionEmergencyWithdrawal = "emergency.withdrawal"
)

// Resource constants for audit events.
const (
	ResourceSession    = "session"
	ResourcePayment    = "payment"
	ResourceTransfer   = "transfer"
	ResourceBatch      = "batch"
	ResourceWithdrawal = "withdrawal"
)

// Category constants for audit events.
const (
	CategorySession    = "session"
	CategorySettlement = "settlement"
	CategoryAdmin      = "admin"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
