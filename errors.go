package settle

import (
	"errors"
	"fmt"

	"github.com/xraph/settle/types"
)

// Sentinel errors. Every failure aborts the enclosing operation; none is
// retried internally.
var (
	// Session registry
	ErrDuplicateSession = errors.New("settle: session already exists")
	ErrSessionNotFound  = errors.New("settle: session not found")
	ErrInactiveSession  = errors.New("settle: session is not active")

	// Settlement ledger
	ErrAlreadySettled      = errors.New("settle: session already settled")
	ErrSettlementNotFound  = errors.New("settle: session not settled")
	ErrInvalidRecipient    = errors.New("settle: invalid recipient")
	ErrInvalidAmount       = errors.New("settle: invalid amount")
	ErrEmptyBatch          = errors.New("settle: empty batch")
	ErrBatchOverflow       = errors.New("settle: batch total overflows")
	ErrBatchTooLarge       = errors.New("settle: batch too large")
	ErrInsufficientBalance = errors.New("settle: insufficient balance")

	// Engine
	ErrInvalidConfiguration = errors.New("settle: invalid configuration")
	ErrUnauthorized         = errors.New("settle: unauthorized")
	ErrReentrantCall        = errors.New("settle: reentrant call")

	// Store
	ErrStoreClosed       = errors.New("settle: store is closed")
	ErrTransactionFailed = errors.New("settle: transaction failed")
	ErrMigrationFailed   = errors.New("settle: migration failed")
)

// InsufficientBalanceError reports the amount a settlement needed and the
// pooled balance observed when it was checked.
type InsufficientBalanceError struct {
	Required  types.Amount
	Available types.Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("settle: insufficient balance: required %s, available %s", e.Required, e.Available)
}

// Is matches ErrInsufficientBalance.
func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// InstructionError pins a validation failure to one instruction of a batch.
type InstructionError struct {
	Index int
	Err   error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("instruction %d: %v", e.Index, e.Err)
}

func (e *InstructionError) Unwrap() error { return e.Err }

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("settle: validation failed for %s: %s", e.Field, e.Message)
}

// Is matches ErrInvalidConfiguration so that option and config validation
// failures can be tested uniformly.
func (e ValidationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

// MultiError collects several errors.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "settle: no errors"
	case 1:
		return e.Errors[0].Error()
	default:
		return fmt.Sprintf("settle: %d errors occurred: %v", len(e.Errors), e.Errors[0])
	}
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add appends err when it is non-nil.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool { return len(e.Errors) > 0 }

// ErrOrNil returns e when it holds errors, nil otherwise.
func (e MultiError) ErrOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// IsNotFound reports lookup misses.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSettlementNotFound)
}

// IsConflict reports failures caused by state that already exists.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateSession) ||
		errors.Is(err, ErrAlreadySettled)
}

// IsRejection reports failures the caller can correct by changing the
// input or topping up the pooled balance.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidRecipient) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrEmptyBatch) ||
		errors.Is(err, ErrBatchOverflow) ||
		errors.Is(err, ErrBatchTooLarge) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInactiveSession)
}

// IsRetryable reports transient store failures.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionFailed) ||
		errors.Is(err, ErrStoreClosed)
}
