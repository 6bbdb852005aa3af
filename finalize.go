package settle

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/settle/event"
	"github.com/xraph/settle/id"
	"github.com/xraph/settle/session"
	"github.com/xraph/settle/settlement"
	"github.com/xraph/settle/store"
	"github.com/xraph/settle/types"
)

// Operation names reported on SettlementRejected events and spans.
const (
	OpStartSession      = "start_session"
	OpFinalizeSession   = "finalize_session"
	OpFinalizeBatch     = "finalize_session_batch"
	OpAddPayment        = "add_payment"
	OpFinalizePayments  = "finalize_payments"
	OpEmergencyWithdraw = "emergency_withdraw"
)

// ──────────────────────────────────────────────────
// Session registry
// ──────────────────────────────────────────────────

// StartSession records sessionID as active for user. Creating an id twice
// fails with ErrDuplicateSession, even after the session was settled.
func (e *Engine) StartSession(ctx context.Context, sessionID session.ID, user types.Address) (s *session.Session, err error) {
	ctx, span := e.startSpan(ctx, OpStartSession, sessionID)
	defer func() { endSpan(span, err) }()

	s, err = e.startSession(ctx, sessionID, user)
	if err != nil {
		e.rejected(ctx, OpStartSession, sessionID, user, err)
		return nil, err
	}

	e.plugins.EmitSessionStarted(ctx, &event.SessionStarted{
		SessionID: s.ID,
		User:      s.User,
		At:        s.CreatedAt,
	})
	e.logger.Info("session started", "session_id", sessionID.String(), "user", user.Hex())
	return s, nil
}

func (e *Engine) startSession(ctx context.Context, sessionID session.ID, user types.Address) (*session.Session, error) {
	lctx, f, leave, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	s := &session.Session{
		Entity: types.NewEntity(e.now()),
		ID:     sessionID,
		User:   user,
		Active: true,
	}
	err = e.transact(lctx, f, func(ctx context.Context, tx store.Store) error {
		if _, err := tx.GetSession(ctx, sessionID); err == nil {
			return ErrDuplicateSession
		} else if !errors.Is(err, ErrSessionNotFound) {
			return storeErr("load session", err)
		}
		if user.IsZero() {
			return ErrInvalidRecipient
		}
		return storeErr("create session", tx.CreateSession(ctx, s))
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ──────────────────────────────────────────────────
// Settlement
// ──────────────────────────────────────────────────

// FinalizeSession pays amount to recipient out of the pooled balance and
// marks sessionID settled. Either all of it happens or none of it does.
func (e *Engine) FinalizeSession(ctx context.Context, sessionID session.ID, amount types.Amount, recipient types.Address) (r *settlement.Receipt, err error) {
	ctx, span := e.startSpan(ctx, OpFinalizeSession, sessionID,
		attribute.String("settle.recipient", recipient.Hex()),
		attribute.String("settle.amount", amount.String()),
	)
	defer func() { endSpan(span, err) }()

	return e.settle(ctx, OpFinalizeSession, sessionID,
		given([]settlement.Instruction{{Recipient: recipient, Amount: amount}}), false)
}

// FinalizeSessionBatch pays every instruction in order out of the pooled
// balance and marks sessionID settled. Validation is all-or-nothing: one
// bad instruction rejects the batch and nothing is transferred.
func (e *Engine) FinalizeSessionBatch(ctx context.Context, sessionID session.ID, instructions []settlement.Instruction) (r *settlement.Receipt, err error) {
	ctx, span := e.startSpan(ctx, OpFinalizeBatch, sessionID,
		attribute.Int("settle.instructions", len(instructions)),
	)
	defer func() { endSpan(span, err) }()

	return e.settle(ctx, OpFinalizeBatch, sessionID, given(instructions), true)
}

// instructionSource yields the instructions of a settlement inside its
// transaction.
type instructionSource func(ctx context.Context, tx store.Store) ([]settlement.Instruction, error)

func given(instructions []settlement.Instruction) instructionSource {
	return func(context.Context, store.Store) ([]settlement.Instruction, error) {
		return instructions, nil
	}
}

func (e *Engine) settle(ctx context.Context, op string, sessionID session.ID, source instructionSource, batch bool) (*settlement.Receipt, error) {
	r, err := e.commitSettlement(ctx, sessionID, source, batch)
	if err != nil {
		e.rejected(ctx, op, sessionID, types.ZeroAddress, err)
		return nil, err
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("settle.batch_id", r.BatchID.String()),
		attribute.String("settle.total", r.Total.String()),
	)

	for _, rec := range r.Records {
		e.plugins.EmitSessionSettled(ctx, &event.SessionSettled{
			SessionID: rec.SessionID,
			BatchID:   rec.BatchID,
			RecordID:  rec.ID,
			Seq:       rec.Seq,
			Recipient: rec.Recipient,
			Amount:    rec.Amount,
			At:        rec.CreatedAt,
		})
	}
	if batch {
		e.plugins.EmitBatchSettled(ctx, &event.BatchSettled{
			SessionID: r.SessionID,
			BatchID:   r.BatchID,
			Total:     r.Total,
			Count:     len(r.Records),
			At:        r.SettledAt,
		})
	}

	e.logger.Info("session settled",
		"session_id", sessionID.String(),
		"batch_id", r.BatchID.String(),
		"total", r.Total.String(),
		"transfers", len(r.Records),
	)
	return r, nil
}

func (e *Engine) commitSettlement(ctx context.Context, sessionID session.ID, source instructionSource, batch bool) (*settlement.Receipt, error) {
	if err := e.refuseInFlight(ctx, sessionID); err != nil {
		return nil, err
	}
	lctx, f, leave, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()
	defer e.guard.release(sessionID)

	now := e.now()
	var (
		receipt      *settlement.Receipt
		instructions []settlement.Instruction
	)
	err = e.atomically(lctx, f, func(ctx context.Context, tx store.Store) error {
		settled, err := tx.IsSettled(ctx, sessionID)
		if err != nil {
			return storeErr("check settled flag", err)
		}
		if settled {
			return ErrAlreadySettled
		}

		if instructions, err = source(ctx, tx); err != nil {
			return err
		}
		total, err := e.validate(instructions, batch)
		if err != nil {
			return err
		}

		if e.requireActiveSession {
			if err := checkActive(ctx, tx, sessionID); err != nil {
				return err
			}
		}

		if err := e.ensureBalance(ctx, total); err != nil {
			return err
		}

		// Effects before interactions: the flag and records are written
		// before any value leaves the pool.
		batchID := id.NewBatchID()
		flag := &settlement.Flag{
			SessionID: sessionID,
			BatchID:   batchID,
			Total:     total,
			Count:     len(instructions),
			SettledAt: now,
		}
		if err := tx.MarkSettled(ctx, flag); err != nil {
			return storeErr("mark settled", err)
		}
		e.guard.claim(*flag)
		if _, err := tx.DeactivateSession(ctx, sessionID, now); err != nil {
			return storeErr("deactivate session", err)
		}
		records := plan(sessionID, batchID, instructions, now)
		if err := tx.AppendRecords(ctx, records); err != nil {
			return storeErr("append records", err)
		}

		if err := e.execute(ctx, records); err != nil {
			return err
		}

		receipt = &settlement.Receipt{
			SessionID: sessionID,
			BatchID:   batchID,
			Total:     total,
			Records:   records,
			SettledAt: now,
		}
		return nil
	})
	if err != nil {
		if !IsRejection(err) && !IsConflict(err) && !errors.Is(err, ErrReentrantCall) {
			e.logger.Error("settlement rolled back",
				"session_id", sessionID.Hex(),
				"instructions", len(instructions),
				"error", err,
			)
		}
		return nil, err
	}
	return receipt, nil
}

// validate checks instructions and returns their total. Single-recipient
// calls report plain sentinels; batches pin failures to an index.
func (e *Engine) validate(instructions []settlement.Instruction, batch bool) (types.Amount, error) {
	if batch {
		return ValidateBatch(instructions, e.maxBatchSize)
	}
	in := instructions[0]
	if err := validateInstruction(in); err != nil {
		return 0, err
	}
	return in.Amount, nil
}

func checkActive(ctx context.Context, tx store.Store, sessionID session.ID) error {
	s, err := tx.GetSession(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("%w: %s was never started", ErrInactiveSession, sessionID)
	}
	if err != nil {
		return storeErr("load session", err)
	}
	if !s.Active {
		return fmt.Errorf("%w: %s", ErrInactiveSession, sessionID)
	}
	return nil
}

func (e *Engine) ensureBalance(ctx context.Context, required types.Amount) error {
	available, err := e.assets.BalanceOf(ctx, e.assets.Holder())
	if err != nil {
		return fmt.Errorf("settle: read pooled balance: %w", err)
	}
	if available.LessThan(required) {
		return &InsufficientBalanceError{Required: required, Available: available}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Escape hatch
// ──────────────────────────────────────────────────

// EmergencyWithdraw moves amount from the pool to to. Only callers the gate
// admits may use it. The withdrawal does not consult or change any
// session's settled state.
func (e *Engine) EmergencyWithdraw(ctx context.Context, caller, to types.Address, amount types.Amount) (rec *settlement.Record, err error) {
	ctx, span := e.startSpan(ctx, OpEmergencyWithdraw, session.ID{},
		attribute.String("settle.caller", caller.Hex()),
		attribute.String("settle.recipient", to.Hex()),
		attribute.String("settle.amount", amount.String()),
	)
	defer func() { endSpan(span, err) }()

	rec, err = e.withdraw(ctx, caller, to, amount)
	if err != nil {
		e.rejected(ctx, OpEmergencyWithdraw, session.ID{}, caller, err)
		return nil, err
	}

	e.plugins.EmitEmergencyWithdrawal(ctx, &event.EmergencyWithdrawal{
		WithdrawalID: rec.ID,
		Caller:       caller,
		To:           to,
		Amount:       amount,
		At:           rec.CreatedAt,
	})
	e.logger.Warn("emergency withdrawal executed",
		"withdrawal_id", rec.ID.String(),
		"caller", caller.Hex(),
		"to", to.Hex(),
		"amount", amount.String(),
	)
	return rec, nil
}

func (e *Engine) withdraw(ctx context.Context, caller, to types.Address, amount types.Amount) (*settlement.Record, error) {
	if !e.gate.IsAdministrator(ctx, caller) {
		return nil, ErrUnauthorized
	}
	if to.IsZero() {
		return nil, ErrInvalidRecipient
	}
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	lctx, f, leave, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	rec := &settlement.Record{
		ID:        id.NewWithdrawalID(),
		Kind:      settlement.KindWithdrawal,
		Recipient: to,
		Amount:    amount,
		Caller:    caller,
		CreatedAt: e.now(),
	}
	err = e.atomically(lctx, f, func(ctx context.Context, tx store.Store) error {
		if err := e.ensureBalance(ctx, amount); err != nil {
			return err
		}
		if err := tx.AppendRecords(ctx, []*settlement.Record{rec}); err != nil {
			return storeErr("append withdrawal", err)
		}
		if err := e.assets.Transfer(ctx, to, amount); err != nil {
			return fmt.Errorf("settle: withdraw to %s: %w", to.Short(), err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// rejected reports a failed operation. Reentrant calls are only logged:
// their hooks would run while the outer call still holds the guard.
func (e *Engine) rejected(ctx context.Context, op string, sessionID session.ID, caller types.Address, err error) {
	e.logger.Warn("settle operation rejected",
		"op", op,
		"session_id", sessionID.String(),
		"error", err,
	)
	if errors.Is(err, ErrReentrantCall) {
		return
	}
	e.plugins.EmitSettlementRejected(ctx, &event.SettlementRejected{
		Op:        op,
		SessionID: sessionID,
		Caller:    caller,
		Reason:    err.Error(),
		Err:       err,
		At:        e.now(),
	})
}

// storeErr marks unexpected store failures as ErrTransactionFailed and
// passes domain errors through.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsConflict(err) || IsRetryable(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrTransactionFailed, op, err)
}

func (e *Engine) startSpan(ctx context.Context, op string, sessionID session.ID, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if !sessionID.IsZero() {
		attrs = append(attrs, attribute.String("settle.session_id", sessionID.String()))
	}
	return e.tracer.Start(ctx, "settle."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
