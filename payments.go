package settle

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/settle/event"
	"github.com/xraph/settle/id"
	"github.com/xraph/settle/session"
	"github.com/xraph/settle/settlement"
	"github.com/xraph/settle/store"
	"github.com/xraph/settle/types"
)

// ──────────────────────────────────────────────────
// Queued payments
// ──────────────────────────────────────────────────

// AddPayment queues a payment on an active session. Nothing moves until
// FinalizePayments settles the queue. The queue obeys the batch rules up
// front: a payment that would exceed the batch size cap or overflow the
// queued total is refused and not stored.
func (e *Engine) AddPayment(ctx context.Context, sessionID session.ID, recipient types.Address, amount types.Amount) (p *session.Payment, err error) {
	ctx, span := e.startSpan(ctx, OpAddPayment, sessionID,
		attribute.String("settle.recipient", recipient.Hex()),
		attribute.String("settle.amount", amount.String()),
	)
	defer func() { endSpan(span, err) }()

	p, queued, total, err := e.addPayment(ctx, sessionID, recipient, amount)
	if err != nil {
		e.rejected(ctx, OpAddPayment, sessionID, types.ZeroAddress, err)
		return nil, err
	}

	e.plugins.EmitPaymentAdded(ctx, &event.PaymentAdded{
		PaymentID: p.ID,
		SessionID: sessionID,
		Seq:       p.Seq,
		Recipient: recipient,
		Amount:    amount,
		Queued:    queued,
		Total:     total,
		At:        p.CreatedAt,
	})
	e.logger.Info("payment queued",
		"session_id", sessionID.String(),
		"payment_id", p.ID.String(),
		"recipient", recipient.Hex(),
		"amount", amount.String(),
		"queued", queued,
	)
	return p, nil
}

func (e *Engine) addPayment(ctx context.Context, sessionID session.ID, recipient types.Address, amount types.Amount) (*session.Payment, int, types.Amount, error) {
	if err := validateInstruction(settlement.Instruction{Recipient: recipient, Amount: amount}); err != nil {
		return nil, 0, 0, err
	}
	if err := e.refuseInFlight(ctx, sessionID); err != nil {
		return nil, 0, 0, err
	}

	lctx, f, leave, err := e.enter(ctx)
	if err != nil {
		return nil, 0, 0, err
	}
	defer leave()

	p := &session.Payment{
		ID:        id.NewPaymentID(),
		SessionID: sessionID,
		Recipient: recipient,
		Amount:    amount,
		CreatedAt: e.now(),
	}
	var total types.Amount
	err = e.transact(lctx, f, func(ctx context.Context, tx store.Store) error {
		settled, err := tx.IsSettled(ctx, sessionID)
		if err != nil {
			return storeErr("check settled flag", err)
		}
		if settled {
			return ErrAlreadySettled
		}
		if err := checkActive(ctx, tx, sessionID); err != nil {
			return err
		}

		queued, err := tx.ListPayments(ctx, sessionID)
		if err != nil {
			return storeErr("list payments", err)
		}
		if e.maxBatchSize > 0 && len(queued) >= e.maxBatchSize {
			return fmt.Errorf("%w: %d payments queued, limit %d", ErrBatchTooLarge, len(queued), e.maxBatchSize)
		}
		for _, q := range queued {
			total, _ = total.CheckedAdd(q.Amount)
		}
		next, ok := total.CheckedAdd(amount)
		if !ok {
			return fmt.Errorf("%w: queued total %s plus %s", ErrBatchOverflow, total, amount)
		}
		total = next

		p.Seq = len(queued)
		return storeErr("add payment", tx.AddPayment(ctx, p))
	})
	if err != nil {
		return nil, 0, 0, err
	}
	return p, p.Seq + 1, total, nil
}

// ListPayments returns the payments queued on sessionID in the order they
// were added. Settled sessions keep their queue as history.
func (e *Engine) ListPayments(ctx context.Context, sessionID session.ID) ([]*session.Payment, error) {
	return e.reader(ctx).ListPayments(ctx, sessionID)
}

// FinalizePayments settles sessionID by paying its queued payments in
// order, exactly as FinalizeSessionBatch would. An empty queue fails with
// ErrEmptyBatch.
func (e *Engine) FinalizePayments(ctx context.Context, sessionID session.ID) (r *settlement.Receipt, err error) {
	ctx, span := e.startSpan(ctx, OpFinalizePayments, sessionID)
	defer func() { endSpan(span, err) }()

	return e.settle(ctx, OpFinalizePayments, sessionID, queuedPayments(sessionID), true)
}

func queuedPayments(sessionID session.ID) instructionSource {
	return func(ctx context.Context, tx store.Store) ([]settlement.Instruction, error) {
		queued, err := tx.ListPayments(ctx, sessionID)
		if err != nil {
			return nil, storeErr("list payments", err)
		}
		instructions := make([]settlement.Instruction, len(queued))
		for i, p := range queued {
			instructions[i] = settlement.Instruction{Recipient: p.Recipient, Amount: p.Amount}
		}
		return instructions, nil
	}
}
