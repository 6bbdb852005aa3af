package settle

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/session"
	"github.com/xraph/settle/settlement"
)

// plan turns approved instructions into the records the executor will
// carry out, numbered in instruction order.
func plan(sessionID session.ID, batchID id.BatchID, instructions []settlement.Instruction, at time.Time) []*settlement.Record {
	records := make([]*settlement.Record, len(instructions))
	for i, in := range instructions {
		records[i] = &settlement.Record{
			ID:        id.NewRecordID(),
			Kind:      settlement.KindSettlement,
			SessionID: sessionID,
			BatchID:   batchID,
			Seq:       i,
			Recipient: in.Recipient,
			Amount:    in.Amount,
			CreatedAt: at,
		}
	}
	return records
}

// execute pushes each record's amount to its recipient, strictly in order.
// The first failure aborts; the enclosing atomic unit undoes earlier
// transfers.
func (e *Engine) execute(ctx context.Context, records []*settlement.Record) error {
	for _, r := range records {
		if err := e.assets.Transfer(ctx, r.Recipient, r.Amount); err != nil {
			return fmt.Errorf("settle: transfer %d of %d to %s: %w", r.Seq+1, len(records), r.Recipient.Short(), err)
		}
	}
	return nil
}
