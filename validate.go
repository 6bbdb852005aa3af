package settle

import (
	"fmt"

	"github.com/xraph/settle/settlement"
	"github.com/xraph/settle/types"
)

// ValidateBatch checks every instruction and returns their total. It is
// all-or-nothing: the first invalid instruction rejects the batch and no
// partial total is returned. maxSize <= 0 disables the length cap.
//
// The total is accumulated with checked addition; overflow fails with
// ErrBatchOverflow rather than wrapping.
func ValidateBatch(instructions []settlement.Instruction, maxSize int) (types.Amount, error) {
	if len(instructions) == 0 {
		return 0, ErrEmptyBatch
	}
	if maxSize > 0 && len(instructions) > maxSize {
		return 0, fmt.Errorf("%w: %d instructions, limit %d", ErrBatchTooLarge, len(instructions), maxSize)
	}

	var total types.Amount
	for i, in := range instructions {
		if err := validateInstruction(in); err != nil {
			return 0, &InstructionError{Index: i, Err: err}
		}
		next, ok := total.CheckedAdd(in.Amount)
		if !ok {
			return 0, &InstructionError{Index: i, Err: ErrBatchOverflow}
		}
		total = next
	}
	return total, nil
}

func validateInstruction(in settlement.Instruction) error {
	if in.Recipient.IsZero() {
		return ErrInvalidRecipient
	}
	if in.Amount.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}
