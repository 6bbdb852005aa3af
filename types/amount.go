// Package types provides the value types shared across Settle.
package types

import (
	"encoding/json"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// DefaultDecimals is the precision of the pooled asset (USDC style, 6 places).
const DefaultDecimals = 6

// Amount is a quantity of the pooled asset in its smallest unit.
// Arithmetic is unsigned and integer-only. Overflow is never silent:
// use CheckedAdd and CheckedSub.
//
// Examples:
//   - Amount(40_000000) = 40 tokens at 6 decimals
//   - Amount(1) = the smallest transferable unit
type Amount uint64

// MaxAmount is the largest representable Amount.
const MaxAmount = Amount(math.MaxUint64)

// ParseAmount parses a base-unit decimal integer such as "40000000".
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("amount: parse %q: empty string", s)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount: parse %q: %w", s, err)
	}
	return Amount(v), nil
}

// Arithmetic

// CheckedAdd returns a+b and reports false when the sum overflows.
func (a Amount) CheckedAdd(b Amount) (Amount, bool) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		return 0, false
	}
	return Amount(sum), true
}

// CheckedSub returns a-b and reports false when b is larger than a.
func (a Amount) CheckedSub(b Amount) (Amount, bool) {
	diff, borrow := bits.Sub64(uint64(a), uint64(b), 0)
	if borrow != 0 {
		return 0, false
	}
	return Amount(diff), true
}

// Sum adds values with overflow detection.
func Sum(values ...Amount) (Amount, bool) {
	var total Amount
	for _, v := range values {
		var ok bool
		if total, ok = total.CheckedAdd(v); !ok {
			return 0, false
		}
	}
	return total, true
}

// Comparison

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a == 0 }

// LessThan reports whether a < other.
func (a Amount) LessThan(other Amount) bool { return a < other }

// Uint64 returns the raw base-unit value.
func (a Amount) Uint64() uint64 { return uint64(a) }

// Formatting

// String returns the base-unit value as a decimal integer.
func (a Amount) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

// FormatMajor renders the amount in major units with the given precision.
// FormatMajor(6) of 40_500000 is "40.500000".
func (a Amount) FormatMajor(decimals int) string {
	if decimals <= 0 {
		return a.String()
	}

	digits := a.String()
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	cut := len(digits) - decimals
	return digits[:cut] + "." + digits[cut:]
}

// MarshalJSON encodes the amount as a base-unit string so that values above
// 2^53 survive JavaScript clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a base-unit string or a JSON number. A JSON
// null leaves the amount unchanged, so a missing amount reaches validation
// as zero.
func (a *Amount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
