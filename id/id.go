// Package id defines the TypeID-based identifiers Settle mints for the
// records it writes: settlement records, batches, pending payments and
// emergency withdrawals.
//
// Session identifiers are not TypeIDs; they are opaque 32-byte values chosen
// by the caller (see package session).
//
// IDs render as "prefix_suffix", sort by creation time (UUIDv7) and are safe
// to use in URLs.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the kind of record an ID belongs to.
type Prefix string

const (
	PrefixRecord     Prefix = "stl" // one executed transfer
	PrefixBatch      Prefix = "stb" // one finalize call
	PrefixWithdrawal Prefix = "wdr" // emergency withdrawal
	PrefixPayment    Prefix = "pay" // payment queued on a session
)

// ID wraps a TypeID. The zero value is Nil.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New mints an ID with the given prefix. An invalid prefix is a programming
// error and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse parses any "prefix_suffix" string.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and requires the given prefix.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

// RecordID identifies a settlement record (prefix "stl").
type RecordID = ID

// BatchID identifies one finalize call (prefix "stb").
type BatchID = ID

// WithdrawalID identifies an emergency withdrawal (prefix "wdr").
type WithdrawalID = ID

// PaymentID identifies a payment queued on a session (prefix "pay").
type PaymentID = ID

func NewRecordID() ID     { return New(PrefixRecord) }
func NewBatchID() ID      { return New(PrefixBatch) }
func NewWithdrawalID() ID { return New(PrefixWithdrawal) }
func NewPaymentID() ID    { return New(PrefixPayment) }

func ParseRecordID(s string) (ID, error)     { return ParseWithPrefix(s, PrefixRecord) }
func ParseBatchID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixBatch) }
func ParseWithdrawalID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWithdrawal) }
func ParsePaymentID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixPayment) }

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the prefix component, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether i is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer; Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
