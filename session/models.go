// Package session defines the session records kept by the Session Registry.
//
// A session is an off-chain interaction window awaiting a single on-ledger
// payment. It is created once, flips from active to inactive exactly once
// (at its first successful settlement) and is never deleted.
package session

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/types"
)

// IDLength is the byte length of a session identifier.
const IDLength = 32

// ID is an opaque 32-byte session identifier chosen by the caller.
type ID [IDLength]byte

// ParseID accepts either a 0x-prefixed 64 hex digit string or a short label
// of at most 32 bytes. Labels are right-padded with zero bytes, so "S1" and
// the hex form of its padded bytes name the same session.
func ParseID(s string) (ID, error) {
	var sid ID
	if s == "" {
		return sid, fmt.Errorf("session: parse id: empty string")
	}
	if strings.HasPrefix(s, "0x") && len(s) == 2+2*IDLength {
		if _, err := hex.Decode(sid[:], []byte(s[2:])); err != nil {
			return sid, fmt.Errorf("session: parse id %q: %w", s, err)
		}
		return sid, nil
	}
	if len(s) > IDLength {
		return sid, fmt.Errorf("session: parse id %q: labels are limited to %d bytes, use HashID", s, IDLength)
	}
	copy(sid[:], s)
	return sid, nil
}

// MustParseID is like ParseID but panics on error.
func MustParseID(s string) ID {
	sid, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return sid
}

// HashID derives an identifier of any length label with Keccak-256.
func HashID(label string) ID {
	var sid ID
	copy(sid[:], types.Keccak256([]byte(label)))
	return sid
}

// IsZero reports whether sid is all zero bytes.
func (sid ID) IsZero() bool { return sid == ID{} }

// Hex returns the canonical 0x-prefixed lowercase encoding.
func (sid ID) Hex() string { return "0x" + hex.EncodeToString(sid[:]) }

// String implements fmt.Stringer.
func (sid ID) String() string { return sid.Hex() }

// Label returns the id as text when it was built from a printable label,
// or "" otherwise.
func (sid ID) Label() string {
	n := IDLength
	for n > 0 && sid[n-1] == 0 {
		n--
	}
	if n == 0 {
		return ""
	}
	for _, b := range sid[:n] {
		if b < 0x20 || b > 0x7e {
			return ""
		}
	}
	return string(sid[:n])
}

// MarshalText implements encoding.TextMarshaler.
func (sid ID) MarshalText() ([]byte, error) { return []byte(sid.Hex()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (sid *ID) UnmarshalText(data []byte) error {
	parsed, err := ParseID(string(data))
	if err != nil {
		return err
	}
	*sid = parsed
	return nil
}

// Status is the lifecycle state reported for a session.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusActive  Status = "active"
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
)

// Session is the metadata kept for one session id.
type Session struct {
	types.Entity
	ID     ID            `json:"id"`
	User   types.Address `json:"user"`
	Active bool          `json:"active"`
}

// Exists distinguishes a stored session from the zero value returned for
// unknown ids.
func (s Session) Exists() bool {
	return !s.User.IsZero() || !s.CreatedAt.IsZero()
}

// Status derives the lifecycle state. Active only ever flips at settlement,
// so an existing inactive session is settled.
func (s Session) Status() Status {
	switch {
	case !s.Exists():
		return StatusUnknown
	case s.Active:
		return StatusActive
	default:
		return StatusSettled
	}
}

// StatusWithPayments is Status, except that an active session holding
// queued payments reports StatusPending.
func (s Session) StatusWithPayments(queued int) Status {
	st := s.Status()
	if st == StatusActive && queued > 0 {
		return StatusPending
	}
	return st
}

// Payment is an amount queued on an active session. Queued payments are paid
// out, in Seq order, when the session's payments are finalized.
type Payment struct {
	ID        id.PaymentID  `json:"id"`
	SessionID ID            `json:"session_id"`
	Seq       int           `json:"seq"`
	Recipient types.Address `json:"recipient"`
	Amount    types.Amount  `json:"amount"`
	CreatedAt time.Time     `json:"created_at"`
}

// ListOpts filters session listings.
type ListOpts struct {
	User   types.Address
	Active *bool
	Limit  int
	Offset int
}
