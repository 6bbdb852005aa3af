package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// AddressLength is the byte length of an account address.
const AddressLength = 20

// Address identifies an account on the asset ledger (20 bytes, EVM style).
// The zero value is the null identity and is never a valid recipient.
type Address [AddressLength]byte

// ZeroAddress is the null identity.
var ZeroAddress Address

// ParseAddress parses a 0x-prefixed, 40 hex digit address. Case is ignored;
// checksums are not enforced.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimSpace(s)
	if !IsValidAddress(s) {
		return a, fmt.Errorf("address: parse %q: want 0x followed by 40 hex digits", s)
	}
	if _, err := hex.Decode(a[:], []byte(s[2:])); err != nil {
		return a, fmt.Errorf("address: parse %q: %w", s, err)
	}
	return a, nil
}

// MustParseAddress is like ParseAddress but panics on error. Use for constants.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsValidAddress reports whether s has the shape of an address.
func IsValidAddress(s string) bool {
	if len(s) != 2+2*AddressLength || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		if !isHexDigit(c) {
			return false
		}
	}
	return true
}

// IsZero reports whether a is the null identity.
func (a Address) IsZero() bool { return a == ZeroAddress }

// Hex returns the EIP-55 mixed-case checksum encoding.
func (a Address) Hex() string {
	lower := hex.EncodeToString(a[:])
	hash := Keccak256([]byte(lower))

	out := make([]byte, 2, 2+len(lower))
	copy(out, "0x")
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		nibble := hash[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if c >= 'a' && nibble&0x0f >= 8 {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// Lower returns the lowercase 0x-prefixed encoding, used as a storage key.
func (a Address) Lower() string {
	return "0x" + hex.EncodeToString(a[:])
}

// String implements fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// Short abbreviates the address for display, e.g. "0xd8dA...6045".
func (a Address) Short() string {
	h := a.Hex()
	return h[:6] + "..." + h[len(h)-4:]
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input yields
// the zero address.
func (a *Address) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*a = ZeroAddress
		return nil
	}
	parsed, err := ParseAddress(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Keccak256 hashes the concatenation of data with legacy Keccak-256.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d) //nolint:errcheck // hash writes never fail
	}
	return h.Sum(nil)
}

func isHexDigit(c rune) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
