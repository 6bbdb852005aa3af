package session

import (
	"strings"
	"testing"
	"time"

	"github.com/xraph/settle/types"
)

func TestParseIDLabel(t *testing.T) {
	sid, err := ParseID("S1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sid[0] != 'S' || sid[1] != '1' || sid[2] != 0 {
		t.Errorf("label not right-padded: %x", sid[:4])
	}
	if sid.Label() != "S1" {
		t.Errorf("Label: got %q", sid.Label())
	}

	fromHex, err := ParseID(sid.Hex())
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if fromHex != sid {
		t.Error("hex and label forms should name the same session")
	}
}

func TestParseIDRejects(t *testing.T) {
	if _, err := ParseID(""); err == nil {
		t.Error("empty id should fail")
	}
	if _, err := ParseID(strings.Repeat("x", IDLength+1)); err == nil {
		t.Error("oversized label should fail")
	}
	if _, err := ParseID("0x" + strings.Repeat("zz", IDLength)); err == nil {
		t.Error("invalid hex should fail")
	}
}

func TestHashID(t *testing.T) {
	a := HashID("session with a rather long human readable label")
	b := HashID("session with a rather long human readable label")
	if a != b || a.IsZero() {
		t.Error("HashID should be deterministic and non-zero")
	}
	if a == HashID("another label") {
		t.Error("distinct labels should hash apart")
	}
}

func TestSessionStatus(t *testing.T) {
	var unknown Session
	if unknown.Exists() || unknown.Status() != StatusUnknown {
		t.Errorf("zero session: exists=%v status=%s", unknown.Exists(), unknown.Status())
	}

	s := Session{
		Entity: types.NewEntity(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		ID:     MustParseID("S1"),
		User:   types.MustParseAddress("0x00000000000000000000000000000000000000aa"),
		Active: true,
	}
	if s.Status() != StatusActive {
		t.Errorf("got %s, want active", s.Status())
	}
	if got := s.StatusWithPayments(2); got != StatusPending {
		t.Errorf("with queued payments: got %s, want pending", got)
	}
	s.Active = false
	if s.Status() != StatusSettled {
		t.Errorf("got %s, want settled", s.Status())
	}
	if got := s.StatusWithPayments(2); got != StatusSettled {
		t.Errorf("settled with payments: got %s, want settled", got)
	}
}
