package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/settle/id"
)

var kinds = []struct {
	name    string
	newFn   func() id.ID
	parseFn func(string) (id.ID, error)
	prefix  string
}{
	{"RecordID", id.NewRecordID, id.ParseRecordID, "stl_"},
	{"BatchID", id.NewBatchID, id.ParseBatchID, "stb_"},
	{"WithdrawalID", id.NewWithdrawalID, id.ParseWithdrawalID, "wdr_"},
	{"PaymentID", id.NewPaymentID, id.ParsePaymentID, "pay_"},
}

func TestConstructorsAndRoundTrip(t *testing.T) {
	for _, tt := range kinds {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			if !strings.HasPrefix(original.String(), tt.prefix) {
				t.Fatalf("expected prefix %q, got %q", tt.prefix, original.String())
			}

			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossKindRejection(t *testing.T) {
	if _, err := id.ParseRecordID(id.NewBatchID().String()); err == nil {
		t.Error("ParseRecordID accepted a batch id")
	}
	if _, err := id.ParseBatchID(id.NewWithdrawalID().String()); err == nil {
		t.Error("ParseBatchID accepted a withdrawal id")
	}
	if _, err := id.ParseWithdrawalID(id.NewRecordID().String()); err == nil {
		t.Error("ParseWithdrawalID accepted a record id")
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "stl_", "not an id", "STL_01h2xcejqtf2nbrexx3vqjhp41"} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" || i.Prefix() != "" {
		t.Errorf("expected empty rendering, got %q / %q", i.String(), i.Prefix())
	}

	val, err := i.Value()
	if err != nil || val != nil {
		t.Errorf("Value(nil): got (%v, %v)", val, err)
	}
}

func TestTextAndSQLRoundTrip(t *testing.T) {
	original := id.NewBatchID()

	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}
	var fromText id.ID
	if err := fromText.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if fromText.String() != original.String() {
		t.Errorf("text mismatch: %q != %q", fromText.String(), original.String())
	}

	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	var fromSQL id.ID
	if err := fromSQL.Scan(val); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if fromSQL.String() != original.String() {
		t.Errorf("sql mismatch: %q != %q", fromSQL.String(), original.String())
	}

	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil || !fromNil.IsNil() {
		t.Errorf("Scan(nil): got (%q, %v)", fromNil.String(), err)
	}
	if err := fromNil.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}

func TestUniqueness(t *testing.T) {
	a := id.NewRecordID()
	b := id.NewRecordID()
	if a.String() == b.String() {
		t.Errorf("two consecutive NewRecordID() calls returned the same ID: %q", a.String())
	}
}
