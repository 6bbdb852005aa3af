package types

import (
	"strings"
	"testing"
)

func TestAddressChecksum(t *testing.T) {
	vectors := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	}

	for _, want := range vectors {
		a, err := ParseAddress(strings.ToLower(want))
		if err != nil {
			t.Fatalf("parse %s: %v", want, err)
		}
		if got := a.Hex(); got != want {
			t.Errorf("Hex: got %s, want %s", got, want)
		}
	}
}

func TestParseAddressRejects(t *testing.T) {
	bad := []string{
		"",
		"0x",
		"d8dA6BF26964aF9D7eEd9e03E53415D37aA96045",
		"0xd8dA6BF26964aF9D7eEd9e03E53415D37aA9604",
		"0xd8dA6BF26964aF9D7eEd9e03E53415D37aA960455",
		"0xg8dA6BF26964aF9D7eEd9e03E53415D37aA96045",
	}
	for _, s := range bad {
		if IsValidAddress(s) {
			t.Errorf("IsValidAddress(%q) = true", s)
		}
		if _, err := ParseAddress(s); err == nil {
			t.Errorf("ParseAddress(%q): expected error", s)
		}
	}
}

func TestAddressShort(t *testing.T) {
	a := MustParseAddress("0xd8da6bf26964af9d7eed9e03e53415d37aa96045")
	if got := a.Short(); got != "0xd8dA...6045" {
		t.Errorf("Short: got %s", got)
	}
	if got := a.Lower(); got != "0xd8da6bf26964af9d7eed9e03e53415d37aa96045" {
		t.Errorf("Lower: got %s", got)
	}
}

func TestAddressZero(t *testing.T) {
	if !ZeroAddress.IsZero() {
		t.Error("zero address should report IsZero")
	}

	var a Address
	if err := a.UnmarshalText(nil); err != nil || !a.IsZero() {
		t.Errorf("empty text: got (%s, %v)", a, err)
	}
	if err := a.UnmarshalText([]byte("0x0000000000000000000000000000000000000001")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if a.IsZero() {
		t.Error("non-zero address reported IsZero")
	}
}
