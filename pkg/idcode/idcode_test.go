package idcode

import (
	"errors"
	"testing"
)

func TestParseIDCode(t *testing.T) {
	id := ParseIDCode(0x20000913)
	if id.Version != 2 || id.PartNumber != 0 || id.ManufacturerCode != 0x489 || !id.HasIDCode {
		t.Fatalf("ParseIDCode = %+v", id)
	}
	m, ok := LookupManufacturer(id.ManufacturerCode)
	if !ok || m.Name != "SiFive" || id.Bank() != 10 {
		t.Fatalf("manufacturer = %+v", m)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		raw uint32
		ok  bool
	}{
		{0x20000913, true},
		{0x00000001, true},
		{0x00000000, false},
		{0xFFFFFFFF, false},
		{0x20000912, false},
		{0x000000FF, false},
	}
	for _, tc := range cases {
		_, err := Validate(tc.raw)
		if tc.ok && err != nil {
			t.Fatalf("Validate(0x%08X) = %v", tc.raw, err)
		}
		if !tc.ok && !errors.Is(err, ErrNoIDCode) {
			t.Fatalf("Validate(0x%08X) err = %v, want ErrNoIDCode", tc.raw, err)
		}
	}
}

func TestUnknownManufacturer(t *testing.T) {
	m, ok := LookupManufacturer(0x123)
	if ok || m.Name != "Unknown (0x123)" {
		t.Fatalf("LookupManufacturer = %+v, %v", m, ok)
	}
	if got := ParseIDCode(0x00000247).String(); got != "0x00000247 (Unknown (0x123), part 0x0000, rev 0)" {
		t.Fatalf("String() = %q", got)
	}
}
