// Package idcode decodes the 32-bit value a TAP shifts out of its IDCODE
// register after reset.
package idcode

import (
	"errors"
	"fmt"
)

// ErrNoIDCode reports a captured value that cannot be a real IDCODE: a TDO
// line stuck at 0 or 1, or a device sitting in BYPASS.
var ErrNoIDCode = errors.New("idcode: no valid IDCODE captured")

// IDCode is a decoded IDCODE. ManufacturerCode is the 11-bit JEP106 field,
// bank in the top four bits.
type IDCode struct {
	Raw              uint32
	Version          uint8
	PartNumber       uint16
	ManufacturerCode uint16
	// HasIDCode is the mandatory bit 0; BYPASS captures a 0 there.
	HasIDCode bool
}

// ParseIDCode splits raw into its fields without judging it.
func ParseIDCode(raw uint32) IDCode {
	return IDCode{
		Raw:              raw,
		Version:          uint8(raw >> 28),
		PartNumber:       uint16(raw >> 12),
		ManufacturerCode: uint16(raw>>1) & 0x7ff,
		HasIDCode:        raw&1 != 0,
	}
}

// Validate rejects values a live TAP never returns from IDCODE.
func Validate(raw uint32) (IDCode, error) {
	id := ParseIDCode(raw)
	switch {
	case raw == 0:
		return id, fmt.Errorf("%w: TDO stuck low", ErrNoIDCode)
	case raw == 0xffffffff:
		return id, fmt.Errorf("%w: TDO stuck high", ErrNoIDCode)
	case !id.HasIDCode:
		return id, fmt.Errorf("%w: bit 0 clear (0x%08X)", ErrNoIDCode, raw)
	case id.ManufacturerCode&0x7f == 0x7f:
		// 0x7F is the JEP106 continuation code, never a manufacturer.
		return id, fmt.Errorf("%w: manufacturer field 0x7F", ErrNoIDCode)
	}
	return id, nil
}

// Bank is the JEP106 bank, counted from 1.
func (id IDCode) Bank() int { return int(id.ManufacturerCode>>7) + 1 }

func (id IDCode) String() string {
	m, _ := LookupManufacturer(id.ManufacturerCode)
	return fmt.Sprintf("0x%08X (%s, part 0x%04X, rev %d)", id.Raw, m.Name, id.PartNumber, id.Version)
}
