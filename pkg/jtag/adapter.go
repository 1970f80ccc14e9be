package jtag

import (
	"errors"
	"fmt"
)

// AdapterInfo is what a probe reports about itself. Zero frequency bounds
// mean the adapter accepts any positive clock.
type AdapterInfo struct {
	Name         string
	Vendor       string
	Model        string
	SerialNumber string
	Firmware     string
	MinFrequency int // Hz
	MaxFrequency int // Hz
}

func (i AdapterInfo) String() string {
	s := i.Name
	if i.Vendor != "" || i.Model != "" {
		s = i.Vendor + " " + i.Model
	}
	if i.SerialNumber != "" {
		s += " (" + i.SerialNumber + ")"
	}
	return s
}

// CheckSpeed rejects a TCK frequency outside the adapter's range.
func (i AdapterInfo) CheckSpeed(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("jtag: invalid speed %d Hz", hz)
	}
	if (i.MinFrequency > 0 && hz < i.MinFrequency) || (i.MaxFrequency > 0 && hz > i.MaxFrequency) {
		return fmt.Errorf("jtag: frequency %d Hz out of range [%d, %d]", hz, i.MinFrequency, i.MaxFrequency)
	}
	return nil
}

// Adapter drives a Test Access Port.
//
// A shift clocks bits TCK cycles. Bit i of tms and tdi drive cycle i and bit i
// of the returned tdo is the value sampled on that cycle. The IR/DR split is a
// hint for adapters that optimise scans; the TMS pattern alone decides where
// the TAP goes.
type Adapter interface {
	Info() (AdapterInfo, error)
	ShiftIR(tms, tdi []byte, bits int) (tdo []byte, err error)
	ShiftDR(tms, tdi []byte, bits int) (tdo []byte, err error)
	ResetTAP(hard bool) error
	SetSpeed(hz int) error
}

var (
	// ErrNotImplemented: the backend lacks the capability. Callers treat it
	// as a no-op.
	ErrNotImplemented = errors.New("jtag: not implemented")

	// ErrLinkTimeout: the adapter or the target did not answer within its
	// bound. Transient, callers may retry.
	ErrLinkTimeout = errors.New("jtag: link timeout")

	// ErrProtocolViolation: malformed or out-of-sequence exchange. Retrying
	// does not help.
	ErrProtocolViolation = errors.New("jtag: protocol violation")
)

// CheckShift validates a shift request and returns its length in bytes. Nil
// or empty tms and tdi stand for all zeros.
func CheckShift(tms, tdi []byte, bits int) (int, error) {
	if bits <= 0 {
		return 0, fmt.Errorf("jtag: bits must be positive, got %d", bits)
	}
	n := (bits + 7) / 8
	for _, b := range []struct {
		name string
		buf  []byte
	}{{"tms", tms}, {"tdi", tdi}} {
		if len(b.buf) > 0 && len(b.buf) < n {
			return 0, fmt.Errorf("jtag: %s buffer has %d bytes, %d bits need %d", b.name, len(b.buf), bits, n)
		}
	}
	return n, nil
}
