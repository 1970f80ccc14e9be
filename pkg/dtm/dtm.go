// Package dtm drives a RISC-V debug transport module over a JTAG adapter:
// instruction selection, DTMCS and DMI scans, busy backoff and sticky error
// recovery.
package dtm

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/jtag"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/tap"
)

const (
	// DefaultMaxBusyRetries bounds how often one DMI access is reissued after
	// a busy response before it is reported as a link timeout.
	DefaultMaxBusyRetries = 8
	maxIdleCycles         = 64
)

// Config tunes the driver.
type Config struct {
	// IdleCycles is the Run-Test/Idle padding after each DMI scan. The driver
	// raises it when the target reports busy or advertises a larger hint.
	IdleCycles     int
	MaxBusyRetries int
}

// DTMCS is the decoded DTM control and status register.
type DTMCS struct {
	Raw     uint32
	Version uint8
	ABits   int
	DMIStat uint8
	Idle    int
}

func decodeDTMCS(raw uint32) DTMCS {
	return DTMCS{
		Raw:     raw,
		Version: uint8(raw & jtag.DTMCSVersionMask),
		ABits:   int((raw >> jtag.DTMCSABitsShift) & jtag.DTMCSABitsMask),
		DMIStat: uint8((raw >> jtag.DTMCSDMIStatShift) & jtag.DTMCSDMIStatMask),
		Idle:    int((raw >> jtag.DTMCSIdleShift) & jtag.DTMCSIdleMask),
	}
}

// Stats counts link activity.
type Stats struct {
	Scans       int
	BusyRetries int
	DMIResets   int
}

// Driver owns the TAP of a single-TAP RISC-V target. It is not safe for
// concurrent use; the debug session serialises access.
type Driver struct {
	adapter jtag.Adapter
	tap     *tap.StateMachine

	synced  bool
	ir      uint8
	irValid bool
	abits   int
	idle    int
	maxBusy int
	stats   Stats
}

// New creates a driver. Call Reset before anything else.
func New(adapter jtag.Adapter, cfg Config) *Driver {
	if cfg.MaxBusyRetries <= 0 {
		cfg.MaxBusyRetries = DefaultMaxBusyRetries
	}
	return &Driver{
		adapter: adapter,
		tap:     tap.NewStateMachine(),
		abits:   jtag.DefaultDMIAddrBits,
		idle:    cfg.IdleCycles,
		maxBusy: cfg.MaxBusyRetries,
	}
}

// ABits reports the DMI address width learned from DTMCS.
func (d *Driver) ABits() int { return d.abits }

// IdleCycles reports the current Run-Test/Idle padding.
func (d *Driver) IdleCycles() int { return d.idle }

// Stats returns a snapshot of the link counters.
func (d *Driver) Stats() Stats { return d.stats }

// Reset puts the TAP into Run-Test/Idle through Test-Logic-Reset. With hard
// set the adapter also pulses its reset line when it has one.
func (d *Driver) Reset(hard bool) error {
	if err := d.adapter.ResetTAP(hard); err != nil && errors.Cause(err) != jtag.ErrNotImplemented {
		return errors.Annotatef(err, "tap reset")
	}
	if err := d.resync(); err != nil {
		return errors.Annotatef(err, "tap reset sequence")
	}
	glog.V(1).Infof("dtm: TAP reset (hard=%v)", hard)
	return nil
}

// resync clocks the TAP through Test-Logic-Reset into Run-Test/Idle. That
// also resets the DTM, so the selected instruction is forgotten.
func (d *Driver) resync() error {
	sm := tap.NewStateMachine()
	tms := append(sm.Reset().TMS, false)
	if _, err := d.adapter.ShiftDR(jtag.PackBits(tms), nil, len(tms)); err != nil {
		d.synced = false
		return errors.Trace(err)
	}
	sm.Clock(false)
	d.tap = sm
	d.irValid = false
	d.synced = true
	return nil
}

// scan runs one complete IR or DR scan from Run-Test/Idle back to it,
// followed by idle clocks, and returns the captured value.
func (d *Driver) scan(ir bool, value uint64, width, idle int) (uint64, error) {
	if !d.synced || d.tap.State() != tap.StateRunTestIdle {
		if err := d.resync(); err != nil {
			return 0, errors.Trace(err)
		}
	}
	tms, start := tap.ScanPattern(ir, width)
	tms = append(tms, make([]bool, idle)...)
	tdi := make([]bool, len(tms))
	copy(tdi[start:], jtag.Uint64ToBits(value, width))

	shift := d.adapter.ShiftDR
	if ir {
		shift = d.adapter.ShiftIR
	}
	tdo, err := shift(jtag.PackBits(tms), jtag.PackBits(tdi), len(tms))
	d.stats.Scans++
	if err != nil {
		// The TAP state is unknown after a failed shift.
		d.synced = false
		d.irValid = false
		return 0, errors.Trace(err)
	}
	d.tap.ClockAll(tms)
	if len(tdo)*8 < len(tms) {
		return 0, errors.Annotatef(jtag.ErrProtocolViolation, "adapter returned %d TDO bytes for %d bits", len(tdo), len(tms))
	}
	return jtag.BitsToUint64(jtag.UnpackBits(tdo, len(tms))[start : start+width]), nil
}

func (d *Driver) selectIR(ir uint8) error {
	if d.irValid && d.ir == ir {
		return nil
	}
	captured, err := d.scan(true, uint64(ir), jtag.RISCVIRLength, 0)
	if err != nil {
		return errors.Trace(err)
	}
	// IEEE 1149.1 requires the IR to capture ...01.
	if captured&0x3 != 0x1 {
		return errors.Annotatef(jtag.ErrLinkTimeout, "IR capture 0x%02x, TDO not driven", captured)
	}
	d.ir, d.irValid = ir, true
	return nil
}

// ReadIDCODE selects IDCODE and captures it.
func (d *Driver) ReadIDCODE() (uint32, error) {
	if err := d.selectIR(jtag.IRIDCODE); err != nil {
		return 0, errors.Trace(err)
	}
	v, err := d.scan(false, 0, 32, 0)
	if err != nil {
		return 0, errors.Trace(err)
	}
	glog.V(2).Infof("dtm: IDCODE 0x%08x", v)
	return uint32(v), nil
}

// ReadDTMCS reads DTMCS and adopts its address width and idle hint.
func (d *Driver) ReadDTMCS() (DTMCS, error) {
	raw, err := d.accessDTMCS(0)
	if err != nil {
		return DTMCS{}, errors.Trace(err)
	}
	cs := decodeDTMCS(raw)
	if cs.ABits > 0 && jtag.DMIWidth(cs.ABits) <= 64 {
		d.abits = cs.ABits
	}
	if cs.Idle > d.idle {
		d.idle = cs.Idle
	}
	glog.V(2).Infof("dtm: dtmcs 0x%08x version=%d abits=%d idle=%d", raw, cs.Version, cs.ABits, cs.Idle)
	return cs, nil
}

// DMIReset clears a sticky DMI error or busy condition.
func (d *Driver) DMIReset() error {
	d.stats.DMIResets++
	_, err := d.accessDTMCS(jtag.DTMCSDMIReset)
	return errors.Trace(err)
}

// DMIHardReset also abandons an access in flight.
func (d *Driver) DMIHardReset() error {
	d.stats.DMIResets++
	_, err := d.accessDTMCS(jtag.DTMCSDMIHardReset)
	return errors.Trace(err)
}

func (d *Driver) accessDTMCS(write uint32) (uint32, error) {
	if err := d.selectIR(jtag.IRDTMCS); err != nil {
		return 0, errors.Trace(err)
	}
	v, err := d.scan(false, uint64(write), 32, 0)
	return uint32(v), errors.Trace(err)
}

// ReadDMI reads one debug module register.
func (d *Driver) ReadDMI(ctx context.Context, addr uint32) (uint32, error) {
	v, err := d.dmi(ctx, jtag.DMIOpRead, addr, 0)
	glog.V(4).Infof("dmi[0x%02x] == 0x%08x", addr, v)
	return v, err
}

// WriteDMI writes one debug module register.
func (d *Driver) WriteDMI(ctx context.Context, addr uint32, value uint32) error {
	glog.V(4).Infof("dmi[0x%02x] = 0x%08x", addr, value)
	_, err := d.dmi(ctx, jtag.DMIOpWrite, addr, value)
	return err
}

// dmi issues a request scan and collects its result with a nop scan. Busy
// responses clear the sticky status, grow the idle padding and reissue the
// request; a failed operation is a protocol violation.
func (d *Driver) dmi(ctx context.Context, op uint8, addr, data uint32) (uint32, error) {
	if addr >= 1<<uint(d.abits) {
		return 0, errors.Annotatef(jtag.ErrProtocolViolation, "dmi address 0x%x exceeds %d bits", addr, d.abits)
	}
	width := jtag.DMIWidth(d.abits)

	for attempt := 0; attempt <= d.maxBusy; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, errors.Trace(err)
		}
		if err := d.selectIR(jtag.IRDMI); err != nil {
			return 0, errors.Trace(err)
		}

		captured, err := d.scan(false, jtag.EncodeDMI(addr, data, op), width, d.idle)
		if err != nil {
			return 0, errors.Trace(err)
		}
		if _, _, status := jtag.DecodeDMI(captured, d.abits); status == jtag.DMIStatusBusy {
			if err := d.backoff(); err != nil {
				return 0, errors.Trace(err)
			}
			continue
		}

		captured, err = d.scan(false, jtag.EncodeDMI(0, 0, jtag.DMIOpNop), width, d.idle)
		if err != nil {
			return 0, errors.Trace(err)
		}
		_, value, status := jtag.DecodeDMI(captured, d.abits)
		switch status {
		case jtag.DMIStatusSuccess:
			return value, nil
		case jtag.DMIStatusBusy:
			if err := d.backoff(); err != nil {
				return 0, errors.Trace(err)
			}
		default:
			if err := d.DMIReset(); err != nil {
				return 0, errors.Trace(err)
			}
			return 0, errors.Annotatef(jtag.ErrProtocolViolation, "dmi op %d at 0x%02x failed (status %d)", op, addr, status)
		}
	}
	return 0, errors.Annotatef(jtag.ErrLinkTimeout, "dmi 0x%02x still busy after %d retries", addr, d.maxBusy)
}

func (d *Driver) backoff() error {
	d.stats.BusyRetries++
	if d.idle < maxIdleCycles {
		d.idle++
	}
	glog.V(2).Infof("dtm: dmi busy, idle cycles now %d", d.idle)
	return d.DMIReset()
}

// String describes the register for logs.
func (cs DTMCS) String() string {
	return fmt.Sprintf("dtmcs{version=%d abits=%d dmistat=%d idle=%d}", cs.Version, cs.ABits, cs.DMIStat, cs.Idle)
}
