package jtag

import (
	"errors"
	"testing"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/tap"
)

type mapDMI struct {
	regs map[uint32]uint32
	fail uint32
}

func (m *mapDMI) ReadDMI(addr uint32) (uint32, error) {
	if addr == m.fail {
		return 0, errors.New("bad register")
	}
	return m.regs[addr], nil
}

func (m *mapDMI) WriteDMI(addr uint32, value uint32) error {
	if addr == m.fail {
		return errors.New("bad register")
	}
	m.regs[addr] = value
	return nil
}

type scanner struct {
	t       *testing.T
	adapter Adapter
}

func (s scanner) reset() {
	s.t.Helper()
	if err := s.adapter.ResetTAP(false); err != nil {
		s.t.Fatalf("ResetTAP: %v", err)
	}
	s.idle(1)
}

func (s scanner) idle(n int) {
	s.t.Helper()
	if _, err := s.adapter.ShiftDR(make([]byte, (n+7)/8), nil, n); err != nil {
		s.t.Fatalf("idle: %v", err)
	}
}

func (s scanner) scan(ir bool, value uint64, width int) uint64 {
	s.t.Helper()
	tms, start := tap.ScanPattern(ir, width)
	tdi := make([]bool, len(tms))
	copy(tdi[start:], Uint64ToBits(value, width))

	shift := s.adapter.ShiftDR
	if ir {
		shift = s.adapter.ShiftIR
	}
	tdo, err := shift(PackBits(tms), PackBits(tdi), len(tms))
	if err != nil {
		s.t.Fatalf("scan: %v", err)
	}
	return BitsToUint64(UnpackBits(tdo, len(tms))[start : start+width])
}

func TestDTMSimulatorIDCodeAfterReset(t *testing.T) {
	sim := NewDTMSimulator(DTMConfig{IDCode: 0x20000913})
	s := scanner{t, sim.Adapter()}
	s.reset()

	if got := s.scan(false, 0, 32); got != 0x20000913 {
		t.Fatalf("IDCODE = 0x%08X", got)
	}
	if sim.State() != tap.StateRunTestIdle {
		t.Fatalf("state = %s", sim.State())
	}

	if got := s.scan(true, IRBYPASS, RISCVIRLength); got != 0x01 {
		t.Fatalf("IR capture = 0x%X, want 0x01", got)
	}
	if got := s.scan(false, 0x5, 3); got != 0x2 {
		t.Fatalf("BYPASS scan = 0x%X, want 0x5 delayed by one bit", got)
	}
}

func TestDTMSimulatorDTMCS(t *testing.T) {
	sim := NewDTMSimulator(DTMConfig{IDCode: 1, IdleCycles: 3})
	s := scanner{t, sim.Adapter()}
	s.reset()
	s.scan(true, IRDTMCS, RISCVIRLength)

	dtmcs := s.scan(false, 0, 32)
	if dtmcs&DTMCSVersionMask != DTMCSVersion013 {
		t.Fatalf("version = %d", dtmcs&DTMCSVersionMask)
	}
	if abits := (dtmcs >> DTMCSABitsShift) & DTMCSABitsMask; abits != DefaultDMIAddrBits {
		t.Fatalf("abits = %d", abits)
	}
	if idle := (dtmcs >> DTMCSIdleShift) & DTMCSIdleMask; idle != 3 {
		t.Fatalf("idle hint = %d", idle)
	}
}

func TestDTMSimulatorDMIReadWrite(t *testing.T) {
	target := &mapDMI{regs: map[uint32]uint32{0x11: 0x00000382}}
	sim := NewDTMSimulator(DTMConfig{IDCode: 1, Target: target})
	s := scanner{t, sim.Adapter()}
	width := DMIWidth(DefaultDMIAddrBits)
	s.reset()
	s.scan(true, IRDMI, RISCVIRLength)

	s.scan(false, EncodeDMI(0x04, 0xCAFEF00D, DMIOpWrite), width)
	s.scan(false, EncodeDMI(0x11, 0, DMIOpRead), width)
	_, data, op := DecodeDMI(s.scan(false, EncodeDMI(0, 0, DMIOpNop), width), DefaultDMIAddrBits)

	if op != DMIStatusSuccess || data != 0x382 {
		t.Fatalf("read back data=0x%X op=%d", data, op)
	}
	if target.regs[0x04] != 0xCAFEF00D {
		t.Fatalf("write not forwarded: %x", target.regs)
	}
	if sim.Ops() != 2 {
		t.Fatalf("Ops() = %d, want 2", sim.Ops())
	}
}

func TestDTMSimulatorBusyIsStickyUntilReset(t *testing.T) {
	target := &mapDMI{regs: map[uint32]uint32{0x11: 7}}
	sim := NewDTMSimulator(DTMConfig{IDCode: 1, IdleCycles: 4, Target: target})
	s := scanner{t, sim.Adapter()}
	width := DMIWidth(DefaultDMIAddrBits)
	s.reset()
	s.scan(true, IRDMI, RISCVIRLength)

	s.scan(false, EncodeDMI(0x11, 0, DMIOpRead), width)
	// No idle cycles: the access is still in flight.
	_, _, op := DecodeDMI(s.scan(false, EncodeDMI(0x11, 0, DMIOpRead), width), DefaultDMIAddrBits)
	if op != DMIStatusBusy {
		t.Fatalf("op = %d, want busy", op)
	}

	s.idle(10)
	_, _, op = DecodeDMI(s.scan(false, EncodeDMI(0, 0, DMIOpNop), width), DefaultDMIAddrBits)
	if op != DMIStatusBusy {
		t.Fatalf("busy must stay sticky, got %d", op)
	}

	s.scan(true, IRDTMCS, RISCVIRLength)
	if stat := (s.scan(false, DTMCSDMIReset, 32) >> DTMCSDMIStatShift) & DTMCSDMIStatMask; stat != DMIStatusBusy {
		t.Fatalf("dmistat before reset = %d", stat)
	}
	if stat := (s.scan(false, 0, 32) >> DTMCSDMIStatShift) & DTMCSDMIStatMask; stat != 0 {
		t.Fatalf("dmistat after dmireset = %d", stat)
	}

	s.scan(true, IRDMI, RISCVIRLength)
	s.scan(false, EncodeDMI(0x11, 0, DMIOpRead), width)
	s.idle(4)
	_, data, op := DecodeDMI(s.scan(false, EncodeDMI(0, 0, DMIOpNop), width), DefaultDMIAddrBits)
	if op != DMIStatusSuccess || data != 7 {
		t.Fatalf("after idling: data=%d op=%d", data, op)
	}
}

func TestDTMSimulatorFailedAccess(t *testing.T) {
	target := &mapDMI{regs: map[uint32]uint32{}, fail: 0x20}
	sim := NewDTMSimulator(DTMConfig{IDCode: 1, Target: target})
	s := scanner{t, sim.Adapter()}
	width := DMIWidth(DefaultDMIAddrBits)
	s.reset()
	s.scan(true, IRDMI, RISCVIRLength)

	s.scan(false, EncodeDMI(0x20, 0, DMIOpRead), width)
	_, _, op := DecodeDMI(s.scan(false, EncodeDMI(0x04, 1, DMIOpWrite), width), DefaultDMIAddrBits)
	if op != DMIStatusFailed {
		t.Fatalf("op = %d, want failed", op)
	}
	if _, ok := target.regs[0x04]; ok {
		t.Fatalf("write after a failure must be ignored")
	}
}

func TestDTMSimulatorFaultInjection(t *testing.T) {
	sim := NewDTMSimulator(DTMConfig{IDCode: 1})
	sim.Adapter().InjectFault(ErrLinkTimeout, 1)

	if _, err := sim.Adapter().ShiftDR(nil, nil, 8); !errors.Is(err, ErrLinkTimeout) {
		t.Fatalf("err = %v, want ErrLinkTimeout", err)
	}
	if sim.State() != tap.StateTestLogicReset {
		t.Fatalf("failed shift must not clock the TAP, state = %s", sim.State())
	}
}
