package jtag

import (
	"sync"

	"github.com/golang/glog"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/tap"
)

// DMI is a debug module interface target: the registers a RISC-V debug
// module exposes behind the DTM.
type DMI interface {
	ReadDMI(addr uint32) (uint32, error)
	WriteDMI(addr uint32, value uint32) error
}

// DTMConfig parameterises the simulated transport module.
type DTMConfig struct {
	IDCode uint32
	// ABits is the DMI address width. Zero selects DefaultDMIAddrBits.
	ABits int
	// IdleCycles is how many Run-Test/Idle clocks a DMI access needs before
	// its result can be captured. Capturing earlier reports busy.
	IdleCycles int
	Target     DMI
}

// DTMSimulator emulates a single-TAP RISC-V debug transport module at the bit
// level. Every TCK edge walks the IEEE 1149.1 state machine, so the host side
// has to produce correct TMS patterns to get anything useful back. All traffic
// is serialised through one lock.
type DTMSimulator struct {
	cfg     DTMConfig
	adapter *SimAdapter

	mu      sync.Mutex
	state   tap.State
	ir      uint8
	irShift uint8
	dr      uint64
	drLen   int

	sticky      uint8
	pendingIdle int
	lastAddr    uint32
	lastData    uint32
	ops         int
}

// NewDTMSimulator returns a simulator in Test-Logic-Reset.
func NewDTMSimulator(cfg DTMConfig) *DTMSimulator {
	if cfg.ABits <= 0 {
		cfg.ABits = DefaultDMIAddrBits
	}
	d := &DTMSimulator{cfg: cfg}
	d.resetLocked()

	d.adapter = NewSimAdapter(AdapterInfo{
		Name:         "RISC-V DTM simulator",
		Vendor:       "OpenTraceLab",
		Model:        "dtm-sim",
		MinFrequency: 1,
		MaxFrequency: 100_000_000,
	})
	d.adapter.OnShift = d.handleShift
	d.adapter.OnReset = d.handleReset
	return d
}

// Adapter returns the underlying SimAdapter for use with JTAG operations. Its
// fault injection applies before the DTM sees a shift.
func (d *DTMSimulator) Adapter() *SimAdapter {
	return d.adapter
}

// State reports the simulated TAP state.
func (d *DTMSimulator) State() tap.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Ops counts DMI accesses forwarded to the target.
func (d *DTMSimulator) Ops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ops
}

func (d *DTMSimulator) handleReset(bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = tap.StateTestLogicReset
	d.resetLocked()
	return nil
}

func (d *DTMSimulator) handleShift(_ ShiftRegion, tms, tdi []byte, bits int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tdo := make([]byte, (bits+7)/8)
	for i := 0; i < bits; i++ {
		if d.clock(bitAt(tms, i), bitAt(tdi, i)) {
			tdo[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return tdo, nil
}

func bitAt(buf []byte, i int) bool {
	if i/8 >= len(buf) {
		return false
	}
	return buf[i/8]&(1<<(uint(i)%8)) != 0
}

// clock applies one TCK edge and returns TDO for that cycle.
func (d *DTMSimulator) clock(tms, tdi bool) bool {
	var tdo bool

	switch d.state {
	case tap.StateTestLogicReset:
		d.resetLocked()
	case tap.StateRunTestIdle:
		if d.pendingIdle > 0 {
			d.pendingIdle--
		}
	case tap.StateCaptureIR:
		d.irShift = 0x01
	case tap.StateShiftIR:
		tdo = d.irShift&1 != 0
		d.irShift >>= 1
		if tdi {
			d.irShift |= 1 << (RISCVIRLength - 1)
		}
	case tap.StateCaptureDR:
		d.captureDR()
	case tap.StateShiftDR:
		tdo = d.dr&1 != 0
		d.dr >>= 1
		if tdi {
			d.dr |= 1 << uint(d.drLen-1)
		}
	}

	d.state = tap.NextState(d.state, tms)

	switch d.state {
	case tap.StateUpdateIR:
		d.ir = d.irShift & (1<<RISCVIRLength - 1)
	case tap.StateUpdateDR:
		d.updateDR()
	}
	return tdo
}

func (d *DTMSimulator) resetLocked() {
	d.ir = IRIDCODE
	d.sticky = DMIStatusSuccess
	d.pendingIdle = 0
}

func (d *DTMSimulator) idleHint() uint64 {
	if d.cfg.IdleCycles > DTMCSIdleMask {
		return DTMCSIdleMask
	}
	return uint64(d.cfg.IdleCycles)
}

func (d *DTMSimulator) captureDR() {
	switch d.ir {
	case IRIDCODE:
		d.dr, d.drLen = uint64(d.cfg.IDCode), 32
	case IRDTMCS:
		d.dr = DTMCSVersion013 |
			uint64(d.cfg.ABits)<<DTMCSABitsShift |
			uint64(d.sticky)<<DTMCSDMIStatShift |
			d.idleHint()<<DTMCSIdleShift
		d.drLen = 32
	case IRDMI:
		d.drLen = DMIWidth(d.cfg.ABits)
		status := d.sticky
		if d.pendingIdle > 0 {
			d.sticky = DMIStatusBusy
			status = DMIStatusBusy
		}
		d.dr = EncodeDMI(d.lastAddr, d.lastData, status)
	default:
		d.dr, d.drLen = 0, 1
	}
}

func (d *DTMSimulator) updateDR() {
	switch d.ir {
	case IRDTMCS:
		if d.dr&DTMCSDMIHardReset != 0 {
			d.sticky = DMIStatusSuccess
			d.pendingIdle = 0
		} else if d.dr&DTMCSDMIReset != 0 {
			d.sticky = DMIStatusSuccess
		}
	case IRDMI:
		addr, data, op := DecodeDMI(d.dr, d.cfg.ABits)
		if op == DMIOpNop || d.sticky != DMIStatusSuccess {
			return
		}
		if d.pendingIdle > 0 {
			d.sticky = DMIStatusBusy
			return
		}
		d.access(addr, data, op)
	}
}

func (d *DTMSimulator) access(addr, data uint32, op uint8) {
	d.ops++
	d.lastAddr = addr
	d.pendingIdle = d.cfg.IdleCycles

	if d.cfg.Target == nil {
		d.sticky = DMIStatusFailed
		return
	}

	var err error
	switch op {
	case DMIOpRead:
		data, err = d.cfg.Target.ReadDMI(addr)
	case DMIOpWrite:
		err = d.cfg.Target.WriteDMI(addr, data)
	default:
		d.sticky = DMIStatusFailed
		return
	}
	if err != nil {
		glog.V(2).Infof("dtm-sim: dmi op %d addr 0x%02x failed: %v", op, addr, err)
		d.sticky = DMIStatusFailed
		return
	}
	d.lastData = data
}
