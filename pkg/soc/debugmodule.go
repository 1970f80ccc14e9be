package soc

import (
	"errors"
	"sync"

	"github.com/golang/glog"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/debug"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/mmio"
)

const (
	abstractCSDataCount = 1
	sbcsRW              = debug.SBCSReadOnAddr | debug.SBCSAccessMask | debug.SBCSAutoIncrement | debug.SBCSReadOnData
	sbcsStatic          = debug.SBCSVersion1<<debug.SBCSVersionShift | 32<<debug.SBCSASizeShift | debug.SBCSSupports32
)

// DebugModule is a RISC-V 0.13 debug module for one hart: run control,
// abstract register access and 32-bit system bus access. It is the DMI target
// behind the simulated DTM.
type DebugModule struct {
	hart *Hart
	bus  mmio.AddressSpace

	mu        sync.Mutex
	active    bool
	dmcontrol uint32
	data0     uint32
	cmderr    uint32
	sbcs      uint32
	sbaddr    uint32
	sbdata    uint32
	sbErrors  int
}

func newDebugModule(h *Hart, bus mmio.AddressSpace) *DebugModule {
	return &DebugModule{hart: h, bus: bus}
}

// SBErrors counts system bus accesses that failed.
func (m *DebugModule) SBErrors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sbErrors
}

func (m *DebugModule) ReadDMI(addr uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch addr {
	case debug.DMControl:
		return m.dmcontrol, nil
	case debug.DMStatus:
		return m.status(), nil
	}
	if !m.active {
		return 0, nil
	}
	switch addr {
	case debug.DMData0:
		return m.data0, nil
	case debug.DMAbstractCS:
		return m.cmderr<<debug.AbstractCSCmdErrShft | abstractCSDataCount, nil
	case debug.DMSBCS:
		return m.sbcs | sbcsStatic, nil
	case debug.DMSBAddress0:
		return m.sbaddr, nil
	case debug.DMSBData0:
		v := m.sbdata
		if m.sbcs&debug.SBCSReadOnData != 0 {
			m.sbRead()
		}
		return v, nil
	}
	return 0, nil
}

func (m *DebugModule) WriteDMI(addr uint32, value uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if addr == debug.DMControl {
		m.control(value)
		return nil
	}
	if !m.active {
		return nil
	}
	switch addr {
	case debug.DMData0:
		m.data0 = value
	case debug.DMAbstractCS:
		m.cmderr &^= (value & debug.AbstractCSCmdErrMask) >> debug.AbstractCSCmdErrShft
	case debug.DMCommand:
		m.command(value)
	case debug.DMSBCS:
		errBits := uint32(debug.SBCSBusyError | debug.SBCSErrorMask)
		m.sbcs = (m.sbcs &^ (value & errBits) & errBits) | value&sbcsRW
	case debug.DMSBAddress0:
		m.sbaddr = value
		if m.sbcs&debug.SBCSReadOnAddr != 0 {
			m.sbRead()
		}
	case debug.DMSBData0:
		m.sbdata = value
		m.sbWrite()
	}
	return nil
}

func (m *DebugModule) control(value uint32) {
	if value&debug.DMControlDMActive == 0 {
		m.active, m.dmcontrol, m.data0, m.cmderr = false, 0, 0, 0
		m.sbcs, m.sbaddr, m.sbdata = 0, 0, 0
		glog.V(2).Infof("soc/dm: deactivated")
		return
	}
	m.active = true
	m.dmcontrol = value &^ debug.DMControlResumeReq
	if value&debug.DMControlHaltReq != 0 {
		m.hart.Halt()
	} else if value&debug.DMControlResumeReq != 0 {
		m.hart.Resume()
	}
}

func (m *DebugModule) status() uint32 {
	s := uint32(debug.DMStatusVersion013 | debug.DMStatusAuthenticated)
	if m.hart.Halted() {
		s |= debug.DMStatusAllHalted | debug.DMStatusAllHalted>>1
	} else {
		s |= debug.DMStatusAllRunning | debug.DMStatusAllRunning>>1
	}
	if m.hart.ResumeAck() {
		s |= debug.DMStatusAllResumeAck | debug.DMStatusAllResumeAck>>1
	}
	return s
}

// command executes an abstract command synchronously, so abstractcs never
// reads busy.
func (m *DebugModule) command(cmd uint32) {
	if m.cmderr != debug.CmdErrNone {
		return
	}
	if cmd>>24 != debug.CommandAccessRegister>>24 || cmd&(0x7<<20) != debug.CommandAARSize32 {
		m.cmderr = debug.CmdErrNotSupp
		return
	}
	if cmd&debug.CommandTransfer == 0 {
		return
	}
	if !m.hart.Halted() {
		m.cmderr = debug.CmdErrHaltResume
		return
	}
	regno := cmd & debug.CommandRegNoMask
	if cmd&debug.CommandWrite != 0 {
		if !m.hart.WriteReg(regno, m.data0) {
			m.cmderr = debug.CmdErrException
		}
		return
	}
	v, ok := m.hart.ReadReg(regno)
	if !ok {
		m.cmderr = debug.CmdErrException
		return
	}
	m.data0 = v
}

func (m *DebugModule) sbReady() bool {
	if m.sbcs&(debug.SBCSBusyError|debug.SBCSErrorMask) != 0 {
		return false
	}
	if m.sbcs&debug.SBCSAccessMask != debug.SBCSAccess32 {
		m.sbFail(debug.SBErrSize, nil)
		return false
	}
	return true
}

func (m *DebugModule) sbRead() {
	if !m.sbReady() {
		return
	}
	v, err := m.bus.ReadWord(m.sbaddr)
	if err != nil {
		m.sbFail(sbErrorCode(err), err)
		return
	}
	m.sbdata = v
	m.sbAdvance()
}

func (m *DebugModule) sbWrite() {
	if !m.sbReady() {
		return
	}
	if err := m.bus.WriteWord(m.sbaddr, m.sbdata); err != nil {
		m.sbFail(sbErrorCode(err), err)
		return
	}
	m.sbAdvance()
}

func (m *DebugModule) sbAdvance() {
	if m.sbcs&debug.SBCSAutoIncrement != 0 {
		m.sbaddr += mmio.WordSize
	}
}

func (m *DebugModule) sbFail(code uint32, err error) {
	m.sbcs = m.sbcs&^debug.SBCSErrorMask | code<<debug.SBCSErrorShift
	m.sbErrors++
	glog.V(2).Infof("soc/dm: system bus error %d at 0x%08x: %v", code, m.sbaddr, err)
}

func sbErrorCode(err error) uint32 {
	switch {
	case errors.Is(err, mmio.ErrUnaligned):
		return debug.SBErrAlignment
	case errors.Is(err, mmio.ErrOutOfBounds):
		return debug.SBErrAddress
	}
	return debug.SBErrOther
}
