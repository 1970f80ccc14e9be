package soc

import (
	"context"
	"io"
	"sync"

	"github.com/golang/glog"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/debug"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/mmio"
)

// Program is target code: it runs on the hart's goroutine with the hart's
// view of the bus and returns the exit code reported through EOC. It should
// return promptly once ctx is cancelled.
type Program func(ctx context.Context, bus mmio.AddressSpace, console io.Writer) int

// ExitNoProgram is reported when the hart resumes at an address with no
// program behind it.
const ExitNoProgram = 0x7f

// Hart is a single core that executes registered Programs instead of
// instructions. Only what the debug module can observe is modelled: the run
// state, dpc and the integer registers.
type Hart struct {
	bus     mmio.AddressSpace
	console io.Writer
	eocAddr uint32

	mu        sync.Mutex
	programs  map[uint32]Program
	fallback  Program
	halted    bool
	resumeAck bool
	dpc       uint32
	gpr       [32]uint32
	cancel    context.CancelFunc
	done      chan struct{}
	runs      int
}

func newHart(bus mmio.AddressSpace, console io.Writer, eocAddr uint32) *Hart {
	return &Hart{
		bus:      bus,
		console:  console,
		eocAddr:  eocAddr,
		programs: map[uint32]Program{},
	}
}

// Register installs p at entry. The hart runs it when resumed with
// dpc == entry.
func (h *Hart) Register(entry uint32, p Program) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.programs[entry] = p
}

// SetFallback installs the program run for entries without a registration.
func (h *Hart) SetFallback(p Program) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fallback = p
}

// Halted reports the run state.
func (h *Hart) Halted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.halted
}

func (h *Hart) ResumeAck() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resumeAck
}

// Runs counts how many times a program was started.
func (h *Hart) Runs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs
}

// Halt stops the hart, cancelling the running program and waiting for it.
func (h *Hart) Halt() {
	h.mu.Lock()
	if h.halted {
		h.mu.Unlock()
		return
	}
	h.halted = true
	h.resumeAck = false
	cancel, done, dpc := h.cancel, h.done, h.dpc
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	glog.V(2).Infof("soc: hart halted at 0x%08x", dpc)
}

// Resume starts the program at dpc. Resuming a running hart only sets the
// acknowledge flag.
func (h *Hart) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resumeAck = true
	if !h.halted {
		return
	}
	h.halted = false

	p, ok := h.programs[h.dpc]
	if !ok {
		p = h.fallback
	}
	entry := h.dpc
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.cancel, h.done = cancel, done
	h.runs++

	glog.V(1).Infof("soc: hart resumed at 0x%08x", entry)
	go func() {
		defer close(done)
		code := ExitNoProgram
		if p != nil {
			code = p(ctx, h.bus, h.console)
		} else {
			glog.Warningf("soc: no program at 0x%08x", entry)
		}
		if ctx.Err() != nil {
			return
		}
		if err := h.bus.WriteWord(h.eocAddr, debug.EOCDone|uint32(code)&debug.EOCCodeMask); err != nil {
			glog.Warningf("soc: write EOC: %v", err)
		}
	}()
}

// ReadReg reads a register by abstract command regno.
func (h *Hart) ReadReg(regno uint32) (uint32, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch r := debug.Register(regno); {
	case r == debug.RegPC:
		return h.dpc, true
	case r >= debug.RegGPR(0) && r <= debug.RegGPR(31):
		return h.gpr[r-debug.RegGPR(0)], true
	}
	return 0, false
}

// WriteReg writes a register by abstract command regno. x0 stays zero.
func (h *Hart) WriteReg(regno uint32, value uint32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch r := debug.Register(regno); {
	case r == debug.RegPC:
		h.dpc = value
		return true
	case r == debug.RegGPR(0):
		return true
	case r > debug.RegGPR(0) && r <= debug.RegGPR(31):
		h.gpr[r-debug.RegGPR(0)] = value
		return true
	}
	return false
}
