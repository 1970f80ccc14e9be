// Package soc simulates the target system: a JTAG TAP with a RISC-V debug
// transport, a debug module, one hart that runs Go programs, RAM regions, a
// DMA engine and the SoC control block, all joined by one bus.
package soc

import (
	"fmt"
	"io"
	"time"

	"github.com/juju/errors"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/debug"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/jtag"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/memmap"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/mmio"
)

// DefaultIDCode is the IDCODE reported by the simulated TAP.
const DefaultIDCode = 0x249511C3

// DefaultMemoryScript is the simulator's memory map.
const DefaultMemoryScript = `
MEMORY
{
  RAM (rwx)    : ORIGIN = 0x00000000, LENGTH = 64K
  DMA_CFG (rw) : ORIGIN = 0x00010000, LENGTH = 4K
  L2 (rwx)     : ORIGIN = 0x00020000, LENGTH = 64K
  SOCCTRL (rw) : ORIGIN = 0x1A104000, LENGTH = 4K
}

REGION_ALIAS("REGION_TEXT", RAM);
REGION_ALIAS("REGION_DATA", L2);
`

// Region names with special meaning; every other region is RAM.
const (
	DefaultDMARegion     = "DMA_CFG"
	DefaultControlRegion = "SOCCTRL"
)

// DefaultMemory parses DefaultMemoryScript.
func DefaultMemory() *memmap.Map {
	m, err := memmap.ParseString(DefaultMemoryScript)
	if err != nil {
		panic(fmt.Sprintf("soc: default memory map: %v", err))
	}
	return m
}

// Config describes the simulated target.
type Config struct {
	IDCode uint32
	// IdleCycles is the Run-Test/Idle padding a DMI access needs.
	IdleCycles int
	Memory     *memmap.Map
	// DMARegion and ControlRegion name the memory regions backed by the DMA
	// engine and the control block.
	DMARegion     string
	ControlRegion string
	EOCAddress    uint32
	// Console receives target output. Nil discards it.
	Console io.Writer
	// DMAWordDelay slows the engine down so software sees it busy.
	DMAWordDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.IDCode == 0 {
		c.IDCode = DefaultIDCode
	}
	if c.Memory == nil {
		c.Memory = DefaultMemory()
	}
	if c.DMARegion == "" {
		c.DMARegion = DefaultDMARegion
	}
	if c.ControlRegion == "" {
		c.ControlRegion = DefaultControlRegion
	}
	if c.EOCAddress == 0 {
		c.EOCAddress = debug.DefaultEOCAddress
	}
	if c.Console == nil {
		c.Console = io.Discard
	}
	return c
}

// SoC is an assembled target.
type SoC struct {
	cfg     Config
	bus     *mmio.Bus
	dma     *DMA
	control *Control
	hart    *Hart
	dm      *DebugModule
	dtm     *jtag.DTMSimulator
}

// New builds the target described by cfg. The hart starts running with no
// program, as after a reset.
func New(cfg Config) (*SoC, error) {
	cfg = cfg.withDefaults()
	s := &SoC{cfg: cfg, dma: NewDMA(cfg.DMAWordDelay)}

	var mappings []mmio.Mapping
	for _, r := range cfg.Memory.Regions {
		if r.End() > 1<<32 || r.Length > 1<<32-1 {
			return nil, errors.Errorf("region %s does not fit a 32-bit bus", r)
		}
		m := mmio.Mapping{Name: r.Name, Base: uint32(r.Origin), Size: uint32(r.Length)}
		switch r.Name {
		case cfg.DMARegion:
			m.Device = s.dma
		case cfg.ControlRegion:
			if !r.Contains(uint64(cfg.EOCAddress), mmio.WordSize) {
				return nil, errors.Errorf("EOC address 0x%08x outside control region %s", cfg.EOCAddress, r)
			}
			s.control = newControl(uint32(r.Length), cfg.EOCAddress-uint32(r.Origin))
			m.Device = s.control
		default:
			m.Device = mmio.NewRAM(uint32(r.Length))
		}
		mappings = append(mappings, m)
	}
	if s.control == nil {
		return nil, errors.Errorf("memory map has no control region %q", cfg.ControlRegion)
	}

	bus, err := mmio.NewBus(mappings...)
	if err != nil {
		return nil, errors.Annotate(err, "build bus")
	}
	s.bus = bus
	s.dma.attach(bus)
	s.hart = newHart(bus, cfg.Console, cfg.EOCAddress)
	s.dm = newDebugModule(s.hart, bus)
	s.dtm = jtag.NewDTMSimulator(jtag.DTMConfig{
		IDCode:     cfg.IDCode,
		IdleCycles: cfg.IdleCycles,
		Target:     s.dm,
	})
	return s, nil
}

// Adapter is the JTAG adapter wired to the target's TAP.
func (s *SoC) Adapter() *jtag.SimAdapter { return s.dtm.Adapter() }

func (s *SoC) DTM() *jtag.DTMSimulator   { return s.dtm }
func (s *SoC) Bus() *mmio.Bus            { return s.bus }
func (s *SoC) Hart() *Hart               { return s.hart }
func (s *SoC) DMA() *DMA                 { return s.dma }
func (s *SoC) Control() *Control         { return s.control }
func (s *SoC) DebugModule() *DebugModule { return s.dm }
func (s *SoC) Config() Config            { return s.cfg }

// Register installs a program at entry. See Hart.Register.
func (s *SoC) Register(entry uint32, p Program) { s.hart.Register(entry, p) }

// Shutdown halts the hart and waits for the DMA engine to drain.
func (s *SoC) Shutdown() {
	s.hart.Halt()
	s.dma.Wait()
}
