package dmatest

import (
	"context"
	"fmt"
	"io"

	"github.com/golang/glog"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/lfsr"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/mmio"
)

// Exit codes of Verifier.Main.
const (
	ExitPass     = 0
	ExitMismatch = 1
	ExitError    = 2
)

// DefaultMaxPolls bounds the wait for the engine.
const DefaultMaxPolls = 1_000_000

// Verifier is the complete self-test program.
type Verifier struct {
	Layout   Layout
	Seed     uint32
	MaxPolls int
}

// NewVerifier returns the reference configuration.
func NewVerifier() *Verifier {
	return &Verifier{Layout: DefaultLayout(), Seed: lfsr.DefaultSeed, MaxPolls: DefaultMaxPolls}
}

// Main runs the test against bus, reporting progress on console, and
// returns ExitPass, ExitMismatch or ExitError.
func (v *Verifier) Main(ctx context.Context, bus mmio.AddressSpace, console io.Writer) int {
	l := v.Layout
	maxPolls := v.MaxPolls
	if maxPolls <= 0 {
		maxPolls = DefaultMaxPolls
	}
	src := mmio.NewWindow(bus, l.SrcBase, l.Length)
	dst := mmio.NewWindow(bus, l.DstBase, l.Length)
	cfg := mmio.NewWindow(bus, l.CfgBase, l.Regs.span())

	fail := func(step string, err error) int {
		glog.Warningf("dmatest: %s: %v", step, err)
		fmt.Fprintf(console, "DMA test %s failed: %v\n", step, err)
		return ExitError
	}

	fmt.Fprintln(console, "DMA test init: populate src buffer")
	gen := lfsr.New(v.Seed)
	logged := &loggingSpace{AddressSpace: src, base: l.SrcBase, console: console}
	if err := InitBuffer(logged, gen, l.Length); err != nil {
		return fail("init", err)
	}
	if ctx.Err() != nil {
		return ExitError
	}

	fmt.Fprintln(console, "Call DMA transfer")
	d := Descriptor{Enable: true, Src: l.SrcBase, Dst: l.DstBase, Length: l.Length}
	if err := ConfigureAndTrigger(cfg, l.Regs, d); err != nil {
		return fail("configure", err)
	}
	if err := WaitIdle(ctx, cfg, l.Regs, maxPolls); err != nil {
		if ctx.Err() != nil {
			return ExitError
		}
		return fail("transfer", err)
	}

	fmt.Fprintln(console, "DMA test check: compare src and dst buffers")
	res, err := Verify(src, dst, l.Length)
	if err != nil {
		return fail("compare", err)
	}
	if res.MismatchFound {
		fmt.Fprintf(console, "SRC-DST mismatch! SRC: 0x%x, DST 0x%x\n", res.SourceValue, res.DestValue)
		return ExitMismatch
	}
	fmt.Fprintln(console, "No mismatches, test [PASSED]")
	return ExitPass
}

// loggingSpace echoes every write to the console the way the firmware
// reports buffer initialisation.
type loggingSpace struct {
	mmio.AddressSpace
	base    uint32
	console io.Writer
}

func (s *loggingSpace) WriteWord(offset uint32, value uint32) error {
	fmt.Fprintf(s.console, "Writing %x to addr %x\n", value, s.base+offset)
	return s.AddressSpace.WriteWord(offset, value)
}
