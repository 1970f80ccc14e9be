// Package dmatest is the DMA self-test that runs on the target: fill a
// source buffer with LFSR data, program the DMA engine, wait for it and
// compare the destination word by word.
package dmatest

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/lfsr"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/mmio"
)

var (
	// ErrDataMismatch: source and destination differ.
	ErrDataMismatch = errors.New("dmatest: data mismatch")
	// ErrTransferTimeout: the engine never cleared its enable bit.
	ErrTransferTimeout = errors.New("dmatest: transfer did not complete")
	// ErrLengthRange: the length does not fit the engine's length field.
	ErrLengthRange = errors.New("dmatest: length out of range")
)

// Descriptor is one transfer. Length is in bytes and must be a multiple of
// the word size.
type Descriptor struct {
	Enable bool
	Src    uint32
	Dst    uint32
	Length uint32
}

// RegisterMap locates the engine's registers inside its configuration
// window.
type RegisterMap struct {
	Ctrl uint32
	Dst  uint32
	Src  uint32
	// EnableBit in CTRL starts a transfer and stays set while it runs.
	EnableBit uint32
	// LengthMask covers the word count field of CTRL.
	LengthMask uint32
}

// span is the size of the window holding every register.
func (r RegisterMap) span() uint32 {
	top := r.Ctrl
	for _, off := range []uint32{r.Dst, r.Src} {
		if off > top {
			top = off
		}
	}
	return top + mmio.WordSize
}

// DefaultRegisterMap is the engine used by the reference SoC.
func DefaultRegisterMap() RegisterMap {
	return RegisterMap{Ctrl: 0x0, Dst: 0x4, Src: 0x8, EnableBit: 1 << 31, LengthMask: 0xffff}
}

// Layout places the buffers and the engine in the target address space.
type Layout struct {
	SrcBase uint32
	DstBase uint32
	CfgBase uint32
	Length  uint32
	Regs    RegisterMap
}

// DefaultLayout matches the reference firmware.
func DefaultLayout() Layout {
	return Layout{
		SrcBase: 0x6000,
		DstBase: 0x20000,
		CfgBase: 0x10000,
		Length:  0x20,
		Regs:    DefaultRegisterMap(),
	}
}

func checkLength(length uint32) error {
	if length%mmio.WordSize != 0 {
		return fmt.Errorf("length %d: %w", length, mmio.ErrUnaligned)
	}
	return nil
}

// InitBuffer stores one gen.Next() per word of [0, length) in ascending
// order.
func InitBuffer(win mmio.AddressSpace, gen *lfsr.Generator, length uint32) error {
	if err := checkLength(length); err != nil {
		return err
	}
	for off := uint32(0); off < length; off += mmio.WordSize {
		if err := win.WriteWord(off, gen.Next()); err != nil {
			return fmt.Errorf("init buffer at +0x%x: %w", off, err)
		}
	}
	return nil
}

// ConfigureAndTrigger programs d into the engine: CTRL with the word count
// and enable clear, then DST, then SRC. When d.Enable is set, CTRL is
// rewritten with the enable bit as the final write so the engine never sees
// a partial descriptor.
func ConfigureAndTrigger(cfg mmio.AddressSpace, regs RegisterMap, d Descriptor) error {
	if err := checkLength(d.Length); err != nil {
		return err
	}
	words := d.Length / mmio.WordSize
	if words&^regs.LengthMask != 0 {
		return fmt.Errorf("%w: %d words", ErrLengthRange, words)
	}
	ctrl := words &^ regs.EnableBit

	writes := []struct {
		reg, val uint32
	}{
		{regs.Ctrl, ctrl},
		{regs.Dst, d.Dst},
		{regs.Src, d.Src},
	}
	if d.Enable {
		writes = append(writes, struct{ reg, val uint32 }{regs.Ctrl, ctrl | regs.EnableBit})
	}
	for _, w := range writes {
		if err := cfg.WriteWord(w.reg, w.val); err != nil {
			return fmt.Errorf("dma register +0x%x: %w", w.reg, err)
		}
	}
	return nil
}

// WaitIdle polls CTRL until the engine clears the enable bit, giving up
// after maxPolls reads or when ctx is done.
func WaitIdle(ctx context.Context, cfg mmio.AddressSpace, regs RegisterMap, maxPolls int) error {
	for i := 0; i < maxPolls; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := cfg.ReadWord(regs.Ctrl)
		if err != nil {
			return fmt.Errorf("poll dma control: %w", err)
		}
		if v&regs.EnableBit == 0 {
			return nil
		}
		runtime.Gosched()
	}
	return fmt.Errorf("%w after %d polls", ErrTransferTimeout, maxPolls)
}

// ComparisonResult is the outcome of a buffer comparison. Offset, SourceValue
// and DestValue are meaningful only when MismatchFound is set.
type ComparisonResult struct {
	MismatchFound bool
	Offset        uint32
	SourceValue   uint32
	DestValue     uint32
	// Compared counts word pairs read.
	Compared int
}

// Passed reports whether no mismatch was found.
func (r ComparisonResult) Passed() bool { return !r.MismatchFound }

// WordIndex is the mismatching word's index.
func (r ComparisonResult) WordIndex() uint32 { return r.Offset / mmio.WordSize }

// Err returns a *MismatchError for a failed comparison, nil otherwise.
func (r ComparisonResult) Err() error {
	if !r.MismatchFound {
		return nil
	}
	return &MismatchError{Offset: r.Offset, Source: r.SourceValue, Dest: r.DestValue}
}

// MismatchError describes the first differing word.
type MismatchError struct {
	Offset       uint32
	Source, Dest uint32
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("dmatest: mismatch at +0x%x: source 0x%08x, destination 0x%08x", e.Offset, e.Source, e.Dest)
}

func (e *MismatchError) Unwrap() error { return ErrDataMismatch }

// Verify compares src and dst over [0, length) in ascending order and stops
// at the first difference. Nothing at or past length is read.
func Verify(src, dst mmio.AddressSpace, length uint32) (ComparisonResult, error) {
	var res ComparisonResult
	if err := checkLength(length); err != nil {
		return res, err
	}
	for off := uint32(0); off < length; off += mmio.WordSize {
		s, err := src.ReadWord(off)
		if err != nil {
			return res, fmt.Errorf("read source +0x%x: %w", off, err)
		}
		d, err := dst.ReadWord(off)
		if err != nil {
			return res, fmt.Errorf("read destination +0x%x: %w", off, err)
		}
		res.Compared++
		if s != d {
			res.MismatchFound = true
			res.Offset = off
			res.SourceValue = s
			res.DestValue = d
			return res, nil
		}
	}
	return res, nil
}
