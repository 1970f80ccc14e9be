package soc

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/mmio"
)

// DMA engine register offsets inside its configuration window.
const (
	DMACtrl = 0x0
	DMADst  = 0x4
	DMASrc  = 0x8

	// DMAEnable starts a transfer when written to CTRL and reads back set
	// until the transfer is over.
	DMAEnable     = 1 << 31
	DMALengthMask = 0xffff
)

// DMA is a word-copy engine. A transfer starts when CTRL is written with the
// enable bit and runs on its own goroutine using the descriptor latched at
// that moment. Writes while a transfer is in flight are dropped.
type DMA struct {
	bus       mmio.AddressSpace
	wordDelay time.Duration

	mu        sync.Mutex
	ctrl      uint32
	dst, src  uint32
	transfers int
	faults    int
	wg        sync.WaitGroup
}

// NewDMA returns an idle engine. It copies through whatever bus is attached
// before the first transfer.
func NewDMA(wordDelay time.Duration) *DMA {
	return &DMA{wordDelay: wordDelay}
}

func (d *DMA) attach(bus mmio.AddressSpace) {
	d.mu.Lock()
	d.bus = bus
	d.mu.Unlock()
}

func (d *DMA) ReadWord(offset uint32) (uint32, error) {
	if offset%mmio.WordSize != 0 {
		return 0, mmio.ErrUnaligned
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch offset {
	case DMACtrl:
		return d.ctrl, nil
	case DMADst:
		return d.dst, nil
	case DMASrc:
		return d.src, nil
	}
	return 0, nil
}

func (d *DMA) WriteWord(offset uint32, value uint32) error {
	if offset%mmio.WordSize != 0 {
		return mmio.ErrUnaligned
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctrl&DMAEnable != 0 {
		glog.V(2).Infof("soc/dma: write 0x%08x to +0x%x ignored, transfer in flight", value, offset)
		return nil
	}
	switch offset {
	case DMACtrl:
		d.ctrl = value
		if value&DMAEnable != 0 {
			d.start(d.src, d.dst, int(value&DMALengthMask))
		}
	case DMADst:
		d.dst = value
	case DMASrc:
		d.src = value
	}
	return nil
}

// start runs with d.mu held.
func (d *DMA) start(src, dst uint32, words int) {
	glog.V(1).Infof("soc/dma: transfer %d words 0x%08x -> 0x%08x", words, src, dst)
	bus := d.bus
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ok := true
		for i := 0; i < words && bus != nil; i++ {
			off := uint32(i) * mmio.WordSize
			v, err := bus.ReadWord(src + off)
			if err == nil {
				err = bus.WriteWord(dst+off, v)
			}
			if err != nil {
				glog.Warningf("soc/dma: word %d: %v", i, err)
				ok = false
				break
			}
			if d.wordDelay > 0 {
				time.Sleep(d.wordDelay)
			}
		}
		d.mu.Lock()
		d.ctrl &^= DMAEnable
		d.transfers++
		if !ok {
			d.faults++
		}
		d.mu.Unlock()
	}()
}

// Wait blocks until no transfer is in flight.
func (d *DMA) Wait() { d.wg.Wait() }

// Transfers counts completed transfers and how many of them hit a bus error.
func (d *DMA) Transfers() (done, faulted int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transfers, d.faults
}
