package soc

import (
	"sync"

	"github.com/golang/glog"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/debug"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/mmio"
)

// Control is the SoC control register block. Apart from remembering the
// end-of-computation word it behaves as plain storage.
type Control struct {
	*mmio.RAM
	eocOffset uint32

	mu  sync.Mutex
	eoc uint32
}

func newControl(size, eocOffset uint32) *Control {
	return &Control{RAM: mmio.NewRAM(size), eocOffset: eocOffset}
}

func (c *Control) WriteWord(offset uint32, value uint32) error {
	if err := c.RAM.WriteWord(offset, value); err != nil {
		return err
	}
	if offset == c.eocOffset {
		c.mu.Lock()
		c.eoc = value
		c.mu.Unlock()
		if value&debug.EOCDone != 0 {
			glog.V(1).Infof("soc: end of computation, exit code %d", value&debug.EOCCodeMask)
		}
	}
	return nil
}

// EOC returns the last end-of-computation word and whether it reports done.
func (c *Control) EOC() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eoc, c.eoc&debug.EOCDone != 0
}
