package soc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/debug"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/memmap"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/mmio"
)

var _ = Describe("SoC", func() {
	var (
		target  *SoC
		console *bytes.Buffer
	)

	BeforeEach(func() {
		console = &bytes.Buffer{}
		var err error
		target, err = New(Config{Console: console})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		target.Shutdown()
	})

	Context("bus", func() {
		It("should map the default regions", func() {
			names := []string{}
			for _, m := range target.Bus().Mappings() {
				names = append(names, m.Name)
			}
			Expect(names).To(Equal([]string{"RAM", "DMA_CFG", "L2", "SOCCTRL"}))
		})

		It("should reject an access outside every region", func() {
			_, err := target.Bus().ReadWord(0x40000000)
			Expect(err).To(MatchError(mmio.ErrOutOfBounds))
		})

		It("should require a control region holding the EOC word", func() {
			m, err := memmap.ParseString(`MEMORY { RAM : ORIGIN = 0, LENGTH = 64K }`)
			Expect(err).NotTo(HaveOccurred())
			_, err = New(Config{Memory: m})
			Expect(err).To(HaveOccurred())
		})
	})

	Context("DMA engine", func() {
		var bus *mmio.Bus

		BeforeEach(func() {
			bus = target.Bus()
			for i := uint32(0); i < 8; i++ {
				Expect(bus.WriteWord(0x6000+4*i, 0x100+i)).To(Succeed())
			}
		})

		It("should copy once enabled and clear the enable bit", func() {
			Expect(bus.WriteWord(0x10000+DMACtrl, 8)).To(Succeed())
			Expect(bus.WriteWord(0x10000+DMADst, 0x20000)).To(Succeed())
			Expect(bus.WriteWord(0x10000+DMASrc, 0x6000)).To(Succeed())
			Expect(bus.WriteWord(0x10000+DMACtrl, 8|DMAEnable)).To(Succeed())

			Eventually(func() uint32 {
				v, _ := bus.ReadWord(0x10000 + DMACtrl)
				return v & DMAEnable
			}).Should(BeZero())

			for i := uint32(0); i < 8; i++ {
				Expect(bus.ReadWord(0x20000 + 4*i)).To(Equal(0x100 + i))
			}
			done, faulted := target.DMA().Transfers()
			Expect(done).To(Equal(1))
			Expect(faulted).To(BeZero())
		})

		It("should latch the descriptor when enabled", func() {
			slow, err := New(Config{DMAWordDelay: 2 * time.Millisecond})
			Expect(err).NotTo(HaveOccurred())
			defer slow.Shutdown()
			b := slow.Bus()
			Expect(b.WriteWord(0x6000, 0xaa)).To(Succeed())

			Expect(b.WriteWord(0x10000+DMADst, 0x20000)).To(Succeed())
			Expect(b.WriteWord(0x10000+DMASrc, 0x6000)).To(Succeed())
			Expect(b.WriteWord(0x10000+DMACtrl, 4|DMAEnable)).To(Succeed())
			Expect(b.WriteWord(0x10000+DMADst, 0x30000)).To(Succeed())

			slow.DMA().Wait()
			Expect(b.ReadWord(0x10000 + DMADst)).To(Equal(uint32(0x20000)))
			Expect(b.ReadWord(0x20000)).To(Equal(uint32(0xaa)))
		})

		It("should count a transfer that runs off the bus", func() {
			Expect(bus.WriteWord(0x10000+DMADst, 0x2fff8)).To(Succeed())
			Expect(bus.WriteWord(0x10000+DMASrc, 0x6000)).To(Succeed())
			Expect(bus.WriteWord(0x10000+DMACtrl, 8|DMAEnable)).To(Succeed())
			target.DMA().Wait()

			_, faulted := target.DMA().Transfers()
			Expect(faulted).To(Equal(1))
			Expect(bus.ReadWord(0x10000 + DMACtrl)).To(Equal(uint32(8)))
		})
	})

	Context("hart", func() {
		It("should run the registered program and report its exit code", func() {
			target.Register(0x80, func(ctx context.Context, bus mmio.AddressSpace, out io.Writer) int {
				fmt.Fprintln(out, "hello")
				return 3
			})
			h := target.Hart()
			h.Halt()
			Expect(h.WriteReg(uint32(debug.RegPC), 0x80)).To(BeTrue())
			h.Resume()

			Eventually(func() bool {
				_, done := target.Control().EOC()
				return done
			}).Should(BeTrue())
			eoc, _ := target.Control().EOC()
			Expect(eoc & debug.EOCCodeMask).To(Equal(uint32(3)))
			Expect(console.String()).To(Equal("hello\n"))
			Expect(h.Runs()).To(Equal(1))
		})

		It("should report a missing program", func() {
			h := target.Hart()
			h.Halt()
			h.Resume()
			Eventually(func() uint32 {
				eoc, _ := target.Control().EOC()
				return eoc
			}).Should(Equal(debug.EOCDone | ExitNoProgram))
		})

		It("should cancel the program on halt without writing EOC", func() {
			started := make(chan struct{})
			target.Register(0, func(ctx context.Context, _ mmio.AddressSpace, _ io.Writer) int {
				close(started)
				<-ctx.Done()
				return 0
			})
			h := target.Hart()
			h.Halt()
			h.Resume()
			Eventually(started).Should(BeClosed())
			h.Halt()

			Expect(h.Halted()).To(BeTrue())
			eoc, _ := target.Control().EOC()
			Expect(eoc).To(BeZero())
		})

		It("should keep x0 at zero", func() {
			h := target.Hart()
			Expect(h.WriteReg(uint32(debug.RegGPR(0)), 5)).To(BeTrue())
			Expect(h.WriteReg(uint32(debug.RegGPR(7)), 5)).To(BeTrue())
			v, ok := h.ReadReg(uint32(debug.RegGPR(0)))
			Expect(ok).To(BeTrue())
			Expect(v).To(BeZero())
			v, ok = h.ReadReg(uint32(debug.RegGPR(7)))
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal(uint32(5)))
			_, ok = h.ReadReg(0x300)
			Expect(ok).To(BeFalse())
		})
	})

	Context("debug module", func() {
		var dm *DebugModule

		BeforeEach(func() {
			dm = target.DebugModule()
			Expect(dm.WriteDMI(debug.DMControl, debug.DMControlDMActive)).To(Succeed())
		})

		read := func(addr uint32) uint32 {
			v, err := dm.ReadDMI(addr)
			Expect(err).NotTo(HaveOccurred())
			return v
		}

		It("should report version and run state", func() {
			s := read(debug.DMStatus)
			Expect(s & debug.DMStatusVersionMask).To(Equal(uint32(debug.DMStatusVersion013)))
			Expect(s & debug.DMStatusAuthenticated).NotTo(BeZero())
			Expect(s & debug.DMStatusAllRunning).NotTo(BeZero())

			Expect(dm.WriteDMI(debug.DMControl, debug.DMControlHaltReq|debug.DMControlDMActive)).To(Succeed())
			Expect(read(debug.DMStatus) & debug.DMStatusAllHalted).NotTo(BeZero())
		})

		It("should refuse register access while running", func() {
			Expect(dm.WriteDMI(debug.DMCommand, debug.CommandAARSize32|debug.CommandTransfer|uint32(debug.RegPC))).To(Succeed())
			cs := read(debug.DMAbstractCS)
			Expect((cs & debug.AbstractCSCmdErrMask) >> debug.AbstractCSCmdErrShft).To(Equal(uint32(debug.CmdErrHaltResume)))

			Expect(dm.WriteDMI(debug.DMAbstractCS, debug.AbstractCSCmdErrMask)).To(Succeed())
			Expect(read(debug.DMAbstractCS) & debug.AbstractCSCmdErrMask).To(BeZero())
		})

		It("should move registers through data0 while halted", func() {
			Expect(dm.WriteDMI(debug.DMControl, debug.DMControlHaltReq|debug.DMControlDMActive)).To(Succeed())
			Expect(dm.WriteDMI(debug.DMData0, 0x1234)).To(Succeed())
			Expect(dm.WriteDMI(debug.DMCommand, debug.CommandAARSize32|debug.CommandTransfer|debug.CommandWrite|uint32(debug.RegGPR(5)))).To(Succeed())
			Expect(dm.WriteDMI(debug.DMData0, 0)).To(Succeed())
			Expect(dm.WriteDMI(debug.DMCommand, debug.CommandAARSize32|debug.CommandTransfer|uint32(debug.RegGPR(5)))).To(Succeed())
			Expect(read(debug.DMData0)).To(Equal(uint32(0x1234)))

			Expect(dm.WriteDMI(debug.DMCommand, debug.CommandAARSize32|debug.CommandTransfer|0x300)).To(Succeed())
			Expect((read(debug.DMAbstractCS) & debug.AbstractCSCmdErrMask) >> debug.AbstractCSCmdErrShft).To(Equal(uint32(debug.CmdErrException)))
		})

		It("should burst system bus reads without reading past the range", func() {
			for i := uint32(0); i < 3; i++ {
				Expect(target.Bus().WriteWord(0x100+4*i, 0xa0+i)).To(Succeed())
			}
			Expect(dm.WriteDMI(debug.DMSBCS, debug.SBCSAccess32|debug.SBCSAutoIncrement|debug.SBCSReadOnAddr|debug.SBCSReadOnData)).To(Succeed())
			Expect(dm.WriteDMI(debug.DMSBAddress0, 0x100)).To(Succeed())
			Expect(read(debug.DMSBData0)).To(Equal(uint32(0xa0)))
			Expect(read(debug.DMSBData0)).To(Equal(uint32(0xa1)))
			Expect(dm.WriteDMI(debug.DMSBCS, debug.SBCSAccess32|debug.SBCSAutoIncrement)).To(Succeed())
			Expect(read(debug.DMSBData0)).To(Equal(uint32(0xa2)))
			Expect(read(debug.DMSBAddress0)).To(Equal(uint32(0x10c)))
		})

		It("should latch bus errors until cleared", func() {
			Expect(dm.WriteDMI(debug.DMSBCS, debug.SBCSAccess32)).To(Succeed())
			Expect(dm.WriteDMI(debug.DMSBAddress0, 0x40000000)).To(Succeed())
			Expect(dm.WriteDMI(debug.DMSBData0, 1)).To(Succeed())

			sbcs := read(debug.DMSBCS)
			Expect((sbcs & debug.SBCSErrorMask) >> debug.SBCSErrorShift).To(Equal(uint32(debug.SBErrAddress)))
			Expect(dm.SBErrors()).To(Equal(1))

			Expect(dm.WriteDMI(debug.DMSBAddress0, 0x0)).To(Succeed())
			Expect(dm.WriteDMI(debug.DMSBData0, 1)).To(Succeed())
			Expect(target.Bus().ReadWord(0)).To(BeZero())

			Expect(dm.WriteDMI(debug.DMSBCS, debug.SBCSAccess32|debug.SBCSErrorMask)).To(Succeed())
			Expect(read(debug.DMSBCS) & debug.SBCSErrorMask).To(BeZero())
			Expect(dm.WriteDMI(debug.DMSBData0, 7)).To(Succeed())
			Expect(target.Bus().ReadWord(0)).To(Equal(uint32(7)))
		})

		It("should flag unsupported access sizes", func() {
			Expect(dm.WriteDMI(debug.DMSBCS, 0)).To(Succeed())
			Expect(dm.WriteDMI(debug.DMSBData0, 1)).To(Succeed())
			Expect((read(debug.DMSBCS) & debug.SBCSErrorMask) >> debug.SBCSErrorShift).To(Equal(uint32(debug.SBErrSize)))
		})

		It("should advertise 32-bit system bus access", func() {
			sbcs := read(debug.DMSBCS)
			Expect(sbcs >> debug.SBCSVersionShift).To(Equal(uint32(debug.SBCSVersion1)))
			Expect(sbcs & debug.SBCSSupports32).NotTo(BeZero())
			Expect((sbcs & debug.SBCSASizeMask) >> debug.SBCSASizeShift).To(Equal(uint32(32)))
		})
	})
})
