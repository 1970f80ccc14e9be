package jtag

// RISC-V external debug (0.13) transport module, as seen from JTAG.
const (
	RISCVIRLength = 5

	IRIDCODE = 0x01
	IRDTMCS  = 0x10
	IRDMI    = 0x11
	IRBYPASS = 0x1f
)

// DTMCS register fields.
const (
	DTMCSVersionMask   = 0xf
	DTMCSABitsShift    = 4
	DTMCSABitsMask     = 0x3f
	DTMCSDMIStatShift  = 10
	DTMCSDMIStatMask   = 0x3
	DTMCSIdleShift     = 12
	DTMCSIdleMask      = 0x7
	DTMCSDMIReset      = 1 << 16
	DTMCSDMIHardReset  = 1 << 17
	DTMCSVersion013    = 1
	DefaultDMIAddrBits = 7
)

// DMI op field: requests on the way in, status on the way out.
const (
	DMIOpNop   = 0
	DMIOpRead  = 1
	DMIOpWrite = 2

	DMIStatusSuccess = 0
	DMIStatusFailed  = 2
	DMIStatusBusy    = 3
)

// DMIWidth is the length of the DMI data register for abits address bits:
// op[1:0], data[33:2], address[abits+33:34].
func DMIWidth(abits int) int {
	return abits + 34
}

// EncodeDMI packs a DMI scan value.
func EncodeDMI(addr, data uint32, op uint8) uint64 {
	return uint64(addr)<<34 | uint64(data)<<2 | uint64(op&0x3)
}

// DecodeDMI splits a captured DMI value.
func DecodeDMI(v uint64, abits int) (addr, data uint32, op uint8) {
	op = uint8(v & 0x3)
	data = uint32(v >> 2)
	addr = uint32((v >> 34) & (1<<uint(abits) - 1))
	return addr, data, op
}
