package debug

// RISC-V external debug 0.13 debug module registers (DMI addresses).
const (
	DMData0      = 0x04
	DMControl    = 0x10
	DMStatus     = 0x11
	DMHartInfo   = 0x12
	DMAbstractCS = 0x16
	DMCommand    = 0x17
	DMSBCS       = 0x38
	DMSBAddress0 = 0x39
	DMSBData0    = 0x3c
)

// dmcontrol
const (
	DMControlHaltReq   = 1 << 31
	DMControlResumeReq = 1 << 30
	DMControlNDMReset  = 1 << 1
	DMControlDMActive  = 1 << 0
)

// dmstatus
const (
	DMStatusAllResumeAck  = 1 << 17
	DMStatusAllRunning    = 1 << 11
	DMStatusAllHalted     = 1 << 9
	DMStatusAuthenticated = 1 << 7
	DMStatusVersionMask   = 0xf
	DMStatusVersion013    = 2
)

// abstractcs and command
const (
	AbstractCSBusy       = 1 << 12
	AbstractCSCmdErrMask = 0x7 << 8
	AbstractCSCmdErrShft = 8

	CmdErrNone       = 0
	CmdErrBusy       = 1
	CmdErrNotSupp    = 2
	CmdErrException  = 3
	CmdErrHaltResume = 4

	CommandAccessRegister = 0 << 24
	CommandAARSize32      = 2 << 20
	CommandTransfer       = 1 << 17
	CommandWrite          = 1 << 16
	CommandRegNoMask      = 0xffff
)

// sbcs
const (
	SBCSVersionShift  = 29
	SBCSVersion1      = 1
	SBCSBusyError     = 1 << 22
	SBCSBusy          = 1 << 21
	SBCSReadOnAddr    = 1 << 20
	SBCSAccessShift   = 17
	SBCSAccessMask    = 0x7 << 17
	SBCSAccess32      = 2 << 17
	SBCSAutoIncrement = 1 << 16
	SBCSReadOnData    = 1 << 15
	SBCSErrorShift    = 12
	SBCSErrorMask     = 0x7 << 12
	SBCSASizeShift    = 5
	SBCSASizeMask     = 0x7f << 5
	SBCSSupports32    = 1 << 2
)

// SBA error codes in sbcs.sberror.
const (
	SBErrNone      = 0
	SBErrTimeout   = 1
	SBErrAddress   = 2
	SBErrAlignment = 3
	SBErrSize      = 4
	SBErrOther     = 7
)
