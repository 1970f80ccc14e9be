package jtag

import (
	"encoding/binary"
	"fmt"
)

// CMSIS-DAP command IDs used by the JTAG backend.
const (
	CmdInfo          = 0x00
	CmdConnect       = 0x02
	CmdDisconnect    = 0x03
	CmdResetTarget   = 0x0A
	CmdSWJClock      = 0x11
	CmdJTAGSequence  = 0x14
	CmdJTAGConfigure = 0x15
)

// DAP_Info IDs
const (
	InfoVendorID    = 0x01
	InfoProductID   = 0x02
	InfoSerialNum   = 0x03
	InfoFirmwareVer = 0x04
	InfoPacketSize  = 0xFF
)

// Connection ports
const (
	PortDefault = 0
	PortSWD     = 1
	PortJTAG    = 2
)

// Status codes
const (
	StatusOK    = 0x00
	StatusError = 0xFF
)

// JTAG sequence info byte.
const (
	JTAGSeqTCKMask = 0x3F // TCK count, 0 encodes 64
	JTAGSeqTMS     = 0x40
	JTAGSeqTDO     = 0x80
)

// MaxSequenceBits is the longest run one JTAG sequence can clock.
const MaxSequenceBits = 64

// CMSISDAPProtocol encodes commands and validates responses. It holds no
// connection state.
type CMSISDAPProtocol struct {
	PacketSize int
}

// NewCMSISDAPProtocol creates a new protocol handler
func NewCMSISDAPProtocol(packetSize int) *CMSISDAPProtocol {
	return &CMSISDAPProtocol{PacketSize: packetSize}
}

// expect checks the echoed command ID and minimum length. Malformed responses
// are protocol violations.
func expect(resp []byte, cmd byte, minLen int) error {
	if len(resp) < minLen {
		return fmt.Errorf("%w: cmsis-dap 0x%02X response too short (%d bytes)", ErrProtocolViolation, cmd, len(resp))
	}
	if resp[0] != cmd {
		return fmt.Errorf("%w: cmsis-dap response ID 0x%02X, want 0x%02X", ErrProtocolViolation, resp[0], cmd)
	}
	return nil
}

func expectStatus(resp []byte, cmd byte, what string) error {
	if err := expect(resp, cmd, 2); err != nil {
		return err
	}
	if resp[1] != StatusOK {
		return fmt.Errorf("cmsis-dap: %s failed (status 0x%02X)", what, resp[1])
	}
	return nil
}

// EncodeInfo builds a DAP_Info command
func (p *CMSISDAPProtocol) EncodeInfo(infoID byte) []byte {
	return []byte{CmdInfo, infoID}
}

// DecodeInfo parses a DAP_Info string response
func (p *CMSISDAPProtocol) DecodeInfo(resp []byte) (string, error) {
	if err := expect(resp, CmdInfo, 2); err != nil {
		return "", err
	}
	length := int(resp[1])
	if len(resp) < 2+length {
		return "", fmt.Errorf("%w: incomplete info string", ErrProtocolViolation)
	}
	s := resp[2 : 2+length]
	// Strings are NUL terminated on most probes.
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return string(s), nil
}

// DecodePacketSize parses the DAP_Info packet size reply.
func (p *CMSISDAPProtocol) DecodePacketSize(resp []byte) (int, error) {
	if err := expect(resp, CmdInfo, 4); err != nil {
		return 0, err
	}
	if resp[1] != 2 {
		return 0, fmt.Errorf("%w: packet size length %d", ErrProtocolViolation, resp[1])
	}
	return int(binary.LittleEndian.Uint16(resp[2:4])), nil
}

// EncodeConnect builds a DAP_Connect command
func (p *CMSISDAPProtocol) EncodeConnect(port byte) []byte {
	return []byte{CmdConnect, port}
}

// DecodeConnect returns the port the probe connected
func (p *CMSISDAPProtocol) DecodeConnect(resp []byte) (byte, error) {
	if err := expect(resp, CmdConnect, 2); err != nil {
		return 0, err
	}
	if resp[1] == PortDefault {
		return 0, fmt.Errorf("cmsis-dap: connect failed")
	}
	return resp[1], nil
}

func (p *CMSISDAPProtocol) EncodeDisconnect() []byte {
	return []byte{CmdDisconnect}
}

func (p *CMSISDAPProtocol) DecodeDisconnect(resp []byte) error {
	return expectStatus(resp, CmdDisconnect, "disconnect")
}

// EncodeJTAGConfigure declares the IR length of every TAP in the chain.
func (p *CMSISDAPProtocol) EncodeJTAGConfigure(irLengths []byte) []byte {
	cmd := make([]byte, 2+len(irLengths))
	cmd[0] = CmdJTAGConfigure
	cmd[1] = byte(len(irLengths))
	copy(cmd[2:], irLengths)
	return cmd
}

func (p *CMSISDAPProtocol) DecodeJTAGConfigure(resp []byte) error {
	return expectStatus(resp, CmdJTAGConfigure, "jtag configure")
}

// EncodeSetClock builds a DAP_SWJ_Clock command
func (p *CMSISDAPProtocol) EncodeSetClock(hz uint32) []byte {
	cmd := make([]byte, 5)
	cmd[0] = CmdSWJClock
	binary.LittleEndian.PutUint32(cmd[1:], hz)
	return cmd
}

func (p *CMSISDAPProtocol) DecodeSetClock(resp []byte) error {
	return expectStatus(resp, CmdSWJClock, "set clock")
}

func (p *CMSISDAPProtocol) EncodeResetTarget() []byte {
	return []byte{CmdResetTarget}
}

func (p *CMSISDAPProtocol) DecodeResetTarget(resp []byte) error {
	return expectStatus(resp, CmdResetTarget, "reset target")
}

// JTAGSequence is one run of TCK cycles with constant TMS.
type JTAGSequence struct {
	Info byte   // TCK count, TMS, TDO capture
	TDI  []byte // ceil(count/8) bytes, LSB first
}

// NewJTAGSequence creates a sequence descriptor
func NewJTAGSequence(tckCount int, tms bool, captureTDO bool, tdi []byte) JTAGSequence {
	info := byte(tckCount & JTAGSeqTCKMask)
	if tms {
		info |= JTAGSeqTMS
	}
	if captureTDO {
		info |= JTAGSeqTDO
	}
	return JTAGSequence{Info: info, TDI: tdi}
}

// TCKCount returns the number of TCK clocks in this sequence
func (seq *JTAGSequence) TCKCount() int {
	count := int(seq.Info & JTAGSeqTCKMask)
	if count == 0 {
		return MaxSequenceBits
	}
	return count
}

func (seq *JTAGSequence) TMS() bool {
	return seq.Info&JTAGSeqTMS != 0
}

func (seq *JTAGSequence) CaptureTDO() bool {
	return seq.Info&JTAGSeqTDO != 0
}

// tdoBytes is how many response bytes the sequence produces.
func (seq *JTAGSequence) tdoBytes() int {
	if !seq.CaptureTDO() {
		return 0
	}
	return (seq.TCKCount() + 7) / 8
}

// SequenceCost reports the request and response bytes seqs add to one
// DAP_JTAG_Sequence command, header excluded.
func SequenceCost(seq JTAGSequence) (req, resp int) {
	return 1 + len(seq.TDI), seq.tdoBytes()
}

// EncodeJTAGSequence builds a DAP_JTAG_Sequence command:
// [0x14][count]{[info][tdi...]}
func (p *CMSISDAPProtocol) EncodeJTAGSequence(sequences []JTAGSequence) []byte {
	cmd := []byte{CmdJTAGSequence, byte(len(sequences))}
	for _, seq := range sequences {
		cmd = append(cmd, seq.Info)
		cmd = append(cmd, seq.TDI...)
	}
	return cmd
}

// DecodeJTAGSequence returns the captured TDO of every sequence that asked
// for it, in order.
func (p *CMSISDAPProtocol) DecodeJTAGSequence(resp []byte, sequences []JTAGSequence) ([][]byte, error) {
	if err := expectStatus(resp, CmdJTAGSequence, "jtag sequence"); err != nil {
		return nil, err
	}

	var result [][]byte
	offset := 2
	for _, seq := range sequences {
		n := seq.tdoBytes()
		if n == 0 {
			continue
		}
		if offset+n > len(resp) {
			return nil, fmt.Errorf("%w: incomplete TDO data", ErrProtocolViolation)
		}
		result = append(result, append([]byte(nil), resp[offset:offset+n]...))
		offset += n
	}
	return result, nil
}
