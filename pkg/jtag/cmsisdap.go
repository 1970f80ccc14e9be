package jtag

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// dapLink is the packet exchange the adapter needs; USBTransport is the
// production implementation.
type dapLink interface {
	WriteRead(cmd []byte) ([]byte, error)
	GetPacketSize() int
	Close() error
}

// CMSISDAPAdapter implements the Adapter interface for CMSIS-DAP probes
type CMSISDAPAdapter struct {
	link     dapLink
	protocol *CMSISDAPProtocol

	info      AdapterInfo
	speedHz   int
	connected bool

	mu sync.Mutex
}

// NewCMSISDAPAdapter opens a USB adapter, connects its JTAG port and sets the
// default 1 MHz clock. An empty serial takes the first one found.
func NewCMSISDAPAdapter(vid, pid uint16, serial string) (*CMSISDAPAdapter, error) {
	transport, err := NewUSBTransport(vid, pid, serial)
	if err != nil {
		return nil, err
	}
	a, err := newCMSISDAPAdapter(transport)
	if err != nil {
		transport.Close()
		return nil, err
	}
	return a, nil
}

func newCMSISDAPAdapter(link dapLink) (*CMSISDAPAdapter, error) {
	a := &CMSISDAPAdapter{
		link:     link,
		protocol: NewCMSISDAPProtocol(link.GetPacketSize()),
		speedHz:  1_000_000,
	}
	if err := a.queryInfo(); err != nil {
		return nil, fmt.Errorf("jtag: query probe info: %w", err)
	}
	if err := a.connect(); err != nil {
		return nil, fmt.Errorf("jtag: connect: %w", err)
	}
	if err := a.SetSpeed(a.speedHz); err != nil {
		return nil, fmt.Errorf("jtag: default speed: %w", err)
	}
	return a, nil
}

func (a *CMSISDAPAdapter) infoString(id byte) (string, error) {
	resp, err := a.link.WriteRead(a.protocol.EncodeInfo(id))
	if err != nil {
		return "", err
	}
	return a.protocol.DecodeInfo(resp)
}

// queryInfo fills AdapterInfo. Only the vendor string is mandatory; many
// probes leave the others empty.
func (a *CMSISDAPAdapter) queryInfo() error {
	vendor, err := a.infoString(InfoVendorID)
	if err != nil {
		return err
	}
	product, _ := a.infoString(InfoProductID)
	serial, _ := a.infoString(InfoSerialNum)
	firmware, _ := a.infoString(InfoFirmwareVer)

	a.info = AdapterInfo{
		Name:         "CMSIS-DAP Probe",
		Vendor:       vendor,
		Model:        product,
		SerialNumber: serial,
		Firmware:     firmware,
		MinFrequency: 1000,
		MaxFrequency: 10_000_000,
	}
	return nil
}

func (a *CMSISDAPAdapter) connect() error {
	resp, err := a.link.WriteRead(a.protocol.EncodeConnect(PortJTAG))
	if err != nil {
		return err
	}
	port, err := a.protocol.DecodeConnect(resp)
	if err != nil {
		return err
	}
	if port != PortJTAG {
		return fmt.Errorf("%w: probe connected port %d, want JTAG", ErrProtocolViolation, port)
	}
	a.connected = true
	return nil
}

// Info returns adapter capabilities
func (a *CMSISDAPAdapter) Info() (AdapterInfo, error) {
	return a.info, nil
}

func (a *CMSISDAPAdapter) ShiftIR(tms, tdi []byte, bits int) ([]byte, error) {
	return a.shift(tms, tdi, bits)
}

func (a *CMSISDAPAdapter) ShiftDR(tms, tdi []byte, bits int) ([]byte, error) {
	return a.shift(tms, tdi, bits)
}

func (a *CMSISDAPAdapter) shift(tms, tdi []byte, bits int) ([]byte, error) {
	if _, err := CheckShift(tms, tdi, bits); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sequences := buildSequences(tms, tdi, bits)
	tdo := make([]byte, (bits+7)/8)
	pos := 0

	for _, batch := range a.batches(sequences) {
		resp, err := a.link.WriteRead(a.protocol.EncodeJTAGSequence(batch))
		if err != nil {
			return nil, fmt.Errorf("jtag: shift: %w", err)
		}
		captured, err := a.protocol.DecodeJTAGSequence(resp, batch)
		if err != nil {
			return nil, err
		}
		for i, seq := range batch {
			copyBits(tdo, pos, captured[i], seq.TCKCount())
			pos += seq.TCKCount()
		}
	}
	glog.V(4).Infof("cmsis-dap: shifted %d bits in %d sequences", bits, len(sequences))
	return tdo, nil
}

// batches groups sequences so both the command and its response fit a packet.
func (a *CMSISDAPAdapter) batches(sequences []JTAGSequence) [][]JTAGSequence {
	limit := a.protocol.PacketSize
	var out [][]JTAGSequence
	var cur []JTAGSequence
	req, resp := 2, 2

	for _, seq := range sequences {
		r, s := SequenceCost(seq)
		if len(cur) > 0 && (req+r > limit || resp+s > limit || len(cur) == 255) {
			out = append(out, cur)
			cur, req, resp = nil, 2, 2
		}
		cur = append(cur, seq)
		req += r
		resp += s
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// copyBits copies n bits of src (from bit 0) into dst starting at bit pos.
func copyBits(dst []byte, pos int, src []byte, n int) {
	for i := 0; i < n; i++ {
		if src[i/8]&(1<<(uint(i)%8)) != 0 {
			dst[(pos+i)/8] |= 1 << (uint(pos+i) % 8)
		}
	}
}

// buildSequences splits a shift into runs of constant TMS of at most 64
// clocks, all capturing TDO. Missing TMS means TMS low throughout.
func buildSequences(tms, tdi []byte, bits int) []JTAGSequence {
	var sequences []JTAGSequence

	for pos := 0; pos < bits; {
		level := bitAt(tms, pos)
		n := 0
		for pos+n < bits && n < MaxSequenceBits && bitAt(tms, pos+n) == level {
			n++
		}

		chunk := make([]byte, (n+7)/8)
		for i := 0; i < n; i++ {
			if bitAt(tdi, pos+i) {
				chunk[i/8] |= 1 << (uint(i) % 8)
			}
		}
		sequences = append(sequences, NewJTAGSequence(n, level, true, chunk))
		pos += n
	}
	return sequences
}

// ResetTAP pulses the target reset line when hard is set, then clocks five
// TMS=1 cycles to reach Test-Logic-Reset.
func (a *CMSISDAPAdapter) ResetTAP(hard bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if hard {
		resp, err := a.link.WriteRead(a.protocol.EncodeResetTarget())
		if err != nil {
			return fmt.Errorf("jtag: hard reset: %w", err)
		}
		if err := a.protocol.DecodeResetTarget(resp); err != nil {
			return err
		}
	}

	seq := []JTAGSequence{NewJTAGSequence(5, true, false, []byte{0x00})}
	resp, err := a.link.WriteRead(a.protocol.EncodeJTAGSequence(seq))
	if err != nil {
		return fmt.Errorf("jtag: TAP reset: %w", err)
	}
	_, err = a.protocol.DecodeJTAGSequence(resp, seq)
	return err
}

// SetSpeed programs the probe's TCK clock.
func (a *CMSISDAPAdapter) SetSpeed(hz int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.info.CheckSpeed(hz); err != nil {
		return err
	}

	resp, err := a.link.WriteRead(a.protocol.EncodeSetClock(uint32(hz)))
	if err != nil {
		return fmt.Errorf("jtag: set speed: %w", err)
	}
	if err := a.protocol.DecodeSetClock(resp); err != nil {
		return err
	}
	a.speedHz = hz
	return nil
}

// ConfigureJTAGChain declares the IR lengths of the scan chain to the probe.
func (a *CMSISDAPAdapter) ConfigureJTAGChain(irLengths []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	resp, err := a.link.WriteRead(a.protocol.EncodeJTAGConfigure(irLengths))
	if err != nil {
		return fmt.Errorf("jtag: configure chain: %w", err)
	}
	return a.protocol.DecodeJTAGConfigure(resp)
}

// Close disconnects and releases resources
func (a *CMSISDAPAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		if resp, err := a.link.WriteRead(a.protocol.EncodeDisconnect()); err == nil {
			_ = a.protocol.DecodeDisconnect(resp)
		}
		a.connected = false
	}
	return a.link.Close()
}
