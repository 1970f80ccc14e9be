package jtag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/google/gousb"
)

const (
	// Raspberry Pi debug probe identifiers.
	VendorIDRaspberryPi = 0x2E8A
	ProductIDCMSISDAP   = 0x000C

	// DefaultPacketSize is the CMSIS-DAP v1 HID/bulk packet size.
	DefaultPacketSize = 64
	// DefaultTimeout bounds every USB transfer.
	DefaultTimeout = time.Second
)

// USBTransport moves CMSIS-DAP packets over a vendor bulk interface.
// Every transfer is bounded by the transport timeout; an expired transfer
// surfaces as ErrLinkTimeout.
type USBTransport struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	packetSize int
	timeout    time.Duration
}

// USBAdapterID identifies one USB adapter. Serial is empty for adapters
// that do not report one.
type USBAdapterID struct {
	VendorID  uint16
	ProductID uint16
	Serial    string
}

// Key names the adapter uniquely enough for per-adapter locks.
func (p USBAdapterID) Key() string {
	if p.Serial == "" {
		return fmt.Sprintf("%04x-%04x", p.VendorID, p.ProductID)
	}
	return fmt.Sprintf("%04x-%04x-%s", p.VendorID, p.ProductID, p.Serial)
}

func (p USBAdapterID) String() string {
	if p.Serial == "" {
		return fmt.Sprintf("%04X:%04X", p.VendorID, p.ProductID)
	}
	return fmt.Sprintf("%04X:%04X/%s", p.VendorID, p.ProductID, p.Serial)
}

// FindUSBAdapter resolves which device NewUSBTransport would open for the
// same arguments without claiming it. An empty serial matches any device.
func FindUSBAdapter(vid, pid uint16, serial string) (USBAdapterID, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()
	dev, sn, err := openUSBDevice(ctx, vid, pid, serial)
	if err != nil {
		return USBAdapterID{}, err
	}
	dev.Close()
	return USBAdapterID{VendorID: vid, ProductID: pid, Serial: sn}, nil
}

// openUSBDevice opens the first VID:PID match whose serial number is
// serial, or the first match when serial is empty.
func openUSBDevice(ctx *gousb.Context, vid, pid uint16, serial string) (*gousb.Device, string, error) {
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == vid && uint16(desc.Product) == pid
	})
	// OpenDevices can fail on one device and still return the others.
	if err != nil && len(devs) == 0 {
		return nil, "", fmt.Errorf("jtag: usb enumerate: %w", err)
	}
	serials := make([]string, len(devs))
	for i, dev := range devs {
		serials[i], _ = dev.SerialNumber()
		glog.V(2).Infof("cmsis-dap: candidate %04X:%04X serial %q", vid, pid, serials[i])
	}
	pick := matchSerial(serials, serial)
	for i, dev := range devs {
		if i != pick {
			dev.Close()
		}
	}
	if pick < 0 {
		id := USBAdapterID{VendorID: vid, ProductID: pid, Serial: serial}
		return nil, "", fmt.Errorf("jtag: no adapter %s found", id)
	}
	return devs[pick], serials[pick], nil
}

// matchSerial returns the index of the first serial equal to want, or of the
// first entry when want is empty; -1 when nothing matches.
func matchSerial(serials []string, want string) int {
	for i, sn := range serials {
		if want == "" || sn == want {
			return i
		}
	}
	return -1
}

// NewUSBTransport opens the adapter with the given VID:PID and serial number.
// An empty serial takes the first one found.
func NewUSBTransport(vid, pid uint16, serial string) (*USBTransport, error) {
	ctx := gousb.NewContext()

	dev, sn, err := openUSBDevice(ctx, vid, pid, serial)
	if err != nil {
		ctx.Close()
		return nil, err
	}

	// Not supported on every platform.
	_ = dev.SetAutoDetach(true)

	t := &USBTransport{
		ctx:        ctx,
		dev:        dev,
		packetSize: DefaultPacketSize,
		timeout:    DefaultTimeout,
	}
	if err := t.claimInterface(); err != nil {
		t.Close()
		return nil, err
	}
	glog.V(1).Infof("cmsis-dap: opened %04X:%04X serial %q, packet size %d", vid, pid, sn, t.packetSize)
	return t, nil
}

// claimInterface finds the vendor-class interface and its bulk endpoints.
func (t *USBTransport) claimInterface() error {
	cfg, err := t.dev.Config(1)
	if err != nil {
		return fmt.Errorf("jtag: usb config: %w", err)
	}
	t.cfg = cfg

	num := 0
	for _, desc := range cfg.Desc.Interfaces {
		if len(desc.AltSettings) > 0 && desc.AltSettings[0].Class == gousb.ClassVendorSpec {
			num = desc.Number
			break
		}
	}

	intf, err := cfg.Interface(num, 0)
	if err != nil {
		return fmt.Errorf("jtag: claim interface %d: %w", num, err)
	}
	t.intf = intf

	var outAddr, inAddr int
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch {
		case ep.Direction == gousb.EndpointDirectionOut && outAddr == 0:
			outAddr = ep.Number
		case ep.Direction == gousb.EndpointDirectionIn && inAddr == 0:
			inAddr = ep.Number
			t.packetSize = ep.MaxPacketSize
		}
	}
	if outAddr == 0 || inAddr == 0 {
		return fmt.Errorf("jtag: bulk endpoints not found on interface %d", num)
	}

	if t.epOut, err = intf.OutEndpoint(outAddr); err != nil {
		return fmt.Errorf("jtag: open OUT endpoint: %w", err)
	}
	if t.epIn, err = intf.InEndpoint(inAddr); err != nil {
		return fmt.Errorf("jtag: open IN endpoint: %w", err)
	}
	return nil
}

// classifyUSBError maps expired transfers to ErrLinkTimeout.
func classifyUSBError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, gousb.ErrorTimeout) ||
		errors.Is(err, gousb.TransferTimedOut) {
		return fmt.Errorf("%w: usb %s: %v", ErrLinkTimeout, op, err)
	}
	return fmt.Errorf("jtag: usb %s: %w", op, err)
}

// WriteRead sends one command packet and returns the response packet.
func (t *USBTransport) WriteRead(cmd []byte) ([]byte, error) {
	if len(cmd) > t.packetSize {
		return nil, fmt.Errorf("%w: command of %d bytes exceeds packet size %d", ErrProtocolViolation, len(cmd), t.packetSize)
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	packet := make([]byte, t.packetSize)
	copy(packet, cmd)
	glog.V(4).Infof("cmsis-dap: >> % X", cmd)
	if _, err := t.epOut.WriteContext(ctx, packet); err != nil {
		return nil, classifyUSBError(ctx, "write", err)
	}

	resp := make([]byte, t.packetSize)
	n, err := t.epIn.ReadContext(ctx, resp)
	if err != nil {
		return nil, classifyUSBError(ctx, "read", err)
	}
	glog.V(4).Infof("cmsis-dap: << % X", resp[:n])
	return resp[:n], nil
}

// GetPacketSize returns the negotiated packet size
func (t *USBTransport) GetPacketSize() int {
	return t.packetSize
}

// SetTimeout changes the per-transfer bound.
func (t *USBTransport) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		t.timeout = timeout
	}
}

// Close releases USB resources
func (t *USBTransport) Close() error {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.cfg != nil {
		t.cfg.Close()
		t.cfg = nil
	}
	if t.dev != nil {
		t.dev.Close()
		t.dev = nil
	}
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	return nil
}
