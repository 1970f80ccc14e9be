package jtag

import (
	"context"
	"fmt"
	"sort"

	"github.com/golang/glog"
	"github.com/google/gousb"
)

// InterfaceKind is the adapter family. The values double as adapter kinds
// in target profiles.
type InterfaceKind string

const (
	InterfaceKindCMSISDAP InterfaceKind = "cmsis-dap"
	InterfaceKindSim      InterfaceKind = "simulator"
)

// InterfaceInfo is one probe found on the host.
type InterfaceInfo struct {
	Kind        InterfaceKind
	Description string
	VendorID    uint16
	ProductID   uint16
}

// Label is the description, or the kind and USB ID when there is none.
func (i InterfaceInfo) Label() string {
	switch {
	case i.Description != "":
		return i.Description
	case i.Kind != "":
		return fmt.Sprintf("%s (%04X:%04X)", i.Kind, i.VendorID, i.ProductID)
	}
	return fmt.Sprintf("Interface %04X:%04X", i.VendorID, i.ProductID)
}

type usbID struct{ vid, pid uint16 }

// cmsisDAPProbes are the VID:PID pairs recognised as CMSIS-DAP probes.
var cmsisDAPProbes = map[usbID]string{
	{VendorIDRaspberryPi, ProductIDCMSISDAP}: "Raspberry Pi Debug Probe (CMSIS-DAP)",
	{0x0d28, 0x0204}:                         "DAPLink CMSIS-DAP",
	{0x1366, 0x0101}:                         "SEGGER J-Link CMSIS-DAP",
	{0x1fc9, 0x0143}:                         "NXP MCU-Link CMSIS-DAP",
}

// DiscoverInterfaces lists the CMSIS-DAP probes plugged in, ordered by USB
// ID, followed by the in-process simulator, which is always available.
// Missing USB permissions are not an error; the probes are simply not seen.
func DiscoverInterfaces(ctx context.Context) ([]InterfaceInfo, error) {
	usb := gousb.NewContext()
	defer usb.Close()

	var found []InterfaceInfo
	_, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if ctx.Err() != nil {
			return false
		}
		if info, ok := classifyUSBDevice(uint16(desc.Vendor), uint16(desc.Product)); ok {
			found = append(found, info)
		}
		// Never open: listing must not claim a probe another tool is using.
		return false
	})
	if err != nil && err != gousb.ErrorAccess {
		return found, fmt.Errorf("jtag: scan usb: %w", err)
	}
	sort.SliceStable(found, func(a, b int) bool {
		if found[a].VendorID != found[b].VendorID {
			return found[a].VendorID < found[b].VendorID
		}
		return found[a].ProductID < found[b].ProductID
	})
	glog.V(1).Infof("jtag: discovered %d usb probe(s)", len(found))

	return append(found, InterfaceInfo{Kind: InterfaceKindSim, Description: "Simulated RISC-V SoC (no hardware)"}), nil
}

func classifyUSBDevice(vid, pid uint16) (InterfaceInfo, bool) {
	desc, ok := cmsisDAPProbes[usbID{vid, pid}]
	if !ok {
		return InterfaceInfo{}, false
	}
	return InterfaceInfo{Kind: InterfaceKindCMSISDAP, Description: desc, VendorID: vid, ProductID: pid}, true
}
