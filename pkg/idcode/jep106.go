package idcode

import "fmt"

// Manufacturer is one JEP106 assignment.
type Manufacturer struct {
	Code uint16
	Name string
}

// manufacturers lists JEP106 codes seen on RISC-V and FPGA debug targets,
// keyed by the 11-bit IDCODE field.
var manufacturers = map[uint16]string{
	0x001: "AMD",
	0x009: "Intel",
	0x015: "NXP",
	0x017: "Texas Instruments",
	0x020: "STMicroelectronics",
	0x049: "Xilinx",
	0x06E: "Altera",
	0x23B: "ARM",
	0x272: "Espressif",
	0x489: "SiFive",
	0x493: "Raspberry Pi",
}

// LookupManufacturer names a JEP106 code. Unknown codes get a placeholder
// and false.
func LookupManufacturer(code uint16) (Manufacturer, bool) {
	if name, ok := manufacturers[code]; ok {
		return Manufacturer{Code: code, Name: name}, true
	}
	return Manufacturer{Code: code, Name: fmt.Sprintf("Unknown (0x%03X)", code)}, false
}
