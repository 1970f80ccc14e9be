package jtag

import (
	"bytes"
	"errors"
	"testing"
)

func TestCheckShift(t *testing.T) {
	if _, err := CheckShift(nil, nil, 0); err == nil {
		t.Fatalf("expected error for zero bits")
	}

	_, err := CheckShift([]byte{0x00}, nil, 16)
	if err == nil {
		t.Fatalf("expected error when TMS buffer too small")
	}

	if _, err := CheckShift(nil, []byte{0x01}, 8); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSimAdapterEchoShift(t *testing.T) {
	sim := NewSimAdapter(AdapterInfo{Name: "sim"})
	tdo, err := sim.ShiftDR([]byte{0xAA}, []byte{0xCC}, 8)
	if err != nil {
		t.Fatalf("ShiftDR returned error: %v", err)
	}
	if !bytes.Equal(tdo, []byte{0xCC}) {
		t.Fatalf("tdo = %X, want CC", tdo)
	}

	last := sim.LastShift()
	if last.Region != ShiftRegionDR || last.Bits != 8 {
		t.Fatalf("unexpected last shift metadata: %+v", last)
	}
}

func TestSimAdapterHook(t *testing.T) {
	sim := NewSimAdapter(AdapterInfo{Name: "sim"})
	sim.OnShift = func(region ShiftRegion, _, _ []byte, bits int) ([]byte, error) {
		if region != ShiftRegionIR || bits != 4 {
			t.Fatalf("unexpected hook args: region=%s bits=%d", region, bits)
		}
		return []byte{0x0F}, nil
	}

	tdo, err := sim.ShiftIR(nil, nil, 4)
	if err != nil {
		t.Fatalf("ShiftIR returned error: %v", err)
	}
	if !bytes.Equal(tdo, []byte{0x0F}) {
		t.Fatalf("tdo = %X, want 0F", tdo)
	}
}

func TestSimAdapterInjectedFaults(t *testing.T) {
	sim := NewSimAdapter(AdapterInfo{})
	sim.InjectFault(ErrLinkTimeout, 2)

	for i := 0; i < 2; i++ {
		if _, err := sim.ShiftDR(nil, nil, 8); !errors.Is(err, ErrLinkTimeout) {
			t.Fatalf("shift %d err = %v, want ErrLinkTimeout", i, err)
		}
	}
	if _, err := sim.ShiftDR(nil, nil, 8); err != nil {
		t.Fatalf("third shift returned error: %v", err)
	}
	if sim.PendingFaults() != 0 || sim.ShiftCount() != 3 {
		t.Fatalf("pending=%d shifts=%d", sim.PendingFaults(), sim.ShiftCount())
	}
}

func TestSimAdapterResetsAndSpeed(t *testing.T) {
	sim := NewSimAdapter(AdapterInfo{})
	var hooked []bool
	sim.OnReset = func(hard bool) error {
		hooked = append(hooked, hard)
		return nil
	}

	if err := sim.SetSpeed(1_000_000); err != nil {
		t.Fatalf("SetSpeed returned error: %v", err)
	}
	if err := sim.SetSpeed(0); err == nil {
		t.Fatalf("expected error for zero speed")
	}

	if err := sim.ResetTAP(false); err != nil {
		t.Fatalf("ResetTAP returned error: %v", err)
	}
	if err := sim.ResetTAP(true); err != nil {
		t.Fatalf("ResetTAP hard returned error: %v", err)
	}
	if soft, hard := sim.ResetCounts(); soft != 2 || hard != 1 {
		t.Fatalf("ResetCounts = %d soft / %d hard, want 2/1", soft, hard)
	}
	if len(hooked) != 2 || hooked[0] || !hooked[1] {
		t.Fatalf("reset hook saw %v", hooked)
	}
}

func TestBitPacking(t *testing.T) {
	bits := Uint64ToBits(0x2D5, 10)
	packed := PackBits(bits)
	if !bytes.Equal(packed, []byte{0xD5, 0x02}) {
		t.Fatalf("PackBits = % X", packed)
	}
	if got := BitsToUint64(UnpackBits(packed, 10)); got != 0x2D5 {
		t.Fatalf("round trip = 0x%X", got)
	}
	if got := UnpackBits([]byte{0xFF}, 12); got[9] {
		t.Fatalf("bits past the buffer must read as zero")
	}
}

func TestDMIEncoding(t *testing.T) {
	v := EncodeDMI(0x11, 0xCAFEF00D, DMIOpWrite)
	addr, data, op := DecodeDMI(v, 7)
	if addr != 0x11 || data != 0xCAFEF00D || op != DMIOpWrite {
		t.Fatalf("DecodeDMI = %x %x %d", addr, data, op)
	}
	if DMIWidth(7) != 41 {
		t.Fatalf("DMIWidth(7) = %d", DMIWidth(7))
	}
}

func TestAdapterInfoSpeedRange(t *testing.T) {
	open := AdapterInfo{Name: "sim"}
	if err := open.CheckSpeed(50_000_000); err != nil {
		t.Fatalf("unbounded adapter rejected 50 MHz: %v", err)
	}
	probe := AdapterInfo{Vendor: "OpenTraceLab", Model: "probe", SerialNumber: "E661", MinFrequency: 1000, MaxFrequency: 10_000_000}
	for _, hz := range []int{0, 999, 10_000_001} {
		if err := probe.CheckSpeed(hz); err == nil {
			t.Errorf("CheckSpeed(%d) accepted", hz)
		}
	}
	if err := probe.CheckSpeed(1_000_000); err != nil {
		t.Fatalf("CheckSpeed(1 MHz): %v", err)
	}
	if got := probe.String(); got != "OpenTraceLab probe (E661)" {
		t.Fatalf("String() = %q", got)
	}
	if got := open.String(); got != "sim" {
		t.Fatalf("String() = %q", got)
	}
}
