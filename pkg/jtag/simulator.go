package jtag

import "sync"

// ShiftRegion says which scan a shift belongs to.
type ShiftRegion uint8

const (
	ShiftRegionIR ShiftRegion = iota
	ShiftRegionDR
)

func (r ShiftRegion) String() string {
	if r == ShiftRegionIR {
		return "IR"
	}
	return "DR"
}

// ShiftHook produces TDO for a shift. A simulated device plugs in here.
type ShiftHook func(region ShiftRegion, tms, tdi []byte, bits int) ([]byte, error)

// ResetHook observes TAP resets.
type ResetHook func(hard bool) error

// ShiftOp is a recorded shift request.
type ShiftOp struct {
	Region ShiftRegion
	TMS    []byte
	TDI    []byte
	Bits   int
}

func (op ShiftOp) clone() ShiftOp {
	op.TMS = append([]byte(nil), op.TMS...)
	op.TDI = append([]byte(nil), op.TDI...)
	return op
}

// SimAdapter is an in-process Adapter. Without OnShift it echoes TDI back
// as TDO. Faults queued with InjectFault fail shifts before the hook sees
// them, which is how link timeouts are provoked. Safe for concurrent use;
// hooks run under its lock, so they are serialised too.
type SimAdapter struct {
	InfoData AdapterInfo
	SpeedHz  int

	OnShift ShiftHook
	OnReset ResetHook

	mu     sync.Mutex
	last   ShiftOp
	shifts int
	soft   int
	hard   int
	faults []error
}

// NewSimAdapter returns an adapter reporting info.
func NewSimAdapter(info AdapterInfo) *SimAdapter {
	return &SimAdapter{InfoData: info}
}

// InjectFault queues count failures with err behind any already queued.
func (s *SimAdapter) InjectFault(err error, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ; count > 0; count-- {
		s.faults = append(s.faults, err)
	}
}

// PendingFaults is the number of queued faults still to fire.
func (s *SimAdapter) PendingFaults() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.faults)
}

// LastShift returns a copy of the most recent shift request.
func (s *SimAdapter) LastShift() ShiftOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last.clone()
}

// ShiftCount counts shifts that reached the adapter, failed ones included.
func (s *SimAdapter) ShiftCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shifts
}

// ResetCounts returns all resets and, separately, the hard ones among them.
func (s *SimAdapter) ResetCounts() (soft, hard int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.soft, s.hard
}

func (s *SimAdapter) Info() (AdapterInfo, error) { return s.InfoData, nil }

func (s *SimAdapter) ShiftIR(tms, tdi []byte, bits int) ([]byte, error) {
	return s.shift(ShiftRegionIR, tms, tdi, bits)
}

func (s *SimAdapter) ShiftDR(tms, tdi []byte, bits int) ([]byte, error) {
	return s.shift(ShiftRegionDR, tms, tdi, bits)
}

func (s *SimAdapter) ResetTAP(hard bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.soft++
	if hard {
		s.hard++
	}
	if s.OnReset == nil {
		return nil
	}
	return s.OnReset(hard)
}

func (s *SimAdapter) SetSpeed(hz int) error {
	if err := s.InfoData.CheckSpeed(hz); err != nil {
		return err
	}
	s.mu.Lock()
	s.SpeedHz = hz
	s.mu.Unlock()
	return nil
}

func (s *SimAdapter) shift(region ShiftRegion, tms, tdi []byte, bits int) ([]byte, error) {
	n, err := CheckShift(tms, tdi, bits)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.shifts++
	s.last = ShiftOp{Region: region, TMS: tms, TDI: tdi, Bits: bits}.clone()

	if len(s.faults) > 0 {
		err := s.faults[0]
		s.faults = s.faults[1:]
		return nil, err
	}
	if s.OnShift != nil {
		return s.OnShift(region, tms, tdi, bits)
	}
	tdo := make([]byte, n)
	copy(tdo, tdi)
	return tdo, nil
}
