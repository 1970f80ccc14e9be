// Package tap models the IEEE 1149.1 TAP controller. It performs no I/O; it
// tracks the controller state on the host side and computes the TMS patterns a
// link adapter has to clock to move between states.
package tap

import (
	"fmt"
)

// State represents one of the 16 defined IEEE 1149.1 TAP controller states.
type State uint8

const (
	StateTestLogicReset State = iota
	StateRunTestIdle
	StateSelectDRScan
	StateCaptureDR
	StateShiftDR
	StateExit1DR
	StatePauseDR
	StateExit2DR
	StateUpdateDR
	StateSelectIRScan
	StateCaptureIR
	StateShiftIR
	StateExit1IR
	StatePauseIR
	StateExit2IR
	StateUpdateIR

	numStates
)

var stateNames = [numStates]string{
	StateTestLogicReset: "TestLogicReset",
	StateRunTestIdle:    "RunTestIdle",
	StateSelectDRScan:   "SelectDRScan",
	StateCaptureDR:      "CaptureDR",
	StateShiftDR:        "ShiftDR",
	StateExit1DR:        "Exit1DR",
	StatePauseDR:        "PauseDR",
	StateExit2DR:        "Exit2DR",
	StateUpdateDR:       "UpdateDR",
	StateSelectIRScan:   "SelectIRScan",
	StateCaptureIR:      "CaptureIR",
	StateShiftIR:        "ShiftIR",
	StateExit1IR:        "Exit1IR",
	StatePauseIR:        "PauseIR",
	StateExit2IR:        "Exit2IR",
	StateUpdateIR:       "UpdateIR",
}

func (s State) String() string {
	if s.Valid() {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Valid reports whether s is one of the 16 controller states.
func (s State) Valid() bool {
	return s < numStates
}

// IsIR reports whether s belongs to the instruction register column of the
// state diagram.
func (s State) IsIR() bool {
	return s >= StateSelectIRScan && s <= StateUpdateIR
}

// IsShift reports whether TDI is shifted into a register in state s.
func (s State) IsShift() bool {
	return s == StateShiftDR || s == StateShiftIR
}

// Sequence captures the TMS drive pattern and the sequence of states that result
// from applying that pattern to the TAP controller. States has one more entry
// than TMS: the starting state.
type Sequence struct {
	TMS    []bool
	States []State
}

// Final returns the state the sequence ends in.
func (s Sequence) Final() State {
	return s.States[len(s.States)-1]
}

// transitions[state][tms] is the state after one TCK edge.
var transitions = [numStates][2]State{
	StateTestLogicReset: {StateRunTestIdle, StateTestLogicReset},
	StateRunTestIdle:    {StateRunTestIdle, StateSelectDRScan},
	StateSelectDRScan:   {StateCaptureDR, StateSelectIRScan},
	StateCaptureDR:      {StateShiftDR, StateExit1DR},
	StateShiftDR:        {StateShiftDR, StateExit1DR},
	StateExit1DR:        {StatePauseDR, StateUpdateDR},
	StatePauseDR:        {StatePauseDR, StateExit2DR},
	StateExit2DR:        {StateShiftDR, StateUpdateDR},
	StateUpdateDR:       {StateRunTestIdle, StateSelectDRScan},
	StateSelectIRScan:   {StateCaptureIR, StateTestLogicReset},
	StateCaptureIR:      {StateShiftIR, StateExit1IR},
	StateShiftIR:        {StateShiftIR, StateExit1IR},
	StateExit1IR:        {StatePauseIR, StateUpdateIR},
	StatePauseIR:        {StatePauseIR, StateExit2IR},
	StateExit2IR:        {StateShiftIR, StateUpdateIR},
	StateUpdateIR:       {StateRunTestIdle, StateSelectDRScan},
}

// NextState returns the next TAP state after clocking TCK with the provided TMS
// value. It panics on an invalid state, which cannot be produced through the
// exported API.
func NextState(current State, tms bool) State {
	if !current.Valid() {
		panic(fmt.Sprintf("tap: unhandled state %d", current))
	}
	if tms {
		return transitions[current][1]
	}
	return transitions[current][0]
}

// StateMachine tracks the TAP controller state locally.
type StateMachine struct {
	state State
}

// NewStateMachine creates a TAP state machine initialized to Test-Logic-Reset.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateTestLogicReset}
}

// State reports the current TAP state tracked by the machine.
func (m *StateMachine) State() State {
	return m.state
}

// Clock advances the machine one TCK cycle with the provided TMS bit and
// returns the new state.
func (m *StateMachine) Clock(tms bool) State {
	m.state = NextState(m.state, tms)
	return m.state
}

// ClockAll applies a TMS pattern and returns the final state.
func (m *StateMachine) ClockAll(tms []bool) State {
	for _, bit := range tms {
		m.Clock(bit)
	}
	return m.state
}

// Reset clocks five consecutive TMS=1 cycles, which reaches Test-Logic-Reset
// from any state. The sequence is returned so it can be forwarded to an
// adapter.
func (m *StateMachine) Reset() Sequence {
	seq := Sequence{
		TMS:    make([]bool, 5),
		States: make([]State, 6),
	}
	seq.States[0] = m.state
	for i := 0; i < 5; i++ {
		seq.TMS[i] = true
		seq.States[i+1] = m.Clock(true)
	}
	return seq
}

// GoTo computes the minimal sequence of TMS values needed to reach the target
// state from the current state. It updates the machine as a side effect.
func (m *StateMachine) GoTo(target State) (Sequence, error) {
	path, err := Path(m.state, target)
	if err != nil {
		return Sequence{}, err
	}
	m.ClockAll(path.TMS)
	return path, nil
}

// Path finds the shortest TMS pattern from one state to another with a
// breadth-first search over the state diagram.
func Path(from, to State) (Sequence, error) {
	if !from.Valid() {
		return Sequence{}, fmt.Errorf("tap: invalid start state %d", from)
	}
	if !to.Valid() {
		return Sequence{}, fmt.Errorf("tap: invalid target state %d", to)
	}
	if from == to {
		return Sequence{States: []State{from}}, nil
	}

	var (
		prev    [numStates]State
		prevTMS [numStates]bool
		seen    [numStates]bool
	)
	seen[from] = true
	queue := []State{from}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, bit := range []bool{false, true} {
			next := NextState(cur, bit)
			if seen[next] {
				continue
			}
			seen[next] = true
			prev[next] = cur
			prevTMS[next] = bit
			if next == to {
				return unwind(from, to, prev, prevTMS), nil
			}
			queue = append(queue, next)
		}
	}

	return Sequence{}, fmt.Errorf("tap: no path from %s to %s", from, to)
}

func unwind(from, to State, prev [numStates]State, prevTMS [numStates]bool) Sequence {
	var states []State
	var tms []bool
	for s := to; s != from; s = prev[s] {
		states = append(states, s)
		tms = append(tms, prevTMS[s])
	}
	states = append(states, from)

	for i, j := 0, len(states)-1; i < j; i, j = i+1, j-1 {
		states[i], states[j] = states[j], states[i]
	}
	for i, j := 0, len(tms)-1; i < j; i, j = i+1, j-1 {
		tms[i], tms[j] = tms[j], tms[i]
	}
	return Sequence{TMS: tms, States: states}
}

// ScanPattern builds the complete TMS pattern for one register scan that
// starts and ends in Run-Test/Idle: navigate to Shift-IR or Shift-DR, clock
// length bits (TMS high on the last one), pass through Update and return to
// idle. It also returns the bit index of the first shifted bit so callers can
// place TDI data and extract TDO.
func ScanPattern(ir bool, length int) (tms []bool, shiftStart int) {
	if ir {
		tms = append(tms, true, true, false, false) // Select-DR, Select-IR, Capture-IR, Shift-IR
	} else {
		tms = append(tms, true, false, false) // Select-DR, Capture-DR, Shift-DR
	}
	shiftStart = len(tms)
	for i := 0; i < length; i++ {
		tms = append(tms, i == length-1)
	}
	tms = append(tms, true, false) // Update, Run-Test/Idle
	return tms, shiftStart
}
