// Package debug is the host side of the debug link: a Transport that resets
// the target, brings up the RISC-V debug module and moves memory and
// registers across it.
package debug

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/juju/errors"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/jtag"
)

var (
	// ErrLinkTimeout: the link did not answer within its bound. Transient.
	ErrLinkTimeout = jtag.ErrLinkTimeout
	// ErrProtocolViolation: malformed or out-of-sequence exchange. Fatal.
	ErrProtocolViolation = jtag.ErrProtocolViolation
)

// IsLinkTimeout reports whether err, however annotated, is a link timeout.
func IsLinkTimeout(err error) bool {
	return errors.Cause(err) == ErrLinkTimeout || stderrors.Is(err, ErrLinkTimeout)
}

// IsProtocolViolation reports whether err, however annotated, is a protocol
// violation.
func IsProtocolViolation(err error) bool {
	return errors.Cause(err) == ErrProtocolViolation || stderrors.Is(err, ErrProtocolViolation)
}

// Transport is the debug link as the loader and run controller see it.
type Transport interface {
	ResetMaster(ctx context.Context) error
	InitLink(ctx context.Context) error
	WriteMemory(ctx context.Context, addr uint64, data []byte) error
	ReadMemory(ctx context.Context, addr uint64, n int) ([]byte, error)
	WriteRegister(ctx context.Context, id Register, value uint32) error
	ReadRegister(ctx context.Context, id Register) (uint32, error)
}

// State is the session lifecycle. It only moves forward.
type State int

const (
	StateUnattached State = iota
	StateReset
	StateLinkReady
	StateRunning
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateUnattached:
		return "unattached"
	case StateReset:
		return "reset"
	case StateLinkReady:
		return "link-ready"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Register names a core register or one of the session's pseudo registers.
// Core register IDs are abstract command regno values.
type Register uint32

const (
	// RegPC is the debug PC (CSR dpc): the address the hart resumes at.
	RegPC Register = 0x7b1
	// RegRunControl accepts RunResume / RunHalt and reads back
	// RunStateRunning / RunStateHalted.
	RegRunControl Register = 0x10000
	// RegEOC is the end-of-computation word at Config.EOCAddress.
	RegEOC Register = 0x10001

	regGPRBase Register = 0x1000
)

// RegGPR names integer register xN.
func RegGPR(n int) Register {
	return regGPRBase + Register(n)
}

func (r Register) String() string {
	switch {
	case r == RegPC:
		return "pc"
	case r == RegRunControl:
		return "run-control"
	case r == RegEOC:
		return "eoc"
	case r >= regGPRBase && r < regGPRBase+32:
		return fmt.Sprintf("x%d", r-regGPRBase)
	}
	return fmt.Sprintf("reg(0x%x)", uint32(r))
}

func (r Register) isCore() bool {
	return r == RegPC || (r >= regGPRBase && r < regGPRBase+32)
}

// Run-control values.
const (
	RunHalt   uint32 = 0
	RunResume uint32 = 1

	RunStateHalted  uint32 = 0
	RunStateRunning uint32 = 1
)

// EOC word layout: bit 31 set once the program finished, low bits carry its
// exit code.
const (
	EOCDone     uint32 = 1 << 31
	EOCCodeMask uint32 = EOCDone - 1
)

// DefaultEOCAddress is the SoC control register the runtime writes on exit.
const DefaultEOCAddress = 0x1A1040A0

// Config tunes a Session.
type Config struct {
	SpeedHz int
	// Retries is how many times one operation is repeated after a link
	// timeout before the timeout is surfaced.
	Retries int
	// ChunkSize is the largest memory transaction in bytes.
	ChunkSize int
	// MaxPolls bounds every wait on the debug module.
	MaxPolls int
	// PollDelay spaces those polls. Zero polls back to back.
	PollDelay  time.Duration
	EOCAddress uint32
	// IdleCycles is the initial Run-Test/Idle padding after DMI scans.
	IdleCycles int
}

// DefaultConfig returns the settings used by the CLI.
func DefaultConfig() Config {
	return Config{
		SpeedHz:    1_000_000,
		Retries:    3,
		ChunkSize:  256,
		MaxPolls:   1000,
		EOCAddress: DefaultEOCAddress,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SpeedHz <= 0 {
		c.SpeedHz = d.SpeedHz
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.ChunkSize < 4 {
		c.ChunkSize = d.ChunkSize
	}
	c.ChunkSize &^= 3
	if c.MaxPolls <= 0 {
		c.MaxPolls = d.MaxPolls
	}
	if c.EOCAddress == 0 {
		c.EOCAddress = d.EOCAddress
	}
	return c
}
