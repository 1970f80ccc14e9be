package debug

import (
	"context"
	"io"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/dtm"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/idcode"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/jtag"
)

// Session implements Transport over a JTAG adapter talking to a RISC-V debug
// transport module. Calls are blocking and must not overlap.
type Session struct {
	cfg     Config
	adapter jtag.Adapter
	dtm     *dtm.Driver

	state   State
	id      idcode.IDCode
	sbasize int
}

var _ Transport = (*Session)(nil)

// NewSession wraps adapter. Nothing is sent until ResetMaster.
func NewSession(adapter jtag.Adapter, cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:     cfg,
		adapter: adapter,
		dtm:     dtm.New(adapter, dtm.Config{IdleCycles: cfg.IdleCycles}),
	}
}

// State reports where the session is in its lifecycle.
func (s *Session) State() State { return s.state }

// IDCode returns the IDCODE captured by ResetMaster.
func (s *Session) IDCode() idcode.IDCode { return s.id }

// Config returns the effective configuration.
func (s *Session) Config() Config { return s.cfg }

// LinkStats exposes the DTM counters.
func (s *Session) LinkStats() dtm.Stats { return s.dtm.Stats() }

// Close releases the adapter when it owns a device handle.
func (s *Session) Close() error {
	if c, ok := s.adapter.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func violation(format string, args ...interface{}) error {
	return errors.Annotatef(ErrProtocolViolation, format, args...)
}

// retry runs fn until it succeeds, fails with something other than a link
// timeout, or exhausts Config.Retries.
func (s *Session) retry(ctx context.Context, what string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return errors.Trace(cerr)
		}
		err = fn()
		if err == nil || !IsLinkTimeout(err) {
			return errors.Trace(err)
		}
		if attempt < s.cfg.Retries {
			glog.Warningf("debug: %s: link timeout, retrying (%d/%d): %v", what, attempt+1, s.cfg.Retries, err)
		}
	}
	return errors.Annotatef(err, "%s: gave up after %d attempts", what, s.cfg.Retries+1)
}

// poll reads a DM register until done accepts it or MaxPolls runs out.
func (s *Session) poll(ctx context.Context, reg uint32, what string, done func(uint32) bool) (uint32, error) {
	var v uint32
	for i := 0; i < s.cfg.MaxPolls; i++ {
		var err error
		if v, err = s.dtm.ReadDMI(ctx, reg); err != nil {
			return v, errors.Trace(err)
		}
		if done(v) {
			return v, nil
		}
		if s.cfg.PollDelay > 0 {
			select {
			case <-ctx.Done():
				return v, errors.Trace(ctx.Err())
			case <-time.After(s.cfg.PollDelay):
			}
		}
	}
	return v, errors.Annotatef(ErrLinkTimeout, "%s: no response after %d polls (last 0x%08x)", what, s.cfg.MaxPolls, v)
}

// ResetMaster resets the TAP (and the target, when the adapter can) and
// checks that a device answers with a plausible IDCODE.
func (s *Session) ResetMaster(ctx context.Context) error {
	if s.state != StateUnattached && s.state != StateReset {
		return violation("reset from state %s", s.state)
	}
	err := s.retry(ctx, "reset", func() error {
		if err := s.dtm.Reset(true); err != nil {
			return errors.Trace(err)
		}
		raw, err := s.dtm.ReadIDCODE()
		if err != nil {
			return errors.Trace(err)
		}
		id, err := idcode.Validate(raw)
		if err != nil {
			return errors.Annotatef(ErrLinkTimeout, "%v", err)
		}
		s.id = id
		return nil
	})
	if err != nil {
		return errors.Trace(err)
	}
	s.state = StateReset
	glog.V(1).Infof("debug: target reset, IDCODE %s", s.id)
	return nil
}

// InitLink brings up the debug module: DTM version check, DM activation,
// hart halt and system bus capability check.
func (s *Session) InitLink(ctx context.Context) error {
	switch s.state {
	case StateUnattached:
		return violation("init link before reset")
	case StateReset:
	default:
		return nil
	}

	if err := s.adapter.SetSpeed(s.cfg.SpeedHz); err != nil && errors.Cause(err) != jtag.ErrNotImplemented {
		return errors.Annotatef(err, "set adapter speed")
	}

	err := s.retry(ctx, "init link", func() error {
		cs, err := s.dtm.ReadDTMCS()
		if err != nil {
			return errors.Trace(err)
		}
		if cs.Version != jtag.DTMCSVersion013 {
			return violation("unsupported DTM version %d", cs.Version)
		}
		if err := s.dtm.DMIReset(); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(s.activate(ctx))
	})
	if err != nil {
		return errors.Trace(err)
	}

	s.state = StateLinkReady
	glog.V(1).Infof("debug: link ready (sbasize %d)", s.sbasize)
	return nil
}

func (s *Session) activate(ctx context.Context) error {
	if err := s.dtm.WriteDMI(ctx, DMControl, DMControlDMActive); err != nil {
		return errors.Trace(err)
	}
	if _, err := s.poll(ctx, DMControl, "dmactive", func(v uint32) bool { return v&DMControlDMActive != 0 }); err != nil {
		return errors.Trace(err)
	}

	status, err := s.dtm.ReadDMI(ctx, DMStatus)
	if err != nil {
		return errors.Trace(err)
	}
	if v := status & DMStatusVersionMask; v != DMStatusVersion013 {
		return violation("unsupported debug module version %d", v)
	}
	if status&DMStatusAuthenticated == 0 {
		return violation("debug module requires authentication")
	}

	if err := s.halt(ctx); err != nil {
		return errors.Trace(err)
	}

	sbcs, err := s.dtm.ReadDMI(ctx, DMSBCS)
	if err != nil {
		return errors.Trace(err)
	}
	if sbcs>>SBCSVersionShift != SBCSVersion1 {
		return violation("system bus access version %d", sbcs>>SBCSVersionShift)
	}
	if sbcs&SBCSSupports32 == 0 {
		return violation("system bus lacks 32-bit access")
	}
	s.sbasize = int((sbcs & SBCSASizeMask) >> SBCSASizeShift)
	if s.sbasize < 32 {
		return violation("system bus address width %d", s.sbasize)
	}
	return nil
}

func (s *Session) halt(ctx context.Context) error {
	if err := s.dtm.WriteDMI(ctx, DMControl, DMControlHaltReq|DMControlDMActive); err != nil {
		return errors.Trace(err)
	}
	if _, err := s.poll(ctx, DMStatus, "halt", func(v uint32) bool { return v&DMStatusAllHalted != 0 }); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.dtm.WriteDMI(ctx, DMControl, DMControlDMActive))
}

func (s *Session) resume(ctx context.Context) error {
	if err := s.dtm.WriteDMI(ctx, DMControl, DMControlResumeReq|DMControlDMActive); err != nil {
		return errors.Trace(err)
	}
	if _, err := s.poll(ctx, DMStatus, "resume", func(v uint32) bool { return v&DMStatusAllResumeAck != 0 }); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.dtm.WriteDMI(ctx, DMControl, DMControlDMActive))
}
