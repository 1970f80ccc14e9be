package debug

import (
	"context"
	"encoding/binary"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// WriteRegister sets a core register, drives run control, or writes the EOC
// word, depending on id.
func (s *Session) WriteRegister(ctx context.Context, id Register, value uint32) error {
	switch {
	case id == RegRunControl:
		return s.runControl(ctx, value)
	case id == RegEOC:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], value)
		return errors.Trace(s.WriteMemory(ctx, uint64(s.cfg.EOCAddress), b[:]))
	case id.isCore():
		if err := s.requireHalted("write " + id.String()); err != nil {
			return err
		}
		glog.V(2).Infof("debug: %s = 0x%08x", id, value)
		return s.retry(ctx, "write "+id.String(), func() error {
			if err := s.dtm.WriteDMI(ctx, DMData0, value); err != nil {
				return errors.Trace(err)
			}
			return s.abstract(ctx, CommandAccessRegister|CommandAARSize32|CommandTransfer|CommandWrite|uint32(id))
		})
	}
	return violation("unknown register %s", id)
}

// ReadRegister reads a core register, the run state, or the EOC word.
func (s *Session) ReadRegister(ctx context.Context, id Register) (uint32, error) {
	switch {
	case id == RegRunControl:
		if err := s.requireLink("read run state"); err != nil {
			return 0, err
		}
		var status uint32
		err := s.retry(ctx, "read run state", func() error {
			var err error
			status, err = s.dtm.ReadDMI(ctx, DMStatus)
			return err
		})
		if err != nil {
			return 0, errors.Trace(err)
		}
		if status&DMStatusAllHalted != 0 {
			return RunStateHalted, nil
		}
		return RunStateRunning, nil
	case id == RegEOC:
		b, err := s.ReadMemory(ctx, uint64(s.cfg.EOCAddress), 4)
		if err != nil {
			return 0, errors.Trace(err)
		}
		return binary.LittleEndian.Uint32(b), nil
	case id.isCore():
		if err := s.requireHalted("read " + id.String()); err != nil {
			return 0, err
		}
		var v uint32
		err := s.retry(ctx, "read "+id.String(), func() error {
			if err := s.abstract(ctx, CommandAccessRegister|CommandAARSize32|CommandTransfer|uint32(id)); err != nil {
				return errors.Trace(err)
			}
			var err error
			v, err = s.dtm.ReadDMI(ctx, DMData0)
			return errors.Trace(err)
		})
		return v, errors.Trace(err)
	}
	return 0, violation("unknown register %s", id)
}

func (s *Session) requireHalted(what string) error {
	if s.state != StateLinkReady && s.state != StateHalted {
		return violation("%s while hart is %s", what, s.state)
	}
	return nil
}

// abstract runs one abstract command and waits for it. A non-zero cmderr is
// cleared and reported as a protocol violation.
func (s *Session) abstract(ctx context.Context, command uint32) error {
	if err := s.dtm.WriteDMI(ctx, DMCommand, command); err != nil {
		return errors.Trace(err)
	}
	cs, err := s.poll(ctx, DMAbstractCS, "abstract command", func(v uint32) bool { return v&AbstractCSBusy == 0 })
	if err != nil {
		return errors.Trace(err)
	}
	if cmderr := (cs & AbstractCSCmdErrMask) >> AbstractCSCmdErrShft; cmderr != CmdErrNone {
		if err := s.dtm.WriteDMI(ctx, DMAbstractCS, AbstractCSCmdErrMask); err != nil {
			return errors.Trace(err)
		}
		return violation("abstract command 0x%08x failed with cmderr %d", command, cmderr)
	}
	return nil
}

// runControl resumes a freshly loaded hart or halts a running one.
func (s *Session) runControl(ctx context.Context, value uint32) error {
	switch value {
	case RunResume:
		if s.state != StateLinkReady {
			return violation("resume from state %s", s.state)
		}
		if err := s.retry(ctx, "resume", func() error { return s.resume(ctx) }); err != nil {
			return errors.Trace(err)
		}
		s.state = StateRunning
		glog.V(1).Infof("debug: hart resumed")
	case RunHalt:
		if s.state != StateRunning {
			return violation("halt from state %s", s.state)
		}
		if err := s.retry(ctx, "halt", func() error { return s.halt(ctx) }); err != nil {
			return errors.Trace(err)
		}
		s.state = StateHalted
		glog.V(1).Infof("debug: hart halted")
	default:
		return violation("run control value %d", value)
	}
	return nil
}
