// Package runctl starts the loaded program and waits for it to signal the
// end of computation.
package runctl

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/debug"
)

// ErrExecutionTimeout: the program did not finish within its budget.
var ErrExecutionTimeout = stderrors.New("runctl: execution timed out")

// ExitError is a completed run with a non-zero exit code.
type ExitError struct {
	Code uint32
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("runctl: program exited with code %d", e.Code)
}

// Poll interval bounds.
const (
	MinPollInterval = time.Millisecond
	MaxPollInterval = time.Second
)

// PollInterval is 1% of the budget, clamped to [MinPollInterval,
// MaxPollInterval].
func PollInterval(timeout time.Duration) time.Duration {
	d := timeout / 100
	if d < MinPollInterval {
		return MinPollInterval
	}
	if d > MaxPollInterval {
		return MaxPollInterval
	}
	return d
}

// State of a Controller.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed-out"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome of WaitForCompletion.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeTimedOut
)

func (o Outcome) String() string {
	if o == OutcomeCompleted {
		return "completed"
	}
	return "timed-out"
}

// Result describes a finished wait. ExitCode is valid for OutcomeCompleted.
type Result struct {
	Outcome  Outcome
	ExitCode uint32
	Polls    int
	Elapsed  time.Duration
}

// Err turns the result into an error for callers that treat anything other
// than a clean exit as failure.
func (r Result) Err() error {
	switch {
	case r.Outcome == OutcomeTimedOut:
		return fmt.Errorf("%w after %s (%d polls)", ErrExecutionTimeout, r.Elapsed.Round(time.Millisecond), r.Polls)
	case r.ExitCode != 0:
		return &ExitError{Code: r.ExitCode}
	}
	return nil
}

// Controller drives one program run: Idle, Running, then Completed or
// TimedOut.
type Controller struct {
	t     debug.Transport
	state State
}

// NewController returns an idle controller.
func NewController(t debug.Transport) *Controller {
	return &Controller{t: t}
}

// State reports the controller state.
func (c *Controller) State() State { return c.state }

// Start resumes the hart.
func (c *Controller) Start(ctx context.Context) error {
	if c.state != StateIdle {
		return errors.Errorf("start in state %s", c.state)
	}
	if err := c.t.WriteRegister(ctx, debug.RegRunControl, debug.RunResume); err != nil {
		return errors.Annotate(err, "start program")
	}
	c.state = StateRunning
	glog.V(1).Infof("runctl: program started")
	return nil
}

// WaitForCompletion polls the end-of-computation register every
// PollInterval(timeout) until it reports done or timeout has elapsed. A
// timeout is an outcome, not an error; errors are transport failures or
// ctx ending.
func (c *Controller) WaitForCompletion(ctx context.Context, timeout time.Duration) (Result, error) {
	if c.state != StateRunning {
		return Result{}, errors.Errorf("wait in state %s", c.state)
	}
	interval := PollInterval(timeout)
	start := time.Now()
	deadline := start.Add(timeout)

	var res Result
	for {
		eoc, err := c.t.ReadRegister(ctx, debug.RegEOC)
		res.Polls++
		if err != nil {
			res.Elapsed = time.Since(start)
			return res, errors.Annotatef(err, "poll end of computation (%d polls)", res.Polls)
		}
		now := time.Now()
		res.Elapsed = now.Sub(start)
		if eoc&debug.EOCDone != 0 {
			res.Outcome = OutcomeCompleted
			res.ExitCode = eoc & debug.EOCCodeMask
			c.state = StateCompleted
			glog.V(1).Infof("runctl: completed with code %d after %s", res.ExitCode, res.Elapsed)
			return res, nil
		}
		if !now.Before(deadline) {
			res.Outcome = OutcomeTimedOut
			c.state = StateTimedOut
			glog.V(1).Infof("runctl: timed out after %s", res.Elapsed)
			return res, nil
		}

		wait := interval
		if left := deadline.Sub(now); left < wait {
			wait = left
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return res, errors.Trace(ctx.Err())
		case <-timer.C:
		}
	}
}
