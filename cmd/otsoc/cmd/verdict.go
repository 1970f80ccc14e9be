package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/report"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/runctl"
)

var (
	passColor = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
)

func printVerdict(what string, err error) {
	if err == nil {
		fmt.Printf("%s: %s\n", what, passColor.Sprint("PASS"))
		return
	}
	fmt.Printf("%s: %s (%v)\n", what, failColor.Sprint("FAIL"), err)
}

// openLedger opens the ledger at path, or returns nil when recording is off.
func openLedger(path, target string) (*report.Ledger, error) {
	if path == "" {
		return nil, nil
	}
	l, err := report.Open(path, target)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return l, nil
}

func record(l *report.Ledger, name string, start time.Time, err error) {
	if l == nil {
		return
	}
	c := report.Check{Name: name, Passed: err == nil, Duration: time.Since(start)}
	if err != nil {
		c.Detail = err.Error()
	}
	l.Record(c)
}

func closeLedger(l *report.Ledger, path string) {
	if l == nil {
		return
	}
	if err := l.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "ledger %s: %v\n", path, err)
		return
	}
	fmt.Printf("Recorded run %s in %s\n", l.RunID(), path)
}

// execute starts the core and waits for end of computation, printing and
// recording the verdict. A program failure is returned as the error.
func execute(ctx context.Context, t *target, l *report.Ledger, timeout time.Duration) error {
	ctl := runctl.NewController(t.session)
	start := time.Now()
	if err := ctl.Start(ctx); err != nil {
		record(l, "run", start, err)
		return fmt.Errorf("start: %w", err)
	}
	res, err := ctl.WaitForCompletion(ctx, timeout)
	if err != nil {
		record(l, "run", start, err)
		return fmt.Errorf("wait for completion: %w", err)
	}
	err = res.Err()
	record(l, "run", start, err)

	switch res.Outcome {
	case runctl.OutcomeCompleted:
		fmt.Printf("Program exited with code %d after %s (%d polls)\n",
			res.ExitCode, res.Elapsed.Round(time.Millisecond), res.Polls)
	default:
		fmt.Printf("Program still running after %s (%d polls)\n", res.Elapsed.Round(time.Millisecond), res.Polls)
	}
	printVerdict("Result", err)
	return err
}
