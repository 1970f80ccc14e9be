package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/config"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/image"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/loader"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/memmap"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/soc"
)

var (
	runTimeout  time.Duration
	runRecord   string
	runNoVerify bool
)

var runCmd = &cobra.Command{
	Use:   "run IMAGE",
	Short: "Load an image, run it and wait for end of computation",
	Long: `Load an ELF or Intel HEX image into target memory, read it back, point the
core at the entry address and resume it. The command then polls the end of
computation register until the program reports its exit code or the timeout
expires.

The command exits 0 only when the program exits with code 0.

Examples:
  otsoc run firmware.elf
  otsoc run firmware.hex --config board.yaml --timeout 30s
  otsoc run firmware.elf --record results.db`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().DurationVarP(&runTimeout, "timeout", "t", 0,
		"run budget (default: the profile's timeout)")
	runCmd.Flags().StringVar(&runRecord, "record", "",
		"append the checks of this run to a SQLite ledger")
	runCmd.Flags().BoolVar(&runNoVerify, "no-verify", false,
		"skip reading the image back after loading")
}

func runRun(cmd *cobra.Command, args []string) error {
	prof, err := loadProfile()
	if err != nil {
		return err
	}
	img, err := image.ParseFile(args[0])
	if err != nil {
		return err
	}
	mem, err := targetMemory(prof)
	if err != nil {
		return err
	}
	if mem != nil {
		if err := img.CheckRegions(mem.Regions); err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
	}

	ledger, err := openLedger(runRecord, prof.Name)
	if err != nil {
		return err
	}
	defer closeLedger(ledger, runRecord)

	ctx := cmd.Context()
	t, err := openTarget(ctx, prof, newConsoleWriter(os.Stdout))
	if err != nil {
		record(ledger, "attach", time.Now(), err)
		return err
	}
	defer t.Close()

	fmt.Printf("Image: %s (%s, %d section(s), %d bytes, entry 0x%08x)\n",
		args[0], img.Format, len(img.Sections), img.Size(), img.Entry)

	start := time.Now()
	_, err = loader.Load(ctx, t.session, img)
	record(ledger, "load", start, err)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if !runNoVerify {
		start = time.Now()
		err = loader.Verify(ctx, t.session, img)
		record(ledger, "verify", start, err)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		fmt.Println("Image verified")
	}

	timeout := prof.Timeout.Duration
	if runTimeout > 0 {
		timeout = runTimeout
	}
	return execute(ctx, t, ledger, timeout)
}

// targetMemory is the profile's memory map, the simulator's built-in one, or
// nil when a hardware profile does not describe its memory.
func targetMemory(prof *config.Target) (*memmap.Map, error) {
	mem, err := prof.MemoryMap()
	if err != nil {
		return nil, fmt.Errorf("memory map: %w", err)
	}
	if mem == nil && prof.Adapter.Kind == config.AdapterSimulator {
		mem = soc.DefaultMemory()
	}
	return mem, nil
}
