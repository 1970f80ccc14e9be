package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/config"
)

var (
	selftestTimeout time.Duration
	selftestRecord  string
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Run the DMA self-test on the simulated SoC",
	Long: `Attach to the simulated SoC over its JTAG debug module and run the DMA
self-test: the core fills a source buffer from the LFSR, has the DMA engine copy
it and compares both buffers word by word. The layout and seed come from the
profile's dma section; the adapter is always the simulator.`,
	Args: cobra.NoArgs,
	RunE: runSelftest,
}

func init() {
	rootCmd.AddCommand(selftestCmd)

	selftestCmd.Flags().DurationVarP(&selftestTimeout, "timeout", "t", 0,
		"run budget (default: the profile's timeout)")
	selftestCmd.Flags().StringVar(&selftestRecord, "record", "",
		"append the result to a SQLite ledger")
}

func runSelftest(cmd *cobra.Command, args []string) error {
	prof, err := loadProfile()
	if err != nil {
		return err
	}
	prof.Adapter.Kind = config.AdapterSimulator

	ledger, err := openLedger(selftestRecord, prof.Name)
	if err != nil {
		return err
	}
	defer closeLedger(ledger, selftestRecord)

	t, err := openTarget(cmd.Context(), prof, newConsoleWriter(os.Stdout))
	if err != nil {
		return err
	}
	defer t.Close()

	l := prof.Layout()
	fmt.Printf("DMA self-test: src 0x%08x, dst 0x%08x, cfg 0x%08x, %d bytes, seed 0x%08x\n",
		l.SrcBase, l.DstBase, l.CfgBase, l.Length, prof.DMA.Seed)

	timeout := prof.Timeout.Duration
	if selftestTimeout > 0 {
		timeout = selftestTimeout
	}
	return execute(cmd.Context(), t, ledger, timeout)
}
