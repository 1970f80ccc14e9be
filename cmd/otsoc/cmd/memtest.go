package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/lfsr"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/loader"
)

var (
	memtestAddr   uint64
	memtestWords  int
	memtestSeed   uint32
	memtestRecord string
)

var memtestCmd = &cobra.Command{
	Use:   "memtest",
	Short: "Write a pseudo-random pattern over the debug bus and read it back",
	Long: `Check the debug link and target memory: write words from the LFSR to
target memory through the system bus, read them back and compare. The first
differing word is reported.

Examples:
  otsoc memtest                          # 64 words at the DMA source buffer
  otsoc memtest --addr 0x20000 --words 1024 --seed 0x12345678`,
	Args: cobra.NoArgs,
	RunE: runMemtest,
}

func init() {
	rootCmd.AddCommand(memtestCmd)

	memtestCmd.Flags().Uint64Var(&memtestAddr, "addr", 0,
		"start address (default: the profile's DMA source buffer)")
	memtestCmd.Flags().IntVarP(&memtestWords, "words", "n", 64,
		"number of 32-bit words")
	memtestCmd.Flags().Uint32Var(&memtestSeed, "seed", 0,
		"LFSR seed (default: the profile's seed)")
	memtestCmd.Flags().StringVar(&memtestRecord, "record", "",
		"append the result to a SQLite ledger")
}

func runMemtest(cmd *cobra.Command, args []string) error {
	if memtestWords <= 0 {
		return fmt.Errorf("--words must be positive, got %d", memtestWords)
	}
	prof, err := loadProfile()
	if err != nil {
		return err
	}
	addr := memtestAddr
	if !cmd.Flags().Changed("addr") {
		addr = uint64(prof.DMA.Src)
	}
	if addr%4 != 0 {
		return fmt.Errorf("--addr 0x%x is not word aligned", addr)
	}
	seed := memtestSeed
	if seed == 0 {
		seed = prof.DMA.Seed
	}

	ledger, err := openLedger(memtestRecord, prof.Name)
	if err != nil {
		return err
	}
	defer closeLedger(ledger, memtestRecord)

	t, err := openTarget(cmd.Context(), prof, nil)
	if err != nil {
		return err
	}
	defer t.Close()

	start := time.Now()
	res, err := loader.MemoryTest(cmd.Context(), t.session, addr, memtestWords, lfsr.New(seed))
	if err != nil {
		record(ledger, "memtest", start, err)
		return fmt.Errorf("memory test: %w", err)
	}
	err = res.Err()
	record(ledger, "memtest", start, err)

	fmt.Printf("Compared %d word(s) at 0x%08x in %s\n", res.Compared, addr, time.Since(start).Round(time.Millisecond))
	printVerdict("Memory test", err)
	return err
}
