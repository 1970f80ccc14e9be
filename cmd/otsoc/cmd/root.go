package cmd

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tebeka/atexit"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/config"
)

var (
	// Global flags
	verbose     bool
	profilePath string
)

var rootCmd = &cobra.Command{
	Use:   "otsoc",
	Short: "Load, run and self-test programs on a RISC-V SoC over JTAG",
	Long: `otsoc drives a RISC-V SoC through its JTAG debug module: it loads ELF or
Intel HEX images into target memory, starts the core, waits for the program to
report end of computation and checks the result.

Without --config the built-in simulator profile is used, so every command can
run without hardware.

Examples:
  otsoc selftest                                 # DMA self-test on the simulator
  otsoc run firmware.elf --config board.yaml     # Load and run on a probe
  otsoc memtest --addr 0x20000 --words 256       # Debug bus write/read-back test
  otsoc image firmware.hex                       # Show sections and placement`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}
}

func init() {
	atexit.Register(glog.Flush)

	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&profilePath, "config", "c", "",
		"target profile (YAML); the simulator profile when empty")
	// glog registers -v, -vmodule and -logtostderr on the Go flag set;
	// cobra merges pflag.CommandLine into the root's persistent flags.
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
}

// loadProfile returns the profile named by --config or the default one.
func loadProfile() (*config.Target, error) {
	if profilePath == "" {
		return config.DefaultTarget(), nil
	}
	return config.Load(profilePath)
}
