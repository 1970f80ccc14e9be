package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/jtag"
)

var interfacesTimeout time.Duration

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List debug probes a profile can use",
	Long: `Scan USB for CMSIS-DAP probes and list them together with the in-process
simulator. The KIND column is the value for adapter.kind in a target profile.`,
	Args: cobra.NoArgs,
	RunE: runInterfaces,
}

func init() {
	rootCmd.AddCommand(interfacesCmd)

	interfacesCmd.Flags().DurationVar(&interfacesTimeout, "scan-timeout", 5*time.Second,
		"how long to scan USB")
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), interfacesTimeout)
	defer cancel()

	infos, err := jtag.DiscoverInterfaces(ctx)
	if err != nil {
		return fmt.Errorf("scan probes: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No probes found.")
		return nil
	}

	fmt.Printf("  %-12s %-9s %s\n", "KIND", "VID:PID", "DESCRIPTION")
	for _, iface := range infos {
		id := "-"
		if iface.VendorID != 0 || iface.ProductID != 0 {
			id = fmt.Sprintf("%04X:%04X", iface.VendorID, iface.ProductID)
		}
		fmt.Printf("  %-12s %-9s %s\n", iface.Kind, id, iface.Label())
	}
	return nil
}
