package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/image"
)

var imageCmd = &cobra.Command{
	Use:   "image FILE",
	Short: "Show the sections of an ELF or Intel HEX image",
	Long: `Parse an image and print its loadable sections with the memory region each
one lands in. Sections outside the target's memory map are an error.

Examples:
  otsoc image firmware.elf
  otsoc image firmware.hex --config board.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runImage,
}

func init() {
	rootCmd.AddCommand(imageCmd)
}

func runImage(cmd *cobra.Command, args []string) error {
	img, err := image.ParseFile(args[0])
	if err != nil {
		return err
	}
	prof, err := loadProfile()
	if err != nil {
		return err
	}
	mem, err := targetMemory(prof)
	if err != nil {
		return err
	}

	fmt.Printf("Image:   %s\n", args[0])
	fmt.Printf("Format:  %s\n", img.Format)
	fmt.Printf("Entry:   0x%08x\n", img.Entry)
	fmt.Printf("Size:    %d bytes in %d section(s)\n\n", img.Size(), len(img.Sections))
	fmt.Printf("  %-16s %-10s %-10s %8s  %s\n", "SECTION", "ADDRESS", "END", "SIZE", "REGION")
	for _, s := range img.Sections {
		region := "-"
		if mem != nil {
			if r, ok := mem.Find(s.Address, s.Length()); ok {
				region = r.Name
			} else {
				region = "(unmapped)"
			}
		}
		fmt.Printf("  %-16s 0x%08x 0x%08x %8d  %s\n", s.Name, s.Address, s.End(), s.Length(), region)
	}

	if mem != nil {
		if err := img.CheckRegions(mem.Regions); err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
	}
	return nil
}
