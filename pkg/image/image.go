// Package image reads executable images (ELF and Intel HEX) into the
// format-neutral Image the loader writes to the target.
package image

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/memmap"
)

var (
	// ErrMalformedImage: the file is not a loadable image.
	ErrMalformedImage = errors.New("image: malformed image")
	// ErrNoRegion: a section does not fit the target memory map.
	ErrNoRegion = errors.New("image: section outside target memory")
)

// Section is one contiguous block of bytes to place at Address.
type Section struct {
	Name    string
	Address uint64
	Data    []byte
}

// Length is the number of bytes in the section.
func (s Section) Length() uint64 { return uint64(len(s.Data)) }

// End is the first address past the section.
func (s Section) End() uint64 { return s.Address + s.Length() }

func (s Section) String() string {
	return fmt.Sprintf("%-12s 0x%08x..0x%08x %6d bytes", s.Name, s.Address, s.End(), len(s.Data))
}

// Image is a parsed executable. Sections keep file order; that is the order
// they are loaded in.
type Image struct {
	Format   string
	Sections []Section
	Entry    uint64
}

// Size is the total number of bytes across sections.
func (img *Image) Size() uint64 {
	var n uint64
	for _, s := range img.Sections {
		n += s.Length()
	}
	return n
}

// Validate checks that sections are non-empty and disjoint and that the
// entry point lies inside one of them.
func (img *Image) Validate() error {
	if len(img.Sections) == 0 {
		return fmt.Errorf("%w: no loadable sections", ErrMalformedImage)
	}
	sorted := make([]Section, len(img.Sections))
	copy(sorted, img.Sections)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	entryFound := false
	for i, s := range sorted {
		if len(s.Data) == 0 {
			return fmt.Errorf("%w: section %s is empty", ErrMalformedImage, s.Name)
		}
		if s.End() < s.Address {
			return fmt.Errorf("%w: section %s wraps the address space", ErrMalformedImage, s.Name)
		}
		if i > 0 && s.Address < sorted[i-1].End() {
			return fmt.Errorf("%w: section %s at 0x%x overlaps %s ending at 0x%x",
				ErrMalformedImage, s.Name, s.Address, sorted[i-1].Name, sorted[i-1].End())
		}
		if img.Entry >= s.Address && img.Entry < s.End() {
			entryFound = true
		}
	}
	if !entryFound {
		return fmt.Errorf("%w: entry 0x%x is not inside any section", ErrMalformedImage, img.Entry)
	}
	return nil
}

// CheckRegions reports the first section that does not lie entirely inside
// one of regions.
func (img *Image) CheckRegions(regions []memmap.Region) error {
	for _, s := range img.Sections {
		fits := false
		for _, r := range regions {
			if r.Contains(s.Address, s.Length()) {
				fits = true
				break
			}
		}
		if !fits {
			return fmt.Errorf("%w: %s at 0x%x (%d bytes)", ErrNoRegion, s.Name, s.Address, len(s.Data))
		}
	}
	return nil
}

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// Parse detects the format of data and parses it.
func Parse(data []byte) (*Image, error) {
	switch {
	case bytes.HasPrefix(data, elfMagic):
		return ParseELF(data)
	case bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte(":")):
		return ParseHex(data)
	}
	return nil, fmt.Errorf("%w: unrecognised format", ErrMalformedImage)
}

// ParseFile reads and parses the image at path.
func ParseFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	img, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}
