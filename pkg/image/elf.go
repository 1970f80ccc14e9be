package image

import (
	"bytes"
	"debug/elf"
	"fmt"
)

// addressSpace bounds every segment; the target bus is 32 bits wide.
const addressSpace = 1 << 32

// ParseELF loads every PT_LOAD segment at its physical address. Bytes past
// Filesz up to Memsz are zero (bss). The entry point is translated to its
// physical address when it falls inside a relocated segment.
func ParseELF(data []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedImage, err)
	}
	defer f.Close()

	img := &Image{Format: "elf", Entry: f.Entry}
	entryMapped := false
	for i, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		if p.Filesz > p.Memsz {
			return nil, fmt.Errorf("%w: segment %d file size 0x%x exceeds memory size 0x%x", ErrMalformedImage, i, p.Filesz, p.Memsz)
		}
		if p.Memsz > addressSpace || p.Paddr > addressSpace-p.Memsz {
			return nil, fmt.Errorf("%w: segment %d at 0x%x+0x%x leaves the 32-bit address space", ErrMalformedImage, i, p.Paddr, p.Memsz)
		}
		buf := make([]byte, p.Memsz)
		if p.Filesz > 0 {
			if n, err := p.ReadAt(buf[:p.Filesz], 0); err != nil || uint64(n) != p.Filesz {
				return nil, fmt.Errorf("%w: segment %d truncated: %v", ErrMalformedImage, i, err)
			}
		}
		img.Sections = append(img.Sections, Section{
			Name:    segmentName(f, p, i),
			Address: p.Paddr,
			Data:    buf,
		})
		if !entryMapped && f.Entry >= p.Vaddr && f.Entry < p.Vaddr+p.Memsz {
			img.Entry = p.Paddr + (f.Entry - p.Vaddr)
			entryMapped = true
		}
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// segmentName names a segment after the first allocated section it starts
// with.
func segmentName(f *elf.File, p *elf.Prog, i int) string {
	for _, s := range f.Sections {
		if s.Flags&elf.SHF_ALLOC != 0 && s.Addr == p.Vaddr && s.Size > 0 {
			return s.Name
		}
	}
	return fmt.Sprintf("load%d", i)
}
