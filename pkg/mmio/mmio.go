// Package mmio models the target's memory-mapped address space as explicit,
// bounds-checked word windows instead of raw pointer arithmetic.
package mmio

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrOutOfBounds reports an access outside a window or unmapped bus address.
	ErrOutOfBounds = errors.New("mmio: access out of bounds")
	// ErrUnaligned reports an access that is not word aligned.
	ErrUnaligned = errors.New("mmio: unaligned access")
)

// WordSize is the width of every access in bytes.
const WordSize = 4

// AddressSpace is a word-addressed view of target memory. Offsets are byte
// offsets relative to the start of the space and must be word aligned.
type AddressSpace interface {
	ReadWord(offset uint32) (uint32, error)
	WriteWord(offset uint32, value uint32) error
}

func checkAccess(offset, size uint32) error {
	if offset%WordSize != 0 {
		return fmt.Errorf("%w: offset 0x%X", ErrUnaligned, offset)
	}
	if size < WordSize || offset > size-WordSize {
		return fmt.Errorf("%w: offset 0x%X, size 0x%X", ErrOutOfBounds, offset, size)
	}
	return nil
}

// Window restricts an AddressSpace to [base, base+size).
type Window struct {
	space AddressSpace
	base  uint32
	size  uint32
}

// NewWindow returns a bounded view of space starting at base.
func NewWindow(space AddressSpace, base, size uint32) *Window {
	return &Window{space: space, base: base, size: size}
}

// Base reports the window's start address inside the parent space.
func (w *Window) Base() uint32 { return w.base }

// Size reports the window length in bytes.
func (w *Window) Size() uint32 { return w.size }

func (w *Window) ReadWord(offset uint32) (uint32, error) {
	if err := checkAccess(offset, w.size); err != nil {
		return 0, err
	}
	return w.space.ReadWord(w.base + offset)
}

func (w *Window) WriteWord(offset uint32, value uint32) error {
	if err := checkAccess(offset, w.size); err != nil {
		return err
	}
	return w.space.WriteWord(w.base+offset, value)
}

// RAM is a word-organised memory safe for concurrent use.
type RAM struct {
	mu    sync.RWMutex
	words []uint32
}

// NewRAM allocates size bytes, rounded down to whole words.
func NewRAM(size uint32) *RAM {
	return &RAM{words: make([]uint32, size/WordSize)}
}

// Size reports the RAM length in bytes.
func (r *RAM) Size() uint32 {
	return uint32(len(r.words)) * WordSize
}

func (r *RAM) ReadWord(offset uint32) (uint32, error) {
	if err := checkAccess(offset, r.Size()); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.words[offset/WordSize], nil
}

func (r *RAM) WriteWord(offset uint32, value uint32) error {
	if err := checkAccess(offset, r.Size()); err != nil {
		return err
	}
	r.mu.Lock()
	r.words[offset/WordSize] = value
	r.mu.Unlock()
	return nil
}

// Mapping places a device on the bus.
type Mapping struct {
	Name   string
	Base   uint32
	Size   uint32
	Device AddressSpace
}

func (m Mapping) contains(addr uint32) bool {
	return addr >= m.Base && addr-m.Base < m.Size
}

// Bus routes absolute addresses to the device mapped there. The mapping
// table is fixed at construction; devices synchronise themselves.
type Bus struct {
	mappings []Mapping
}

// NewBus builds a bus from non-overlapping mappings.
func NewBus(mappings ...Mapping) (*Bus, error) {
	sorted := append([]Mapping(nil), mappings...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Base < sorted[j].Base })

	for i, m := range sorted {
		if m.Size == 0 {
			return nil, fmt.Errorf("mmio: mapping %q has zero size", m.Name)
		}
		if m.Device == nil {
			return nil, fmt.Errorf("mmio: mapping %q has no device", m.Name)
		}
		if uint64(m.Base)+uint64(m.Size) > 1<<32 {
			return nil, fmt.Errorf("mmio: mapping %q exceeds the 32-bit address space", m.Name)
		}
		if i > 0 {
			prev := sorted[i-1]
			if uint64(prev.Base)+uint64(prev.Size) > uint64(m.Base) {
				return nil, fmt.Errorf("mmio: mapping %q overlaps %q", m.Name, prev.Name)
			}
		}
	}

	return &Bus{mappings: sorted}, nil
}

// Mappings returns the bus layout ordered by base address.
func (b *Bus) Mappings() []Mapping {
	out := make([]Mapping, len(b.mappings))
	copy(out, b.mappings)
	return out
}

// Lookup finds the mapping that decodes addr.
func (b *Bus) Lookup(addr uint32) (Mapping, bool) {
	i := sort.Search(len(b.mappings), func(i int) bool {
		m := b.mappings[i]
		return uint64(m.Base)+uint64(m.Size) > uint64(addr)
	})
	if i < len(b.mappings) && b.mappings[i].contains(addr) {
		return b.mappings[i], true
	}
	return Mapping{}, false
}

func (b *Bus) ReadWord(addr uint32) (uint32, error) {
	m, ok := b.Lookup(addr)
	if !ok {
		return 0, fmt.Errorf("%w: no device at 0x%08X", ErrOutOfBounds, addr)
	}
	return m.Device.ReadWord(addr - m.Base)
}

func (b *Bus) WriteWord(addr uint32, value uint32) error {
	m, ok := b.Lookup(addr)
	if !ok {
		return fmt.Errorf("%w: no device at 0x%08X", ErrOutOfBounds, addr)
	}
	return m.Device.WriteWord(addr-m.Base, value)
}
