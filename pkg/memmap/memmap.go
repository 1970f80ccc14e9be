// Package memmap reads target memory maps written as GNU ld MEMORY blocks
// (the memory.x convention) and answers which region holds an address range.
package memmap

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
)

// Region is one named memory region.
type Region struct {
	Name   string
	Attrs  string
	Origin uint64
	Length uint64
}

// End is the first address past the region.
func (r Region) End() uint64 { return r.Origin + r.Length }

// Contains reports whether [addr, addr+n) lies inside r.
func (r Region) Contains(addr, n uint64) bool {
	return addr >= r.Origin && addr+n >= addr && addr+n <= r.End()
}

func (r Region) String() string {
	return fmt.Sprintf("%s [0x%08x, 0x%08x)", r.Name, r.Origin, r.End())
}

// Map is a set of non-overlapping regions plus the aliases that name them.
type Map struct {
	Regions []Region
	Aliases map[string]string
}

var parser = participle.MustBuild[script](
	participle.Lexer(scriptLexer),
	participle.Elide("Comment", "Whitespace"),
	participle.Unquote("String"),
	participle.UseLookahead(2),
)

// Parse reads a linker-script memory description.
func Parse(r io.Reader) (*Map, error) {
	s, err := parser.Parse("", r)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return build(s)
}

// ParseString is Parse over a string.
func ParseString(src string) (*Map, error) {
	s, err := parser.ParseString("", src)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return build(s)
}

// ParseFile parses the script at path.
func ParseFile(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory map: %w", err)
	}
	defer f.Close()
	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func build(s *script) (*Map, error) {
	m := &Map{Aliases: map[string]string{}}
	for _, st := range s.Statements {
		if st.Memory == nil {
			continue
		}
		for _, d := range st.Memory.Regions {
			origin, err := d.Origin.eval()
			if err != nil {
				return nil, fmt.Errorf("region %s origin: %w", d.Name, err)
			}
			length, err := d.Length.eval()
			if err != nil {
				return nil, fmt.Errorf("region %s length: %w", d.Name, err)
			}
			m.Regions = append(m.Regions, Region{Name: d.Name, Attrs: d.Attrs, Origin: origin, Length: length})
		}
	}
	for _, st := range s.Statements {
		if st.Alias != nil {
			m.Aliases[st.Alias.Alias] = st.Alias.Region
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (e *expr) eval() (uint64, error) {
	var sum uint64
	for _, t := range e.Terms {
		v, err := parseNumber(t)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum, nil
}

// parseNumber accepts C-style literals with an optional K or M multiplier.
func parseNumber(s string) (uint64, error) {
	mult := uint64(1)
	switch {
	case strings.HasSuffix(s, "K") || strings.HasSuffix(s, "k"):
		mult, s = 1<<10, s[:len(s)-1]
	case strings.HasSuffix(s, "M") || strings.HasSuffix(s, "m"):
		mult, s = 1<<20, s[:len(s)-1]
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q: %w", s, err)
	}
	return v * mult, nil
}

// Validate checks names are unique, regions are non-empty and disjoint, and
// aliases point at existing regions. Regions are left sorted by origin.
func (m *Map) Validate() error {
	names := map[string]bool{}
	for _, r := range m.Regions {
		if names[r.Name] {
			return fmt.Errorf("duplicate region %s", r.Name)
		}
		names[r.Name] = true
		if r.Length == 0 {
			return fmt.Errorf("region %s has zero length", r.Name)
		}
		if r.End() < r.Origin {
			return fmt.Errorf("region %s wraps the address space", r.Name)
		}
	}
	sort.Slice(m.Regions, func(i, j int) bool { return m.Regions[i].Origin < m.Regions[j].Origin })
	for i := 1; i < len(m.Regions); i++ {
		if prev := m.Regions[i-1]; m.Regions[i].Origin < prev.End() {
			return fmt.Errorf("region %s overlaps %s", m.Regions[i].Name, prev.Name)
		}
	}
	for alias, target := range m.Aliases {
		if !names[target] {
			return fmt.Errorf("alias %s names unknown region %s", alias, target)
		}
	}
	return nil
}

// Region finds a region by name or alias.
func (m *Map) Region(name string) (Region, bool) {
	if target, ok := m.Aliases[name]; ok {
		name = target
	}
	for _, r := range m.Regions {
		if r.Name == name {
			return r, true
		}
	}
	return Region{}, false
}

// Find returns the region holding all of [addr, addr+n).
func (m *Map) Find(addr, n uint64) (Region, bool) {
	for _, r := range m.Regions {
		if r.Contains(addr, n) {
			return r, true
		}
	}
	return Region{}, false
}
