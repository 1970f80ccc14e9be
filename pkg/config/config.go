// Package config loads target profiles: which adapter to use, how hard to
// retry, where memory lives and how the DMA test is laid out.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/debug"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/dmatest"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/lfsr"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/memmap"
)

// Adapter kinds.
const (
	AdapterSimulator = "simulator"
	AdapterCMSISDAP  = "cmsis-dap"
)

// Duration is a time.Duration written as "10s" or "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Adapter selects the JTAG probe.
type Adapter struct {
	Kind    string `yaml:"kind"`
	Serial  string `yaml:"serial,omitempty"`
	SpeedHz int    `yaml:"speed_hz"`
}

// Link tunes the debug session.
type Link struct {
	Retries    int      `yaml:"retries"`
	ChunkSize  int      `yaml:"chunk_size"`
	MaxPolls   int      `yaml:"max_polls"`
	PollDelay  Duration `yaml:"poll_delay,omitempty"`
	IdleCycles int      `yaml:"idle_cycles,omitempty"`
	EOCAddress uint32   `yaml:"eoc_address"`
}

// Region is an inline memory region.
type Region struct {
	Name   string `yaml:"name"`
	Attrs  string `yaml:"attrs,omitempty"`
	Origin uint64 `yaml:"origin"`
	Length uint64 `yaml:"length"`
}

// DMA places the DMA self-test.
type DMA struct {
	Src    uint32 `yaml:"src"`
	Dst    uint32 `yaml:"dst"`
	Cfg    uint32 `yaml:"cfg"`
	Length uint32 `yaml:"length"`
	Seed   uint32 `yaml:"seed"`
}

// Target is one target profile.
type Target struct {
	Name    string   `yaml:"name"`
	Adapter Adapter  `yaml:"adapter"`
	Link    Link     `yaml:"link"`
	Timeout Duration `yaml:"timeout"`
	// MemoryScript is a linker script with a MEMORY block, relative to the
	// profile file. Memory lists regions inline. At most one may be set.
	MemoryScript string   `yaml:"memory_script,omitempty"`
	Memory       []Region `yaml:"memory,omitempty"`
	DMA          DMA      `yaml:"dma"`

	dir string
}

// DefaultTarget is the built-in simulator profile.
func DefaultTarget() *Target {
	dc := debug.DefaultConfig()
	l := dmatest.DefaultLayout()
	return &Target{
		Name:    "sim",
		Adapter: Adapter{Kind: AdapterSimulator, SpeedHz: dc.SpeedHz},
		Link: Link{
			Retries:    dc.Retries,
			ChunkSize:  dc.ChunkSize,
			MaxPolls:   dc.MaxPolls,
			EOCAddress: dc.EOCAddress,
		},
		Timeout: Duration{10 * time.Second},
		DMA: DMA{
			Src:    l.SrcBase,
			Dst:    l.DstBase,
			Cfg:    l.CfgBase,
			Length: l.Length,
			Seed:   lfsr.DefaultSeed,
		},
	}
}

// Parse reads a profile over the defaults. Unknown keys are errors.
func Parse(data []byte) (*Target, error) {
	t := DefaultTarget()
	if err := yaml.UnmarshalStrict(data, t); err != nil {
		return nil, fmt.Errorf("parse target profile: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Load parses the profile at path. A relative memory script is resolved
// against the profile's directory.
func Load(path string) (*Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read target profile: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.dir = filepath.Dir(path)
	return t, nil
}

// Validate checks the profile for values no session could work with.
func (t *Target) Validate() error {
	switch t.Adapter.Kind {
	case AdapterSimulator, AdapterCMSISDAP:
	default:
		return fmt.Errorf("unknown adapter kind %q", t.Adapter.Kind)
	}
	if t.Adapter.SpeedHz < 0 {
		return fmt.Errorf("adapter speed %d Hz", t.Adapter.SpeedHz)
	}
	if t.Link.Retries < 0 {
		return fmt.Errorf("link retries %d", t.Link.Retries)
	}
	if t.Link.ChunkSize <= 0 || t.Link.ChunkSize%4 != 0 {
		return fmt.Errorf("chunk size %d is not a positive multiple of 4", t.Link.ChunkSize)
	}
	if t.Link.MaxPolls <= 0 {
		return fmt.Errorf("max polls %d", t.Link.MaxPolls)
	}
	if t.Link.EOCAddress%4 != 0 {
		return fmt.Errorf("EOC address 0x%x is not word aligned", t.Link.EOCAddress)
	}
	if t.Timeout.Duration <= 0 {
		return fmt.Errorf("timeout %s", t.Timeout)
	}
	if t.MemoryScript != "" && len(t.Memory) > 0 {
		return fmt.Errorf("memory_script and memory are mutually exclusive")
	}
	if t.DMA.Length%4 != 0 {
		return fmt.Errorf("DMA length 0x%x is not a multiple of 4", t.DMA.Length)
	}
	return nil
}

// MemoryMap returns the configured memory map, or nil when the profile
// leaves it to the caller.
func (t *Target) MemoryMap() (*memmap.Map, error) {
	if t.MemoryScript != "" {
		path := t.MemoryScript
		if !filepath.IsAbs(path) && t.dir != "" {
			path = filepath.Join(t.dir, path)
		}
		return memmap.ParseFile(path)
	}
	if len(t.Memory) == 0 {
		return nil, nil
	}
	m := &memmap.Map{Aliases: map[string]string{}}
	for _, r := range t.Memory {
		m.Regions = append(m.Regions, memmap.Region{Name: r.Name, Attrs: r.Attrs, Origin: r.Origin, Length: r.Length})
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	return m, nil
}

// DebugConfig is the session configuration for this target.
func (t *Target) DebugConfig() debug.Config {
	return debug.Config{
		SpeedHz:    t.Adapter.SpeedHz,
		Retries:    t.Link.Retries,
		ChunkSize:  t.Link.ChunkSize,
		MaxPolls:   t.Link.MaxPolls,
		PollDelay:  t.Link.PollDelay.Duration,
		EOCAddress: t.Link.EOCAddress,
		IdleCycles: t.Link.IdleCycles,
	}
}

// Layout is the DMA test layout for this target.
func (t *Target) Layout() dmatest.Layout {
	return dmatest.Layout{
		SrcBase: t.DMA.Src,
		DstBase: t.DMA.Dst,
		CfgBase: t.DMA.Cfg,
		Length:  t.DMA.Length,
		Regs:    dmatest.DefaultRegisterMap(),
	}
}

// Verifier is the DMA test program for this target.
func (t *Target) Verifier() *dmatest.Verifier {
	v := dmatest.NewVerifier()
	v.Layout = t.Layout()
	v.Seed = t.DMA.Seed
	return v
}
