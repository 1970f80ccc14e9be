package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/debug"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/dmatest"
)

const profile = `
name: pulp-fpga
adapter:
  kind: cmsis-dap
  serial: "E6614C311B"
  speed_hz: 4000000
link:
  retries: 5
  chunk_size: 64
  max_polls: 200
  poll_delay: 1ms
  eoc_address: 0x1A1040A0
timeout: 30s
memory:
  - {name: RAM, attrs: rwx, origin: 0x0, length: 0x10000}
  - {name: L2, origin: 0x20000, length: 0x10000}
dma:
  src: 0x6000
  dst: 0x20000
  cfg: 0x10000
  length: 0x40
  seed: 0xBEEFFACE
`

func TestParseProfile(t *testing.T) {
	tgt, err := Parse([]byte(profile))
	require.NoError(t, err)

	assert.Equal(t, "pulp-fpga", tgt.Name)
	assert.Equal(t, AdapterCMSISDAP, tgt.Adapter.Kind)
	assert.Equal(t, "E6614C311B", tgt.Adapter.Serial)
	assert.Equal(t, 30*time.Second, tgt.Timeout.Duration)

	dc := tgt.DebugConfig()
	assert.Equal(t, debug.Config{
		SpeedHz:    4000000,
		Retries:    5,
		ChunkSize:  64,
		MaxPolls:   200,
		PollDelay:  time.Millisecond,
		EOCAddress: 0x1A1040A0,
	}, dc)

	l := tgt.Layout()
	assert.Equal(t, uint32(0x40), l.Length)
	assert.Equal(t, dmatest.DefaultRegisterMap(), l.Regs)
	assert.Equal(t, uint32(0xBEEFFACE), tgt.Verifier().Seed)

	m, err := tgt.MemoryMap()
	require.NoError(t, err)
	require.Len(t, m.Regions, 2)
	r, ok := m.Find(0x20010, 4)
	assert.True(t, ok)
	assert.Equal(t, "L2", r.Name)
}

func TestDefaultsSurvivePartialProfile(t *testing.T) {
	tgt, err := Parse([]byte("link:\n  retries: 1\n"))
	require.NoError(t, err)
	def := DefaultTarget()
	assert.Equal(t, 1, tgt.Link.Retries)
	assert.Equal(t, def.Link.ChunkSize, tgt.Link.ChunkSize)
	assert.Equal(t, def.Timeout, tgt.Timeout)
	assert.Equal(t, def.DMA, tgt.DMA)

	m, err := tgt.MemoryMap()
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"unknown key":     "bogus: 1\n",
		"adapter kind":    "adapter: {kind: ftdi}\n",
		"chunk size":      "link: {chunk_size: 6}\n",
		"timeout":         "timeout: soon\n",
		"zero timeout":    "timeout: 0s\n",
		"dma length":      "dma: {length: 3}\n",
		"negative tries":  "link: {retries: -1}\n",
		"both memory":     "memory_script: memory.x\nmemory: [{name: A, origin: 0, length: 4}]\n",
		"unaligned eoc":   "link: {eoc_address: 0x1A1040A1}\n",
		"zero max polls":  "link: {max_polls: 0}\n",
		"negative speed":  "adapter: {kind: simulator, speed_hz: -5}\n",
		"region overlaps": "memory: [{name: A, origin: 0, length: 8}, {name: B, origin: 4, length: 8}]\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			tgt, err := Parse([]byte(src))
			if err == nil {
				_, err = tgt.MemoryMap()
			}
			assert.Error(t, err)
		})
	}
}

func TestLoadResolvesMemoryScript(t *testing.T) {
	dir := t.TempDir()
	script := "MEMORY { RAM (rwx) : ORIGIN = 0, LENGTH = 64K }\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "memory.x"), []byte(script), 0o644))
	path := filepath.Join(dir, "target.yaml")
	require.NoError(t, os.WriteFile(path, []byte("memory_script: memory.x\n"), 0o644))

	tgt, err := Load(path)
	require.NoError(t, err)
	m, err := tgt.MemoryMap()
	require.NoError(t, err)
	require.Len(t, m.Regions, 1)
	assert.Equal(t, uint64(64<<10), m.Regions[0].Length)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDurationRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(struct {
		Timeout Duration `yaml:"timeout"`
	}{Duration{1500 * time.Millisecond}})
	require.NoError(t, err)
	assert.Equal(t, "timeout: 1.5s\n", string(out))
}
