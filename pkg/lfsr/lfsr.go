// Package lfsr generates the reproducible test data used by the on-target
// self tests.
//
// The generator is a 32-bit Fibonacci LFSR: the feedback bit is the XOR of
// bits 0, 2, 3 and 5, the register shifts right by one and the feedback bit
// enters at bit 31. It matches the routine compiled into the target firmware
// bit for bit, so a buffer filled on the target can be regenerated on the
// host and compared word by word.
package lfsr

// DefaultSeed is the seed used by the target firmware.
const DefaultSeed uint32 = 0xBEEFFACE

// Generator is an owned LFSR instance. The zero value is not usable; create
// generators with New.
type Generator struct {
	state uint32
}

// New returns a generator seeded with seed. Zero is the only fixed point of
// the feedback function, so a zero seed is replaced with DefaultSeed.
func New(seed uint32) *Generator {
	if seed == 0 {
		seed = DefaultSeed
	}
	return &Generator{state: seed}
}

// Next advances the register by one step and returns the new value.
func (g *Generator) Next() uint32 {
	s := g.state
	bit := (s ^ (s >> 2) ^ (s >> 3) ^ (s >> 5)) & 1
	g.state = (s >> 1) | (bit << 31)
	return g.state
}

// State reports the current register value without advancing it.
func (g *Generator) State() uint32 {
	return g.state
}

// Fill overwrites every element of dst with successive values.
func (g *Generator) Fill(dst []uint32) {
	for i := range dst {
		dst[i] = g.Next()
	}
}
