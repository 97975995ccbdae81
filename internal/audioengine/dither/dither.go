// Package dither implements TPDF (triangular probability density function)
// dithering for bit-depth reduction, per spec.md §4.B: "optionally add one
// TPDF dither sample scaled to 1 LSB (lcg_next × 2 − 1)".
package dither

// lcgMultiplier is the Knuth MMIX linear congruential multiplier named by
// spec.md §4.B.
const lcgMultiplier uint64 = 6364136223846793005
const lcgIncrement uint64 = 1442695040888963407

// Generator is a per-callback-thread LCG. Each real-time callback goroutine
// owns its own Generator so no synchronization is needed on the hot path.
type Generator struct {
	state uint64
}

// NewGenerator seeds a Generator deterministically, as spec.md requires
// ("LCG state is per-callback-thread (seeded deterministically)").
func NewGenerator(seed uint64) *Generator {
	return &Generator{state: seed}
}

// next advances the LCG and returns a uniform value in [0, 1).
func (g *Generator) next() float64 {
	g.state = g.state*lcgMultiplier + lcgIncrement
	// top 53 bits give a well-distributed float64 mantissa's worth of entropy.
	return float64(g.state>>11) / float64(1<<53)
}

// TPDFSample returns one triangular-distributed dither sample scaled to
// +/-1 LSB, computed as the spec names it: (lcg_next*2-1) drawn twice and
// averaged for the triangular shape, i.e. the mean of two independent
// uniform draws centered at zero.
func (g *Generator) TPDFSample() float64 {
	a := g.next()*2 - 1
	b := g.next()*2 - 1
	return (a + b) / 2
}
