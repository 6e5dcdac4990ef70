// Package randsrc provides the seedable random generators threaded through
// the simulation. No package in pullsim draws from a process-wide generator:
// every trial owns its generator, so repeated trials are reproducible and can
// run concurrently.
package randsrc

import "math/rand/v2"

// Rand is the subset of *rand.Rand the simulation needs: a uniform draw in [0, n).
type Rand interface {
	IntN(n int) int
}

// golden is the 64-bit golden ratio, used as the PCG stream selector.
const golden = 0x9e3779b97f4a7c15

// New returns a deterministic PCG-backed generator for seed.
func New(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^golden))
}

// Split derives an independent child generator from parent.
// The parent advances by two draws.
func Split(parent *rand.Rand) *rand.Rand {
	return rand.New(rand.NewPCG(parent.Uint64(), parent.Uint64()))
}

// TrialSeed returns the seed of trial i at population size n for a sweep
// seeded with master. It depends only on its arguments, so results do not
// change with the number of workers or the order trials are scheduled in.
func TrialSeed(master uint64, n, i int) uint64 {
	x := mix(master ^ golden)
	x = mix(x ^ uint64(n))
	return mix(x ^ uint64(i))
}

// mix is the splitmix64 finalizer.
func mix(x uint64) uint64 {
	x += golden
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// Fixed is a Rand that always returns the same value, clamped into [0, n).
// It is meant for tests that need to pin a draw, such as a lazy agent's phase.
type Fixed int

// IntN implements Rand.
func (f Fixed) IntN(n int) int {
	v := int(f)
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}
