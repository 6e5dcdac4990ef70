// Package dynamics implements the scheduler of pull-based opinion dynamics:
// it activates agents, fills their samples with opinions pulled from
// uniformly random peers, counts elapsed rounds, and detects consensus.
//
// Two activation schedules are supported. In a parallel (synchronous) round
// every agent pulls from the pre-round opinions and then all agents update.
// In a sequential (asynchronous) round n single activations happen one after
// another, each seeing the updates made before it. A round costs n
// activations either way, so round counts are comparable.
//
// "Parallel" names the logical schedule only. A Dynamics is not safe for
// concurrent use; independent Dynamics may run on different goroutines.
package dynamics

import (
	"context"
	"errors"
	"fmt"

	"github.com/nvandessel/pullsim/internal/agent"
	"github.com/nvandessel/pullsim/internal/randsrc"
)

// ErrNotConverged is returned by capped runs whose stopping condition was
// not met within the round budget.
var ErrNotConverged = errors.New("stopping condition not reached within round budget")

// Predicate reports whether a run should stop.
type Predicate[T comparable] func(d *Dynamics[T]) bool

// Dynamics owns a population of agents and schedules their activations.
type Dynamics[T comparable] struct {
	agents   []agent.Agent[T]
	parallel bool
	rng      randsrc.Rand

	// samples[i] is agent i's pull buffer, len == agents[i].SampleSize().
	samples [][]T

	time int

	// consensus caches the all-equal check of the last parallel round.
	consensus bool
}

// New creates a Dynamics over agents. The slice is owned by the Dynamics
// from then on and never reordered. rng draws peers and, in sequential
// mode, the agent to activate. New panics on an empty population.
func New[T comparable](agents []agent.Agent[T], parallel bool, rng randsrc.Rand) *Dynamics[T] {
	if len(agents) == 0 {
		panic("dynamics: empty population")
	}
	samples := make([][]T, len(agents))
	for i, a := range agents {
		samples[i] = make([]T, a.SampleSize())
	}
	return &Dynamics[T]{
		agents:   agents,
		parallel: parallel,
		rng:      rng,
		samples:  samples,
	}
}

// pull fills agent i's buffer with the current opinions of uniformly random
// peers, drawn with replacement. An agent may sample itself.
func (d *Dynamics[T]) pull(i int) {
	n := len(d.agents)
	buf := d.samples[i]
	for j := range buf {
		buf[j] = d.agents[d.rng.IntN(n)].Output()
	}
}

// round executes one parallel or sequential round.
func (d *Dynamics[T]) round() {
	n := len(d.agents)
	if !d.parallel {
		for step := 0; step < n; step++ {
			k := d.rng.IntN(n)
			d.pull(k)
			d.agents[k].Update(d.samples[k])
		}
		return
	}

	for i := 0; i < n; i++ {
		d.pull(i)
	}
	for i := 0; i < n; i++ {
		d.agents[i].Update(d.samples[i])
	}
	d.consensus = d.allEqual()
}

// allEqual reports whether every agent currently outputs the same opinion.
func (d *Dynamics[T]) allEqual() bool {
	first := d.agents[0].Output()
	for _, a := range d.agents[1:] {
		if a.Output() != first {
			return false
		}
	}
	return true
}

// Run simulates the given number of rounds. Non-positive values do nothing.
func (d *Dynamics[T]) Run(rounds int) {
	for t := 0; t < rounds; t++ {
		d.time++
		d.round()
	}
}

// RunUntil simulates rounds until pred returns true and returns the elapsed
// round count. pred is checked before each round, so a condition that already
// holds costs no rounds. It never returns if pred never holds; use RunCapped
// to bound the run.
func (d *Dynamics[T]) RunUntil(pred Predicate[T]) int {
	for !pred(d) {
		d.Run(1)
	}
	return d.time
}

// RunUntilConsensus simulates rounds until consensus and returns the elapsed
// round count.
func (d *Dynamics[T]) RunUntilConsensus() int {
	return d.RunUntil((*Dynamics[T]).Consensus)
}

// RunCapped is RunUntil with a budget. Once Time() reaches maxRounds without
// pred holding it returns the elapsed rounds and an error wrapping
// ErrNotConverged. Cancellation of ctx is checked between rounds and
// returned as is. maxRounds <= 0 means no budget.
func (d *Dynamics[T]) RunCapped(ctx context.Context, pred Predicate[T], maxRounds int) (int, error) {
	for !pred(d) {
		if maxRounds > 0 && d.time >= maxRounds {
			return d.time, fmt.Errorf("after %d rounds: %w", d.time, ErrNotConverged)
		}
		if err := ctx.Err(); err != nil {
			return d.time, err
		}
		d.Run(1)
	}
	return d.time, nil
}

// RunToConsensus is RunCapped with the consensus predicate.
func (d *Dynamics[T]) RunToConsensus(ctx context.Context, maxRounds int) (int, error) {
	return d.RunCapped(ctx, (*Dynamics[T]).Consensus, maxRounds)
}

// Time returns the number of rounds simulated since construction.
func (d *Dynamics[T]) Time() int { return d.time }

// Consensus reports whether all agents hold the same opinion. In parallel
// mode this is the flag computed at the end of the last round, false before
// the first round. In sequential mode it is recomputed on every call, O(n).
func (d *Dynamics[T]) Consensus() bool {
	if d.parallel {
		return d.consensus
	}
	return d.allEqual()
}

// Len returns the population size.
func (d *Dynamics[T]) Len() int { return len(d.agents) }

// Parallel reports whether rounds are synchronous.
func (d *Dynamics[T]) Parallel() bool { return d.parallel }

// Agent returns the agent at index i.
func (d *Dynamics[T]) Agent(i int) agent.Agent[T] { return d.agents[i] }

// Opinions returns a snapshot of every agent's opinion, in index order.
func (d *Dynamics[T]) Opinions() []T {
	out := make([]T, len(d.agents))
	for i, a := range d.agents {
		out[i] = a.Output()
	}
	return out
}

// Opinion returns the common opinion when all agents currently agree.
// Unlike Consensus it always inspects the agents.
func (d *Dynamics[T]) Opinion() (T, bool) {
	if !d.allEqual() {
		var zero T
		return zero, false
	}
	return d.agents[0].Output(), true
}
