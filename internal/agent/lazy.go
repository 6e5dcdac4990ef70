package agent

import (
	"fmt"

	"github.com/nvandessel/pullsim/internal/randsrc"
)

// Lazy wraps another agent and runs its update rule only once every
// clockDuration activations. Between firings the exposed opinion is frozen,
// though peers keep sampling it.
type Lazy[T comparable] struct {
	base[T]
	inner         Agent[T]
	clock         int
	clockDuration int
}

// NewLazy wraps inner with a clock of the given duration. The initial
// countdown is drawn uniformly from [0, clockDuration) so that agents built
// together do not fire in lockstep. It panics if clockDuration < 1.
func NewLazy[T comparable](inner Agent[T], clockDuration int, rng randsrc.Rand) *Lazy[T] {
	if clockDuration < 1 {
		panic(fmt.Sprintf("agent: lazy clock duration must be positive, got %d", clockDuration))
	}
	return NewLazyWithPhase(inner, clockDuration, rng.IntN(clockDuration))
}

// NewLazyWithPhase is NewLazy with an explicit initial countdown.
// A phase of 0 fires on the first activation.
func NewLazyWithPhase[T comparable](inner Agent[T], clockDuration, phase int) *Lazy[T] {
	if clockDuration < 1 {
		panic(fmt.Sprintf("agent: lazy clock duration must be positive, got %d", clockDuration))
	}
	if phase < 0 || phase >= clockDuration {
		panic(fmt.Sprintf("agent: lazy phase %d outside [0, %d)", phase, clockDuration))
	}
	return &Lazy[T]{
		base:          base[T]{sampleSize: inner.SampleSize(), opinion: inner.Output()},
		inner:         inner,
		clock:         phase,
		clockDuration: clockDuration,
	}
}

// ClockDuration returns the number of activations per firing.
func (l *Lazy[T]) ClockDuration() int { return l.clockDuration }

// Inner returns the wrapped agent.
func (l *Lazy[T]) Inner() Agent[T] { return l.inner }

func (l *Lazy[T]) Update(samples []T) {
	if l.clock > 0 {
		l.clock--
		return
	}
	l.clock = l.clockDuration - 1
	l.inner.Update(samples)
	l.opinion = l.inner.Output()
}
