// Package agent defines the per-process update rules of pull-based opinion
// dynamics. An agent exposes an opinion to its peers and, when activated,
// updates it from a batch of opinions pulled from uniformly random peers.
//
// The scheduler in package dynamics guarantees that Update always receives
// exactly SampleSize() opinions. Agents never return errors.
package agent

// Agent is the capability every update rule implements.
type Agent[T comparable] interface {
	// SampleSize is the number of peer opinions consumed per activation.
	// It never changes after construction.
	SampleSize() int

	// Output returns the current opinion without side effects.
	Output() T

	// Update mutates the agent's memory and possibly its opinion.
	// len(samples) == SampleSize().
	Update(samples []T)
}

// base holds the state shared by all rules.
type base[T comparable] struct {
	sampleSize int
	opinion    T
}

func (b *base[T]) SampleSize() int { return b.sampleSize }

func (b *base[T]) Output() T { return b.opinion }

// Source is an authority whose opinion never changes. It pulls nothing.
type Source[T comparable] struct {
	base[T]
}

// NewSource creates a source agent holding the correct opinion.
func NewSource[T comparable](opinion T) *Source[T] {
	return &Source[T]{base[T]{sampleSize: 0, opinion: opinion}}
}

// Update does nothing.
func (s *Source[T]) Update([]T) {}

// Voter copies the opinion of one uniformly random peer per activation.
type Voter[T comparable] struct {
	base[T]
}

// NewVoter creates a voter agent with the given initial opinion.
func NewVoter[T comparable](opinion T) *Voter[T] {
	return &Voter[T]{base[T]{sampleSize: 1, opinion: opinion}}
}

func (v *Voter[T]) Update(samples []T) {
	v.opinion = samples[0]
}

// Count returns how many times target appears in samples.
func Count[T comparable](samples []T, target T) int {
	n := 0
	for _, s := range samples {
		if s == target {
			n++
		}
	}
	return n
}
