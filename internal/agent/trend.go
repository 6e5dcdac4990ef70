package agent

import "github.com/nvandessel/pullsim/internal/randsrc"

// Trend implements binary Follow the Trend (arXiv:2203.11522): the agent
// adopts 1 when its sample holds more 1s than the previous sample, 0 when
// it holds fewer, and keeps its opinion on a tie. Opinions must be 0 or 1
// for the rule to be meaningful; any other value is treated as "not 1".
type Trend struct {
	base[int]
	count int // 1s seen in the previous sample
}

// NewTrend creates a binary trend follower. sampleSize should be
// logarithmic in the population size.
func NewTrend(sampleSize, opinion int) *Trend {
	return &Trend{base: base[int]{sampleSize: sampleSize, opinion: opinion}}
}

func (a *Trend) Update(samples []int) {
	newCount := Count(samples, 1)
	switch {
	case newCount > a.count:
		a.opinion = 1
	case newCount < a.count:
		a.opinion = 0
	}
	a.count = newCount
}

// MultiTrend generalizes Trend to any opinion domain. Each activation it
// computes, for every opinion present in the sample, the change in its
// count since the previous sample, and adopts an opinion drawn uniformly
// among those with the largest non-negative change.
//
// Opinions whose count fell are never candidates. With a fixed sample size
// the changes over present opinions sum to a non-negative number, so the
// candidate set is empty only for an empty sample; the opinion is then kept.
type MultiTrend[T comparable] struct {
	base[T]
	rng randsrc.Rand

	// Count maps are double-buffered: swapped and cleared each update.
	oldCounts map[T]int
	newCounts map[T]int

	// order lists the values of newCounts by first appearance in the sample,
	// so draws among candidates do not depend on map iteration order.
	order      []T
	candidates []T
}

// NewMultiTrend creates a multi-valued trend follower. rng breaks ties.
func NewMultiTrend[T comparable](sampleSize int, opinion T, rng randsrc.Rand) *MultiTrend[T] {
	return &MultiTrend[T]{
		base:      base[T]{sampleSize: sampleSize, opinion: opinion},
		rng:       rng,
		oldCounts: make(map[T]int),
		newCounts: make(map[T]int),
	}
}

func (a *MultiTrend[T]) Update(samples []T) {
	a.oldCounts, a.newCounts = a.newCounts, a.oldCounts
	clear(a.newCounts)
	a.order = a.order[:0]
	for _, s := range samples {
		if _, seen := a.newCounts[s]; !seen {
			a.order = append(a.order, s)
		}
		a.newCounts[s]++
	}

	best := 0
	a.candidates = a.candidates[:0]
	for _, v := range a.order {
		d := a.newCounts[v] - a.oldCounts[v]
		switch {
		case d > best:
			best = d
			a.candidates = append(a.candidates[:0], v)
		case d == best:
			a.candidates = append(a.candidates, v)
		}
	}

	switch len(a.candidates) {
	case 0:
	case 1:
		a.opinion = a.candidates[0]
	default:
		a.opinion = a.candidates[a.rng.IntN(len(a.candidates))]
	}
}
