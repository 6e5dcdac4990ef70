// Package protocol builds ready-to-run populations for the opinion dynamics
// studied by pullsim. It is the only place where protocol parameters are
// fixed: sample size, number of distinct opinions, laziness, schedule, and
// the presence of a source agent.
//
// Every population has one source agent at index 0 holding the correct
// opinion; the remaining n-1 agents run the protocol's update rule.
package protocol

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/nvandessel/pullsim/internal/agent"
	"github.com/nvandessel/pullsim/internal/dynamics"
	"github.com/nvandessel/pullsim/internal/randsrc"
)

// Rule names accepted by Lookup.
const (
	RuleVoter      = "voter"
	RuleTrend      = "trend"
	RuleMultiTrend = "multi-trend"
)

// ErrUnknownRule is returned by Lookup for unregistered rule names.
var ErrUnknownRule = errors.New("unknown protocol rule")

// Initializer produces a fresh Dynamics of the requested population size.
// Implementations draw all randomness from rng and share no mutable state
// between calls, so they are safe for concurrent use with distinct
// generators.
type Initializer[T comparable] interface {
	Initialize(n int, rng *rand.Rand) *dynamics.Dynamics[T]
}

// Func adapts a function to the Initializer interface.
type Func[T comparable] func(n int, rng *rand.Rand) *dynamics.Dynamics[T]

// Initialize calls f(n, rng).
func (f Func[T]) Initialize(n int, rng *rand.Rand) *dynamics.Dynamics[T] {
	return f(n, rng)
}

// Params configures the initial configuration of a protocol.
type Params struct {
	// RandomOpinions draws each non-source opinion uniformly from [0, Opinions).
	// Otherwise every non-source agent starts on the same wrong opinion
	// (a pseudo-consensus the source has to overturn).
	RandomOpinions bool `json:"random_opinions" yaml:"random_opinions"`

	// Opinions is the number of distinct opinions k. Default: 2.
	Opinions int `json:"opinions" yaml:"opinions"`

	// SourceOpinion is the correct opinion held by the source. Default: 0.
	SourceOpinion int `json:"source_opinion" yaml:"source_opinion"`

	// Parallel selects synchronous rounds. Default: false (sequential).
	Parallel bool `json:"parallel" yaml:"parallel"`

	// SampleFactor scales the trend sample size: floor(SampleFactor * ln n).
	// Default: 10.
	SampleFactor float64 `json:"sample_factor" yaml:"sample_factor"`

	// Lazy wraps trend followers so they fire once every sample-size
	// activations. Default: true.
	Lazy bool `json:"lazy" yaml:"lazy"`
}

// DefaultParams returns the parameters of the reference experiment.
func DefaultParams() Params {
	return Params{
		RandomOpinions: true,
		Opinions:       2,
		SourceOpinion:  0,
		Parallel:       false,
		SampleFactor:   10,
		Lazy:           true,
	}
}

// Validate checks that the parameters describe a buildable population.
func (p Params) Validate() error {
	if p.Opinions < 2 {
		return fmt.Errorf("opinions must be at least 2, got %d", p.Opinions)
	}
	if p.SourceOpinion < 0 || p.SourceOpinion >= p.Opinions {
		return fmt.Errorf("source_opinion must be in [0, %d), got %d", p.Opinions, p.SourceOpinion)
	}
	if p.SampleFactor <= 0 || math.IsNaN(p.SampleFactor) || math.IsInf(p.SampleFactor, 0) {
		return fmt.Errorf("sample_factor must be positive, got %v", p.SampleFactor)
	}
	return nil
}

// SampleSize returns floor(factor * ln n), at least 1.
func SampleSize(n int, factor float64) int {
	if n < 2 {
		return 1
	}
	return max(1, int(factor*math.Log(float64(n))))
}

// wrongOpinion is the opinion every non-source agent holds in a pseudo-consensus.
func (p Params) wrongOpinion() int {
	return (p.SourceOpinion + 1) % p.Opinions
}

func (p Params) initialOpinion(rng *rand.Rand) int {
	if p.RandomOpinions {
		return rng.IntN(p.Opinions)
	}
	return p.wrongOpinion()
}

// build assembles a population of n agents: the source, then n-1 agents from
// newAgent. The Dynamics and the agents share a generator split from rng.
func (p Params) build(n int, rng *rand.Rand, newAgent func(opinion int, sim *rand.Rand) agent.Agent[int]) *dynamics.Dynamics[int] {
	if n < 1 {
		panic(fmt.Sprintf("protocol: population size must be positive, got %d", n))
	}
	sim := randsrc.Split(rng)
	agents := make([]agent.Agent[int], 0, n)
	agents = append(agents, agent.NewSource(p.SourceOpinion))
	for i := 1; i < n; i++ {
		agents = append(agents, newAgent(p.initialOpinion(rng), sim))
	}
	return dynamics.New(agents, p.Parallel, sim)
}

// Voter returns the initialization of the Voter dynamics.
func Voter(p Params) Initializer[int] {
	return Func[int](func(n int, rng *rand.Rand) *dynamics.Dynamics[int] {
		return p.build(n, rng, func(opinion int, _ *rand.Rand) agent.Agent[int] {
			return agent.NewVoter(opinion)
		})
	})
}

// FollowTheTrend returns the initialization of the binary Follow the Trend
// dynamics with a sample size of SampleSize(n, p.SampleFactor), lazily
// clocked by the same amount when p.Lazy is set. With more than two opinions
// the binary rule still applies: agents holding values other than 0 and 1
// are pulled to 0 or 1 by their first trend change.
func FollowTheTrend(p Params) Initializer[int] {
	return Func[int](func(n int, rng *rand.Rand) *dynamics.Dynamics[int] {
		l := SampleSize(n, p.SampleFactor)
		return p.build(n, rng, func(opinion int, sim *rand.Rand) agent.Agent[int] {
			var a agent.Agent[int] = agent.NewTrend(l, opinion)
			if p.Lazy {
				a = agent.NewLazy(a, l, rng)
			}
			return a
		})
	})
}

// MultiTrend returns the initialization of the multi-valued Follow the Trend
// dynamics. Sizing and laziness follow FollowTheTrend.
func MultiTrend(p Params) Initializer[int] {
	return Func[int](func(n int, rng *rand.Rand) *dynamics.Dynamics[int] {
		l := SampleSize(n, p.SampleFactor)
		return p.build(n, rng, func(opinion int, sim *rand.Rand) agent.Agent[int] {
			var a agent.Agent[int] = agent.NewMultiTrend(l, opinion, sim)
			if p.Lazy {
				a = agent.NewLazy(a, l, rng)
			}
			return a
		})
	})
}

var registry = map[string]func(Params) Initializer[int]{
	RuleVoter:      Voter,
	RuleTrend:      FollowTheTrend,
	RuleMultiTrend: MultiTrend,
}

// Lookup returns the initializer registered under rule, configured with p.
func Lookup(rule string, p Params) (Initializer[int], error) {
	newInit, ok := registry[rule]
	if !ok {
		return nil, fmt.Errorf("%w: %q (valid: %v)", ErrUnknownRule, rule, Rules())
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameters for %s: %w", rule, err)
	}
	// Binary trend followers only ever adopt 0 or 1.
	if rule == RuleTrend && p.SourceOpinion > 1 {
		return nil, fmt.Errorf("invalid parameters for %s: source_opinion must be 0 or 1, got %d (use %s for more opinions)",
			rule, p.SourceOpinion, RuleMultiTrend)
	}
	return newInit(p), nil
}

// Rules returns the registered rule names, sorted.
func Rules() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
