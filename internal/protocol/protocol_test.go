package protocol

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/nvandessel/pullsim/internal/agent"
	"github.com/nvandessel/pullsim/internal/randsrc"
)

func TestSampleSize(t *testing.T) {
	tests := []struct {
		n      int
		factor float64
		want   int
	}{
		{1, 10, 1},
		{2, 10, 6},
		{8, 10, 20},
		{1024, 10, 69},
		{3, 0.1, 1},
	}
	for _, tt := range tests {
		if got := SampleSize(tt.n, tt.factor); got != tt.want {
			t.Errorf("SampleSize(%d, %v) = %d, want %d", tt.n, tt.factor, got, tt.want)
		}
	}
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Params)
		wantErr bool
	}{
		{"defaults", func(p *Params) {}, false},
		{"ten opinions", func(p *Params) { p.Opinions = 10 }, false},
		{"one opinion", func(p *Params) { p.Opinions = 1 }, true},
		{"source out of range", func(p *Params) { p.SourceOpinion = 2 }, true},
		{"negative source", func(p *Params) { p.SourceOpinion = -1 }, true},
		{"zero factor", func(p *Params) { p.SampleFactor = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVoter_Population(t *testing.T) {
	p := DefaultParams()
	p.RandomOpinions = false
	d := Voter(p).Initialize(10, randsrc.New(1))

	if d.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", d.Len())
	}
	if _, ok := d.Agent(0).(*agent.Source[int]); !ok {
		t.Fatalf("agent 0 is %T, want *agent.Source[int]", d.Agent(0))
	}
	if d.Parallel() {
		t.Error("default schedule should be sequential")
	}
	for i := 1; i < d.Len(); i++ {
		a, ok := d.Agent(i).(*agent.Voter[int])
		if !ok {
			t.Fatalf("agent %d is %T, want *agent.Voter[int]", i, d.Agent(i))
		}
		if a.Output() != 1 {
			t.Errorf("agent %d opinion = %d, want pseudo-consensus 1", i, a.Output())
		}
	}
}

func TestRandomOpinionsInRange(t *testing.T) {
	p := DefaultParams()
	p.Opinions = 10
	d := Voter(p).Initialize(500, randsrc.New(2))
	seen := make(map[int]bool)
	for _, o := range d.Opinions()[1:] {
		if o < 0 || o >= 10 {
			t.Fatalf("opinion %d outside [0, 10)", o)
		}
		seen[o] = true
	}
	if len(seen) != 10 {
		t.Errorf("saw %d distinct opinions among 499 agents, want 10", len(seen))
	}
}

func TestFollowTheTrend_Population(t *testing.T) {
	p := DefaultParams()
	d := FollowTheTrend(p).Initialize(16, randsrc.New(3))
	want := SampleSize(16, 10)
	for i := 1; i < d.Len(); i++ {
		l, ok := d.Agent(i).(*agent.Lazy[int])
		if !ok {
			t.Fatalf("agent %d is %T, want *agent.Lazy[int]", i, d.Agent(i))
		}
		if l.ClockDuration() != want || l.SampleSize() != want {
			t.Errorf("agent %d: clock %d sample %d, want %d", i, l.ClockDuration(), l.SampleSize(), want)
		}
		if _, ok := l.Inner().(*agent.Trend); !ok {
			t.Errorf("agent %d wraps %T, want *agent.Trend", i, l.Inner())
		}
	}

	p.Lazy = false
	d = FollowTheTrend(p).Initialize(16, randsrc.New(3))
	if _, ok := d.Agent(1).(*agent.Trend); !ok {
		t.Errorf("non-lazy agent is %T, want *agent.Trend", d.Agent(1))
	}
}

func TestMultiTrend_Population(t *testing.T) {
	p := DefaultParams()
	p.Lazy = false
	p.Parallel = true
	d := MultiTrend(p).Initialize(8, randsrc.New(4))
	if !d.Parallel() {
		t.Error("Parallel() = false")
	}
	if _, ok := d.Agent(3).(*agent.MultiTrend[int]); !ok {
		t.Errorf("agent 3 is %T, want *agent.MultiTrend[int]", d.Agent(3))
	}
}

func TestInitialize_FreshAndDeterministic(t *testing.T) {
	init := FollowTheTrend(DefaultParams())
	a := init.Initialize(32, randsrc.New(9))
	b := init.Initialize(32, randsrc.New(9))
	for i := 0; i < a.Len(); i++ {
		if a.Agent(i) == b.Agent(i) {
			t.Fatalf("agent %d shared between two initializations", i)
		}
	}
	if !slices.Equal(a.Opinions(), b.Opinions()) {
		t.Fatal("equal seeds produced different initial opinions")
	}
	ra, rb := a.RunUntilConsensus(), b.RunUntilConsensus()
	if ra != rb {
		t.Errorf("equal seeds converged in %d and %d rounds", ra, rb)
	}
}

func TestInitialize_SingleAgent(t *testing.T) {
	for _, rule := range Rules() {
		init, err := Lookup(rule, DefaultParams())
		if err != nil {
			t.Fatalf("Lookup(%q): %v", rule, err)
		}
		d := init.Initialize(1, randsrc.New(1))
		if d.RunUntilConsensus() != 0 {
			t.Errorf("%s: single source should already be in consensus", rule)
		}
	}
}

func TestConvergesToSourceOpinion(t *testing.T) {
	tests := []struct {
		rule string
		n    int
	}{
		{RuleVoter, 32},
		{RuleTrend, 16},
	}
	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			p := DefaultParams()
			p.RandomOpinions = false
			init, err := Lookup(tt.rule, p)
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			for seed := uint64(0); seed < 5; seed++ {
				d := init.Initialize(tt.n, randsrc.New(seed))
				if _, err := d.RunToConsensus(context.Background(), 200_000); err != nil {
					t.Fatalf("seed %d: %v", seed, err)
				}
				if o, ok := d.Opinion(); !ok || o != p.SourceOpinion {
					t.Fatalf("seed %d: consensus on %d, want source opinion %d", seed, o, p.SourceOpinion)
				}
			}
		})
	}
}

func TestLookup(t *testing.T) {
	if _, err := Lookup("majority", DefaultParams()); !errors.Is(err, ErrUnknownRule) {
		t.Errorf("Lookup(majority) error = %v, want ErrUnknownRule", err)
	}
	bad := DefaultParams()
	bad.Opinions = 0
	if _, err := Lookup(RuleVoter, bad); err == nil {
		t.Error("Lookup with invalid params should fail")
	}

	wideSource := DefaultParams()
	wideSource.Opinions = 10
	wideSource.SourceOpinion = 5
	if _, err := Lookup(RuleTrend, wideSource); err == nil {
		t.Error("Lookup(trend) with source opinion 5 should fail")
	}
	for _, rule := range []string{RuleVoter, RuleMultiTrend} {
		if _, err := Lookup(rule, wideSource); err != nil {
			t.Errorf("Lookup(%s) with source opinion 5: %v", rule, err)
		}
	}
	wideSource.SourceOpinion = 1
	if _, err := Lookup(RuleTrend, wideSource); err != nil {
		t.Errorf("Lookup(trend) with source opinion 1: %v", err)
	}

	want := []string{RuleMultiTrend, RuleTrend, RuleVoter}
	if got := Rules(); !slices.Equal(got, want) {
		t.Errorf("Rules() = %v, want %v", got, want)
	}
}

func TestInitialize_NonPositivePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for n = 0")
		}
	}()
	Voter(DefaultParams()).Initialize(0, randsrc.New(1))
}
