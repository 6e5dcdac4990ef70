package agent

import (
	"testing"

	"github.com/nvandessel/pullsim/internal/randsrc"
)

// countingAgent flips its opinion on every update and counts calls.
type countingAgent struct {
	calls   int
	opinion int
}

func (c *countingAgent) SampleSize() int { return 2 }
func (c *countingAgent) Output() int     { return c.opinion }
func (c *countingAgent) Update([]int) {
	c.calls++
	c.opinion = 1 - c.opinion
}

func TestLazy_FiresOncePerClock(t *testing.T) {
	for _, duration := range []int{1, 2, 5, 13} {
		inner := &countingAgent{}
		l := NewLazyWithPhase[int](inner, duration, 0)

		for period := 0; period < 4; period++ {
			before := l.Output()
			for i := 0; i < duration; i++ {
				l.Update([]int{0, 0})
				if i == 0 {
					if l.Output() == before {
						t.Fatalf("duration %d period %d: opinion did not change on firing", duration, period)
					}
				} else if l.Output() != inner.Output() {
					t.Fatalf("duration %d: exposed opinion diverged from inner between firings", duration)
				}
			}
			if inner.calls != period+1 {
				t.Fatalf("duration %d: inner updated %d times after %d periods", duration, inner.calls, period+1)
			}
		}
	}
}

func TestLazy_FrozenWhileCountingDown(t *testing.T) {
	inner := NewVoter(0)
	l := NewLazyWithPhase[int](inner, 3, 2)

	l.Update([]int{1})
	l.Update([]int{1})
	if l.Output() != 0 || inner.Output() != 0 {
		t.Fatalf("opinion changed before the clock expired: lazy=%d inner=%d", l.Output(), inner.Output())
	}
	l.Update([]int{1})
	if l.Output() != 1 {
		t.Fatalf("Output() = %d after firing, want 1", l.Output())
	}
}

func TestLazy_InheritsInner(t *testing.T) {
	inner := NewTrend(7, 1)
	l := NewLazy[int](inner, 4, randsrc.New(9))
	if l.SampleSize() != 7 {
		t.Errorf("SampleSize() = %d, want 7", l.SampleSize())
	}
	if l.Output() != 1 {
		t.Errorf("Output() = %d, want 1", l.Output())
	}
	if l.ClockDuration() != 4 {
		t.Errorf("ClockDuration() = %d, want 4", l.ClockDuration())
	}
	if l.Inner() != Agent[int](inner) {
		t.Error("Inner() does not return the wrapped agent")
	}
}

func TestLazy_InitialPhaseDrawnFromSource(t *testing.T) {
	inner := &countingAgent{}
	l := NewLazy[int](inner, 5, randsrc.Fixed(3))
	for i := 0; i < 3; i++ {
		l.Update([]int{0, 0})
	}
	if inner.calls != 0 {
		t.Fatalf("inner fired during the first 3 activations with phase 3")
	}
	l.Update([]int{0, 0})
	if inner.calls != 1 {
		t.Fatalf("inner calls = %d on the 4th activation, want 1", inner.calls)
	}
}

func TestLazy_InvalidClockPanics(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"zero duration", func() { NewLazy[int](NewVoter(0), 0, randsrc.New(1)) }},
		{"phase out of range", func() { NewLazyWithPhase[int](NewVoter(0), 3, 3) }},
		{"negative phase", func() { NewLazyWithPhase[int](NewVoter(0), 3, -1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn()
		})
	}
}
