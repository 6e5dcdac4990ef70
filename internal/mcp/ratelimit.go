package mcp

import (
	"fmt"

	"golang.org/x/time/rate"
)

// newToolLimiters returns one token bucket per tool. Simulations are the
// expensive calls and get the tightest budget.
func newToolLimiters() map[string]*rate.Limiter {
	return map[string]*rate.Limiter{
		toolTrial:   rate.NewLimiter(rate.Limit(1.0), 10),     // 60/minute, burst 10
		toolAverage: rate.NewLimiter(rate.Limit(6.0/60.0), 2), // 6/minute, burst 2
		toolHistory: rate.NewLimiter(rate.Limit(1.0), 10),     // 60/minute, burst 10
	}
}

// checkLimit returns an error when toolName has exhausted its budget.
// Tools without a limiter are always allowed.
func checkLimit(limiters map[string]*rate.Limiter, toolName string) error {
	limiter, ok := limiters[toolName]
	if !ok {
		return nil
	}
	if !limiter.Allow() {
		return fmt.Errorf("rate limit exceeded for %s, please try again shortly", toolName)
	}
	return nil
}
