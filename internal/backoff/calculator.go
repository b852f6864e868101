// Package backoff computes retry delays for the session's retry loop.
package backoff

import "time"

// Calculator pairs a Strategy with fixed parameters.
type Calculator struct {
	strategy Strategy
	params   Params
}

// NewCalculator returns a calculator; a nil strategy means Exponential.
func NewCalculator(strategy Strategy, params Params) *Calculator {
	if strategy == nil {
		strategy = Exponential{}
	}
	if params.Multiplier <= 0 {
		params.Multiplier = 2
	}
	if params.Max < params.Initial {
		params.Max = params.Initial
	}
	return &Calculator{strategy: strategy, params: params}
}

// Delay returns the wait before retry attempt n (zero-based).
func (c *Calculator) Delay(attempt int) time.Duration {
	return c.strategy.Delay(attempt, c.params)
}

// Params returns the parameters the calculator was built with.
func (c *Calculator) Params() Params {
	return c.params
}
