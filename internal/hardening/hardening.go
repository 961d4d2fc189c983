// Package hardening guards the pipeline's numeric and temporal edges: the
// cold-start window, invalid encoder output, and candle ordering.
package hardening

import (
	"fmt"

	"github.com/danielpatrickdp/boundary-state/internal/candle"
	"github.com/danielpatrickdp/boundary-state/internal/eval"
	"github.com/danielpatrickdp/boundary-state/internal/state"
)

// #region cold-start
// ColdStart counts admitted bars.
type ColdStart struct {
	cfg  Config
	bars int
}

// NewColdStart returns a counter at bar zero.
func NewColdStart(cfg Config) *ColdStart {
	if cfg.ColdBars > cfg.WarmUpBars {
		cfg.ColdBars = cfg.WarmUpBars
	}
	return &ColdStart{cfg: cfg}
}

// Tick counts one bar and returns its sub-phase.
func (c *ColdStart) Tick() WarmUp {
	c.bars++
	return c.Phase()
}

// Phase is the sub-phase of the most recently counted bar.
func (c *ColdStart) Phase() WarmUp {
	n := c.bars - 1
	switch {
	case n < c.cfg.ColdBars:
		return Cold
	case n < c.cfg.WarmUpBars:
		return Warming
	default:
		return Warm
	}
}

// Bars is the number of bars counted since the last Reset.
func (c *ColdStart) Bars() int { return c.bars }

// Reset restarts the warm-up.
func (c *ColdStart) Reset() { c.bars = 0 }

// #endregion cold-start

// #region fallback
// Fallback substitutes the last valid state whenever the eval harness
// rejects encoder output, or the neutral state if none was seen yet.
type Fallback struct {
	harness *eval.EvalHarness
	last    state.State4D
	have    bool
	count   int
}

// NewFallback wraps harness.
func NewFallback(harness *eval.EvalHarness) *Fallback {
	return &Fallback{harness: harness}
}

// Guard returns the state to use, the check result, and whether a
// substitute was used.
func (f *Fallback) Guard(s state.State4D) (state.State4D, eval.EvalResult, bool) {
	result := f.harness.Run(s)
	if result.Passed {
		f.last, f.have = s, true
		return s, result, false
	}
	f.count++
	if f.have {
		return f.last, result, true
	}
	return state.Neutral(), result, true
}

// Count is the number of substitutions since the last Reset.
func (f *Fallback) Count() int { return f.count }

// Reset forgets the last valid state.
func (f *Fallback) Reset() {
	f.last, f.have, f.count = state.State4D{}, false, 0
}

// #endregion fallback

// #region clock
// Clock admits candles only in strictly increasing close_time. Arrival time
// is never consulted.
type Clock struct {
	last candle.Timestamp
	seen bool
}

// Admit checks ts against the last admitted close_time and records it.
func (c *Clock) Admit(ts candle.Timestamp) error {
	if c.seen && ts <= c.last {
		return fmt.Errorf("%w: close_time %d not after %d", candle.ErrOutOfOrder, ts, c.last)
	}
	c.last, c.seen = ts, true
	return nil
}

// Last returns the last admitted close_time.
func (c *Clock) Last() (candle.Timestamp, bool) { return c.last, c.seen }

// Reset forgets the last admitted close_time.
func (c *Clock) Reset() { c.last, c.seen = 0, false }

// #endregion clock
