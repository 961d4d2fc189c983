// Package validator decides whether a state has reached a decision-worthy
// boundary. Its rules are frozen: a state is judged only against the
// channel thresholds and the per-direction hold times.
package validator

import "github.com/danielpatrickdp/boundary-state/internal/state"

// #region validator
// Validator is stateless beyond its thresholds.
type Validator struct {
	th state.Thresholds
}

// New returns a validator for th.
func New(th state.Thresholds) Validator {
	return Validator{th: th}
}

// Thresholds returns the constants the validator judges against.
func (v Validator) Thresholds() state.Thresholds { return v.th }

// Validate judges s against the boundary named by dir.
func (v Validator) Validate(s state.State4D, dir state.Direction) Outcome {
	out := Outcome{Direction: dir, DeltaMultiplier: v.ExpectedDeltaMultiplier(s, dir)}
	switch {
	case !v.th.AtBoundary(s.ChannelPos, dir):
		out.Kind, out.Reason = Reject, EventNotStarted
	case s.HoldTime < v.th.TauMin(dir):
		out.Kind, out.Reason = Pending, Accumulating
	case s.HoldTime < v.th.TauOptimal(dir):
		out.Kind, out.Reason = Pending, MinimalHold
	default:
		out.Kind, out.Reason = Validated, StateComplete
	}
	return out
}

// #endregion validator

// #region delta-multiplier

// deltaBuckets maps a minimum hold time to the delta multiplier expected once
// the boundary releases. Ordered by descending hold.
var deltaBuckets = []struct {
	minHold    int
	multiplier float64
}{
	{15, 2.4},
	{10, 2.0},
	{7, 1.6},
	{5, 1.3},
	{0, 1.0},
}

// ExpectedDeltaMultiplier looks up the release multiplier for the state's
// hold bucket. It is diagnostic only and never feeds a decision.
func (v Validator) ExpectedDeltaMultiplier(s state.State4D, dir state.Direction) float64 {
	if !v.th.AtBoundary(s.ChannelPos, dir) {
		return 1.0
	}
	for _, b := range deltaBuckets {
		if s.HoldTime >= b.minHold {
			return b.multiplier
		}
	}
	return 1.0
}

// #endregion delta-multiplier
