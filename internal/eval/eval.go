// Package eval checks encoder output against the contract every encoder
// must honour before its state reaches the validator: channel in [0,1],
// hold time non-negative, finite force and delta, and both uncertainties
// present and non-negative.
package eval

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/boundary-state/internal/state"
)

// #region eval-harness
// EvalHarness runs the output-validity checks.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run checks s. Any failing blocking check fails the result; the force
// magnitude check is recorded but never blocks.
func (h *EvalHarness) Run(s state.State4D) EvalResult {
	var metrics []EvalMetric
	var failReasons []string

	check := func(name string, value float64, pass bool, reason string) {
		metrics = append(metrics, EvalMetric{Name: name, Value: value, Pass: pass})
		if !pass {
			failReasons = append(failReasons, reason)
		}
	}

	// 1. Channel position range
	check("channel_pos", s.ChannelPos.Float64(), s.ChannelPos.InUnit(),
		fmt.Sprintf("channel_pos %s outside [0,1]", s.ChannelPos))

	// 2. Hold time
	check("hold_time", float64(s.HoldTime), s.HoldTime >= 0,
		fmt.Sprintf("hold_time %d is negative", s.HoldTime))

	// 3. Force and delta are real numbers
	check("force_finite", s.Force, state.Finite(s.Force),
		fmt.Sprintf("force %v is not finite", s.Force))
	deltaOK := state.Finite(s.Delta) && (!h.config.RequireDeltaFloor || s.Delta >= 0)
	check("delta", s.Delta, deltaOK, fmt.Sprintf("delta %v invalid", s.Delta))

	// 4. Uncertainties: NaN is how a missing field arrives
	for _, u := range []struct {
		name string
		v    float64
	}{
		{"force_uncertainty", s.ForceUncertainty},
		{"channel_uncertainty", s.ChannelUncertainty},
	} {
		switch {
		case math.IsNaN(u.v):
			check(u.name, u.v, false, u.name+" missing")
		default:
			check(u.name, u.v, u.v >= 0 && u.v <= h.config.MaxUncertainty,
				fmt.Sprintf("%s %v out of range", u.name, u.v))
		}
	}

	// 5. Force magnitude: informational only
	metrics = append(metrics, EvalMetric{
		Name:  "force_magnitude",
		Value: math.Abs(s.Force),
		Pass:  math.Abs(s.Force) <= h.config.MaxAbsForce,
	})

	reason := "all checks passed"
	if len(failReasons) == 1 {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
	} else if len(failReasons) > 1 {
		reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
	}

	return EvalResult{
		Passed:  len(failReasons) == 0,
		Metrics: metrics,
		Reason:  reason,
	}
}

// #endregion eval-harness

// #region helpers
// Metric returns the named metric, if present.
func (r EvalResult) Metric(name string) (EvalMetric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return EvalMetric{}, false
}

// #endregion helpers
