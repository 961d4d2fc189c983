// Package encoder implements the observation encoders that turn candles
// into State4D estimates: the deterministic rule encoder (the default) and a
// learned encoder that blends an estimator's output with the rule values.
package encoder

import (
	"math"

	"github.com/danielpatrickdp/boundary-state/internal/candle"
	"github.com/danielpatrickdp/boundary-state/internal/ring"
	"github.com/danielpatrickdp/boundary-state/internal/state"
)

// RuleName is the Name of the rule encoder.
const RuleName = "rule"

// #region rule-encoder

// RuleEncoder is the deterministic encoder. Channel position and hold time
// are always computed here, whichever encoder the pipeline runs.
type RuleEncoder struct {
	cfg      Config
	history  *ring.Buffer[candle.Candle]
	forces   *ring.Buffer[float64]
	channels *ring.Buffer[float64]
	highHold int
	lowHold  int
	flipHigh bool // entered the high band from the low band this bar
	flipLow  bool
}

// NewRuleEncoder allocates the rolling windows described by cfg.
func NewRuleEncoder(cfg Config) *RuleEncoder {
	return &RuleEncoder{
		cfg:      cfg,
		history:  ring.New[candle.Candle](cfg.HistoryCap),
		forces:   ring.New[float64](cfg.UncertaintyWindow),
		channels: ring.New[float64](cfg.UncertaintyWindow),
	}
}

func (e *RuleEncoder) Name() string { return RuleName }

// Update appends c to the history and returns the state for this bar.
func (e *RuleEncoder) Update(c candle.Candle) state.State4D {
	e.history.Push(c)

	force := e.force()
	ch := e.channel(c)

	// a jump straight into the opposite band reports 0 for that bar; the new
	// side counts from the next bar
	th := e.cfg.Thresholds
	wasHigh, wasLow := e.highHold > 0 || e.flipHigh, e.lowHold > 0 || e.flipLow
	e.flipHigh, e.flipLow = false, false
	switch {
	case th.AtHigh(ch) && wasLow:
		e.highHold, e.flipHigh = 0, true
	case th.AtHigh(ch):
		e.highHold++
	default:
		e.highHold = 0
	}
	switch {
	case th.AtLow(ch) && wasHigh:
		e.lowHold, e.flipLow = 0, true
	case th.AtLow(ch):
		e.lowHold++
	default:
		e.lowHold = 0
	}

	e.forces.Push(force)
	e.channels.Push(ch.Float64())

	return state.State4D{
		Force:              force,
		ChannelPos:         ch,
		Delta:              c.BodyRatio() * c.Range(),
		HoldTime:           max(e.highHold, e.lowHold),
		ForceUncertainty:   sampleStd(e.forces, e.cfg.UncertaintyWindow),
		ChannelUncertainty: sampleStd(e.channels, e.cfg.UncertaintyWindow),
	}
}

// Reset drops every buffer and hold counter.
func (e *RuleEncoder) Reset() {
	e.history.Reset()
	e.forces.Reset()
	e.channels.Reset()
	e.highHold, e.lowHold = 0, 0
	e.flipHigh, e.flipLow = false, false
}

// #endregion rule-encoder

// #region components

// force sums body ratios of bullish bars minus bearish bars over the force window.
func (e *RuleEncoder) force() float64 {
	var f float64
	for _, c := range e.history.Tail(e.cfg.ForceWindow) {
		switch {
		case c.Bullish():
			f += c.BodyRatio()
		case c.Bearish():
			f -= c.BodyRatio()
		}
	}
	return f
}

// channel locates the close inside the channel window's high/low range.
func (e *RuleEncoder) channel(cur candle.Candle) state.Fixed {
	window := e.history.Tail(e.cfg.ChannelWindow)
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range window {
		lo = math.Min(lo, c.Low)
		hi = math.Max(hi, c.High)
	}
	rng := hi - lo
	if !(rng > 0) {
		return state.FixedHalf
	}
	return state.ToFixed(state.Clamp((cur.Close-lo)/rng, 0, 1))
}

// sampleStd is the n-1 standard deviation of the last window values, or 1.0
// until the window is full.
func sampleStd(b *ring.Buffer[float64], window int) float64 {
	if window < 2 || b.Len() < window {
		return 1.0
	}
	vals := b.Tail(window)
	var mean float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	var ss float64
	for _, v := range vals {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}

// lastTwo returns the newest two candles for feature building.
func (e *RuleEncoder) lastTwo() (prev, cur candle.Candle, ok bool) {
	tail := e.history.Tail(2)
	if len(tail) < 2 {
		return candle.Candle{}, candle.Candle{}, false
	}
	return tail[0], tail[1], true
}

// #endregion components
